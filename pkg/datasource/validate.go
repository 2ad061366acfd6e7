package datasource

import (
	"fmt"

	"github.com/ajitpratap0/datasync/pkg/errors"
)

// Validate checks cfg against the declared data source type. It is pure
// and safe for concurrent use. Every missing or malformed field is listed
// in the returned *errors.ValidationError.
func Validate(t Type, cfg ConnectionConfig) error {
	verr := errors.NewValidationError(fmt.Sprintf("%s connection config", t))

	if !t.Valid() {
		verr.Addf("type", "unknown data source type %q", t)
		return verr
	}
	if cfg == nil {
		// An absent configuration is reported as every required field missing.
		cfg = newVariant(t)
	}
	if cfg.Type() != t {
		verr.Addf("type", "connection config is for %s, data source is %s", cfg.Type(), t)
		return verr
	}

	cfg.validate(verr)
	return verr.OrNil()
}
