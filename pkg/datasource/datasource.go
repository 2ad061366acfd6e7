// Package datasource defines data sources, their per-type connection
// configuration and the validation applied before any network action.
package datasource

import (
	"fmt"
	"time"

	"github.com/ajitpratap0/datasync/pkg/errors"
	"github.com/ajitpratap0/datasync/pkg/json"
)

// Type identifies the kind of external system a data source points at.
type Type string

const (
	TypeDatabase       Type = "database"
	TypeAPI            Type = "api"
	TypeFile           Type = "file"
	TypeWebhook        Type = "webhook"
	TypeInternalModule Type = "internal_module"
)

// Types lists every supported type.
var Types = []Type{TypeDatabase, TypeAPI, TypeFile, TypeWebhook, TypeInternalModule}

// Valid reports whether t is a known type.
func (t Type) Valid() bool {
	for _, known := range Types {
		if t == known {
			return true
		}
	}
	return false
}

// Status is the operator-controlled state of a data source.
type Status string

const (
	StatusActive   Status = "active"
	StatusInactive Status = "inactive"
	StatusPending  Status = "pending"
	StatusError    Status = "error"
)

// Valid reports whether s is a known status.
func (s Status) Valid() bool {
	switch s {
	case StatusActive, StatusInactive, StatusPending, StatusError:
		return true
	}
	return false
}

// MinSyncFrequencySeconds is the shortest allowed sync interval.
const MinSyncFrequencySeconds = 60

// DataSource is a configured external system to be synchronized.
type DataSource struct {
	ID                   string           `json:"id"`
	Name                 string           `json:"name"`
	Description          string           `json:"description,omitempty"`
	ModuleName           string           `json:"moduleName,omitempty"`
	Type                 Type             `json:"type"`
	Status               Status           `json:"status"`
	Config               ConnectionConfig `json:"-"`
	SyncFrequencySeconds int              `json:"syncFrequencySeconds"`
	LastSyncAt           *time.Time       `json:"lastSyncAt,omitempty"`
	CreatedAt            time.Time        `json:"createdAt"`
	UpdatedAt            time.Time        `json:"updatedAt"`
}

// NewDataSource builds a data source and validates it once.
func NewDataSource(name string, t Type, cfg ConnectionConfig, syncFrequencySeconds int) (*DataSource, error) {
	ds := &DataSource{
		Name:                 name,
		Type:                 t,
		Status:               StatusPending,
		Config:               cfg,
		SyncFrequencySeconds: syncFrequencySeconds,
	}
	if err := ds.Validate(); err != nil {
		return nil, err
	}
	return ds, nil
}

// Validate checks every field of the data source, including its
// connection configuration, and reports all violations together.
func (ds *DataSource) Validate() error {
	verr := errors.NewValidationError("data source")
	if ds.Name == "" {
		verr.Add("name", "is required")
	}
	if ds.Status != "" && !ds.Status.Valid() {
		verr.Addf("status", "unknown status %q", ds.Status)
	}
	if ds.SyncFrequencySeconds < MinSyncFrequencySeconds {
		verr.Addf("syncFrequencySeconds", "must be at least %d", MinSyncFrequencySeconds)
	}
	if err := Validate(ds.Type, ds.Config); err != nil {
		var cfgErr *errors.ValidationError
		if errors.As(err, &cfgErr) {
			for _, v := range cfgErr.Violations {
				if v.Field == "type" {
					verr.Add("type", v.Message)
					continue
				}
				verr.Add("connectionConfig."+v.Field, v.Message)
			}
		} else {
			verr.Add("connectionConfig", err.Error())
		}
	}
	return verr.OrNil()
}

// Syncable returns a validation error when the source may not be synced.
func (ds *DataSource) Syncable() error {
	if ds.Status != StatusActive {
		verr := errors.NewValidationError("data source " + ds.ID)
		verr.Addf("status", "must be %s to sync, is %s", StatusActive, ds.Status)
		return verr
	}
	return nil
}

// NeedsSync reports whether an active source's sync interval has elapsed.
func (ds *DataSource) NeedsSync(now time.Time) bool {
	if ds.Status != StatusActive {
		return false
	}
	if ds.LastSyncAt == nil {
		return true
	}
	return now.Sub(*ds.LastSyncAt) >= time.Duration(ds.SyncFrequencySeconds)*time.Second
}

// Clone returns a deep copy.
func (ds *DataSource) Clone() *DataSource {
	if ds == nil {
		return nil
	}
	out := *ds
	if ds.LastSyncAt != nil {
		t := *ds.LastSyncAt
		out.LastSyncAt = &t
	}
	if ds.Config != nil {
		out.Config = ds.Config.clone()
	}
	return &out
}

// Masked returns a copy whose connection configuration hides secrets.
func (ds *DataSource) Masked() *DataSource {
	out := ds.Clone()
	if out.Config != nil {
		out.Config = out.Config.Mask()
	}
	return out
}

type dataSourceAlias DataSource

type dataSourceJSON struct {
	*dataSourceAlias
	ConnectionConfig json.RawMessage `json:"connectionConfig,omitempty"`
}

// MarshalJSON emits the connection configuration under connectionConfig.
func (ds DataSource) MarshalJSON() ([]byte, error) {
	alias := dataSourceAlias(ds)
	out := dataSourceJSON{dataSourceAlias: &alias}
	if ds.Config != nil {
		raw, err := json.Marshal(ds.Config)
		if err != nil {
			return nil, fmt.Errorf("marshal connection config: %w", err)
		}
		out.ConnectionConfig = raw
	}
	return json.Marshal(out)
}

// UnmarshalJSON decodes connectionConfig into the variant selected by type.
// Shape validation is left to Validate so every violation is reported.
func (ds *DataSource) UnmarshalJSON(data []byte) error {
	in := dataSourceJSON{dataSourceAlias: (*dataSourceAlias)(ds)}
	if err := json.Unmarshal(data, &in); err != nil {
		return err
	}
	if len(in.ConnectionConfig) == 0 || string(in.ConnectionConfig) == "null" || !ds.Type.Valid() {
		ds.Config = nil
		return nil
	}
	cfg, err := DecodeConnectionConfig(ds.Type, in.ConnectionConfig)
	if err != nil {
		return err
	}
	ds.Config = cfg
	return nil
}
