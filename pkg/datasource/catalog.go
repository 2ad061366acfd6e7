package datasource

import (
	"context"
	"fmt"

	"github.com/ajitpratap0/datasync/pkg/errors"
)

// CatalogEntry is the YAML shape of a data source in a seed catalog.
type CatalogEntry struct {
	ID                   string                 `yaml:"id"`
	Name                 string                 `yaml:"name"`
	Description          string                 `yaml:"description"`
	ModuleName           string                 `yaml:"module_name"`
	Type                 Type                   `yaml:"type"`
	Status               Status                 `yaml:"status"`
	SyncFrequencySeconds int                    `yaml:"sync_frequency_seconds"`
	ConnectionConfig     map[string]interface{} `yaml:"connection_config"`
}

// Catalog is a YAML document listing data sources.
type Catalog struct {
	DataSources []CatalogEntry `yaml:"data_sources"`
}

// DataSource converts the entry, applying defaults and validating it.
func (e CatalogEntry) DataSource() (*DataSource, error) {
	ds := &DataSource{
		ID:                   e.ID,
		Name:                 e.Name,
		Description:          e.Description,
		ModuleName:           e.ModuleName,
		Type:                 e.Type,
		Status:               e.Status,
		SyncFrequencySeconds: e.SyncFrequencySeconds,
	}
	if ds.Status == "" {
		ds.Status = StatusActive
	}
	if ds.Type.Valid() && e.ConnectionConfig != nil {
		cfg, err := FromMap(e.Type, e.ConnectionConfig)
		if err != nil {
			return nil, err
		}
		ds.Config = cfg
	}
	if err := ds.Validate(); err != nil {
		return nil, err
	}
	return ds, nil
}

// Validate checks every entry and returns one ValidationError whose fields
// are qualified by the entry position, e.g. data_sources[2].connectionConfig.host.
func (c *Catalog) Validate() error {
	verr := errors.NewValidationError("catalog")
	for i, e := range c.DataSources {
		if _, err := e.DataSource(); err != nil {
			var entryErr *errors.ValidationError
			if errors.As(err, &entryErr) {
				verr.Merge(fmt.Sprintf("data_sources[%d]", i), entryErr)
				continue
			}
			verr.Add(fmt.Sprintf("data_sources[%d]", i), err.Error())
		}
	}
	return verr.OrNil()
}

// Seed validates the catalog and creates every entry in store.
func (c *Catalog) Seed(ctx context.Context, store Store) ([]*DataSource, error) {
	if err := c.Validate(); err != nil {
		return nil, err
	}
	out := make([]*DataSource, 0, len(c.DataSources))
	for _, e := range c.DataSources {
		ds, err := e.DataSource()
		if err != nil {
			return nil, err
		}
		if err := store.Create(ctx, ds); err != nil {
			return nil, fmt.Errorf("seed data source %q: %w", e.Name, err)
		}
		out = append(out, ds)
	}
	return out, nil
}
