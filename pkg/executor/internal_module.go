package executor

import (
	"context"
	"strings"

	"github.com/jmoiron/sqlx"
	"go.uber.org/zap"

	"github.com/ajitpratap0/datasync/pkg/datasource"
	"github.com/ajitpratap0/datasync/pkg/errors"
	"github.com/ajitpratap0/datasync/pkg/logger"
)

// InternalModuleExecutor runs read-only queries against the application's
// own database, where internal modules keep their fact and dimension tables.
type InternalModuleExecutor struct {
	db     *sqlx.DB
	logger *zap.Logger
}

// NewInternalModuleExecutor creates an executor over db.
func NewInternalModuleExecutor(db *sqlx.DB, log *zap.Logger) *InternalModuleExecutor {
	return &InternalModuleExecutor{
		db:     db,
		logger: logger.OrNop(log).With(zap.String("executor", "internal_module")),
	}
}

func (e *InternalModuleExecutor) config(ds *datasource.DataSource) (*datasource.InternalModuleConfig, error) {
	cfg, ok := ds.Config.(*datasource.InternalModuleConfig)
	if !ok {
		return nil, errors.Newf(errors.ErrorTypeConfig, "data source %s is not an internal module source", ds.ID)
	}
	if !isReadOnlyQuery(cfg.Query) {
		verr := errors.NewValidationError("connectionConfig")
		verr.Add("query", "must be a single SELECT statement")
		return nil, verr
	}
	if e.db == nil {
		return nil, errors.NewConnectionError(ds.ID, "connect", errors.New(errors.ErrorTypeConfig, "no application database configured"))
	}
	return cfg, nil
}

// Test pings the database and checks the query plans.
func (e *InternalModuleExecutor) Test(ctx context.Context, ds *datasource.DataSource) error {
	cfg, err := e.config(ds)
	if err != nil {
		return err
	}
	if err := e.db.PingContext(ctx); err != nil {
		return errors.NewConnectionError(ds.ID, "ping", err)
	}
	if _, err := e.db.ExecContext(ctx, "EXPLAIN "+strings.TrimSuffix(strings.TrimSpace(cfg.Query), ";")); err != nil {
		return errors.NewConnectionError(ds.ID, "explain", err)
	}
	return nil
}

// Extract runs the module query.
func (e *InternalModuleExecutor) Extract(ctx context.Context, ds *datasource.DataSource, emit EmitFunc) error {
	cfg, err := e.config(ds)
	if err != nil {
		return err
	}
	e.logger.Debug("running module query",
		zap.String("module", cfg.ModuleName),
		zap.String("fact_table", cfg.FactTable))
	if err := scanRows(ctx, e.db, cfg.Query, emit); err != nil {
		if errors.TypeOf(err) != errors.ErrorTypeInternal {
			return err
		}
		return errors.NewConnectionError(ds.ID, "query", err)
	}
	return nil
}
