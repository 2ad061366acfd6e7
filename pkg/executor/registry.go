package executor

import (
	"fmt"
	"sort"
	"sync"

	"github.com/jmoiron/sqlx"
	"go.uber.org/zap"

	"github.com/ajitpratap0/datasync/pkg/clients"
	"github.com/ajitpratap0/datasync/pkg/datasource"
	"github.com/ajitpratap0/datasync/pkg/errors"
	"github.com/ajitpratap0/datasync/pkg/logger"
)

// Registry maps data source types to the executor that handles them.
type Registry struct {
	executors map[datasource.Type]Executor
	mu        sync.RWMutex
	logger    *zap.Logger
}

// NewRegistry creates an empty registry.
func NewRegistry(log *zap.Logger) *Registry {
	return &Registry{
		executors: make(map[datasource.Type]Executor),
		logger:    logger.OrNop(log).With(zap.String("component", "executor_registry")),
	}
}

// Register adds the executor for t. Registering a type twice is an error.
func (r *Registry) Register(t datasource.Type, e Executor) error {
	if !t.Valid() {
		return errors.New(errors.ErrorTypeConfig, fmt.Sprintf("unknown data source type %q", t))
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.executors[t]; exists {
		return errors.New(errors.ErrorTypeConfig, fmt.Sprintf("executor for %s already registered", t))
	}

	r.executors[t] = e
	r.logger.Debug("executor registered", zap.String("type", string(t)))
	return nil
}

// Get returns the executor for t.
func (r *Registry) Get(t datasource.Type) (Executor, error) {
	r.mu.RLock()
	e, exists := r.executors[t]
	r.mu.RUnlock()

	if !exists {
		return nil, errors.New(errors.ErrorTypeConfig, fmt.Sprintf("no executor registered for %s", t))
	}
	return e, nil
}

// Types returns the registered types, sorted.
func (r *Registry) Types() []datasource.Type {
	r.mu.RLock()
	defer r.mu.RUnlock()

	types := make([]datasource.Type, 0, len(r.executors))
	for t := range r.executors {
		types = append(types, t)
	}
	sort.Slice(types, func(i, j int) bool { return types[i] < types[j] })
	return types
}

// Dependencies are the shared resources the built-in executors need.
type Dependencies struct {
	HTTP        *clients.HTTPClient
	AppDB       *sqlx.DB
	FileBaseDir string
}

// NewDefaultRegistry registers an executor for every data source type.
func NewDefaultRegistry(deps Dependencies, log *zap.Logger) (*Registry, error) {
	if deps.HTTP == nil {
		deps.HTTP = clients.NewHTTPClient(nil, log)
	}
	r := NewRegistry(log)
	for t, e := range map[datasource.Type]Executor{
		datasource.TypeDatabase:       NewDatabaseExecutor(log),
		datasource.TypeAPI:            NewAPIExecutor(deps.HTTP, log),
		datasource.TypeFile:           NewFileExecutor(deps.FileBaseDir, log),
		datasource.TypeWebhook:        NewWebhookExecutor(deps.HTTP, log),
		datasource.TypeInternalModule: NewInternalModuleExecutor(deps.AppDB, log),
	} {
		if err := r.Register(t, e); err != nil {
			return nil, err
		}
	}
	return r, nil
}
