package executor

import (
	"context"
	"fmt"
	"net"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/go-sql-driver/mysql"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jmoiron/sqlx"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.mongodb.org/mongo-driver/mongo/readpref"
	"go.uber.org/zap"

	"github.com/ajitpratap0/datasync/pkg/datasource"
	"github.com/ajitpratap0/datasync/pkg/errors"
	"github.com/ajitpratap0/datasync/pkg/logger"
)

// DatabaseExecutor reads postgres, mysql and mongodb sources. Connections
// are opened per run and closed when it ends.
type DatabaseExecutor struct {
	logger         *zap.Logger
	connectTimeout time.Duration
	maxConns       int32
}

// NewDatabaseExecutor creates a DatabaseExecutor.
func NewDatabaseExecutor(log *zap.Logger) *DatabaseExecutor {
	return &DatabaseExecutor{
		logger:         logger.OrNop(log).With(zap.String("executor", "database")),
		connectTimeout: 10 * time.Second,
		maxConns:       4,
	}
}

func databaseConfig(ds *datasource.DataSource) (*datasource.DatabaseConfig, error) {
	cfg, ok := ds.Config.(*datasource.DatabaseConfig)
	if !ok {
		return nil, errors.Newf(errors.ErrorTypeConfig, "data source %s is not a database source", ds.ID)
	}
	out := *cfg
	if out.Driver == "" {
		out.Driver = datasource.DriverPostgres
	}
	if out.Port == 0 {
		out.Port = datasource.DefaultPort(out.Driver)
	}
	return &out, nil
}

// Test opens a connection and pings the server.
func (e *DatabaseExecutor) Test(ctx context.Context, ds *datasource.DataSource) error {
	cfg, err := databaseConfig(ds)
	if err != nil {
		return err
	}

	switch cfg.Driver {
	case datasource.DriverMySQL:
		db, err := e.openMySQL(cfg)
		if err != nil {
			return errors.NewConnectionError(ds.ID, "open", err)
		}
		defer db.Close()
		if err := db.PingContext(ctx); err != nil {
			return errors.NewConnectionError(ds.ID, "ping", err)
		}
	case datasource.DriverMongoDB:
		client, err := e.openMongo(ctx, cfg)
		if err != nil {
			return errors.NewConnectionError(ds.ID, "connect", err)
		}
		defer disconnect(client)
		if err := client.Ping(ctx, readpref.Primary()); err != nil {
			return errors.NewConnectionError(ds.ID, "ping", err)
		}
	default:
		pool, err := e.openPostgres(ctx, cfg)
		if err != nil {
			return errors.NewConnectionError(ds.ID, "connect", err)
		}
		defer pool.Close()
		if err := pool.Ping(ctx); err != nil {
			return errors.NewConnectionError(ds.ID, "ping", err)
		}
	}
	return nil
}

// Extract reads every row of the configured table or query.
func (e *DatabaseExecutor) Extract(ctx context.Context, ds *datasource.DataSource, emit EmitFunc) error {
	cfg, err := databaseConfig(ds)
	if err != nil {
		return err
	}
	if strings.TrimSpace(cfg.Table) == "" && strings.TrimSpace(cfg.Query) == "" {
		verr := errors.NewValidationError("connectionConfig")
		verr.Add("table", "table or query is required to sync")
		return verr
	}

	switch cfg.Driver {
	case datasource.DriverMySQL:
		return e.extractMySQL(ctx, ds.ID, cfg, emit)
	case datasource.DriverMongoDB:
		return e.extractMongo(ctx, ds.ID, cfg, emit)
	default:
		return e.extractPostgres(ctx, ds.ID, cfg, emit)
	}
}

// postgresDSN builds a postgres URL from cfg.
func postgresDSN(cfg *datasource.DatabaseConfig) string {
	u := url.URL{
		Scheme: "postgres",
		User:   url.UserPassword(cfg.Username, cfg.Password),
		Host:   net.JoinHostPort(cfg.Host, strconv.Itoa(cfg.Port)),
		Path:   "/" + cfg.Database,
	}
	if cfg.Password == "" {
		u.User = url.User(cfg.Username)
	}
	q := url.Values{}
	if cfg.SSLMode != "" {
		q.Set("sslmode", cfg.SSLMode)
	}
	u.RawQuery = q.Encode()
	return u.String()
}

func (e *DatabaseExecutor) openPostgres(ctx context.Context, cfg *datasource.DatabaseConfig) (*pgxpool.Pool, error) {
	poolConfig, err := pgxpool.ParseConfig(postgresDSN(cfg))
	if err != nil {
		return nil, fmt.Errorf("parse connection string: %w", err)
	}
	poolConfig.MaxConns = e.maxConns
	poolConfig.MinConns = 0
	poolConfig.MaxConnIdleTime = time.Minute
	poolConfig.ConnConfig.ConnectTimeout = e.connectTimeout

	return pgxpool.NewWithConfig(ctx, poolConfig)
}

func postgresQuery(cfg *datasource.DatabaseConfig) string {
	if strings.TrimSpace(cfg.Query) != "" {
		return cfg.Query
	}
	return "SELECT * FROM " + pgx.Identifier(strings.Split(cfg.Table, ".")).Sanitize()
}

func (e *DatabaseExecutor) extractPostgres(ctx context.Context, id string, cfg *datasource.DatabaseConfig, emit EmitFunc) error {
	pool, err := e.openPostgres(ctx, cfg)
	if err != nil {
		return errors.NewConnectionError(id, "connect", err)
	}
	defer pool.Close()

	rows, err := pool.Query(ctx, postgresQuery(cfg))
	if err != nil {
		return errors.NewConnectionError(id, "query", err)
	}
	defer rows.Close()

	fields := rows.FieldDescriptions()
	for rows.Next() {
		values, err := rows.Values()
		if err != nil {
			return errors.Wrap(err, errors.ErrorTypeData, "failed to get row values")
		}
		record := make(map[string]interface{}, len(values))
		for i, v := range values {
			if i < len(fields) {
				record[fields[i].Name] = convertValue(v)
			}
		}
		if err := emit(record); err != nil {
			return err
		}
	}
	if err := rows.Err(); err != nil {
		return errors.NewConnectionError(id, "read", err)
	}
	return nil
}

// mysqlConfig builds the driver config for cfg.
func (e *DatabaseExecutor) mysqlConfig(cfg *datasource.DatabaseConfig) *mysql.Config {
	mc := mysql.NewConfig()
	mc.User = cfg.Username
	mc.Passwd = cfg.Password
	mc.Net = "tcp"
	mc.Addr = net.JoinHostPort(cfg.Host, strconv.Itoa(cfg.Port))
	mc.DBName = cfg.Database
	mc.ParseTime = true
	mc.Timeout = e.connectTimeout
	if cfg.SSLMode != "" && cfg.SSLMode != "disable" {
		mc.TLSConfig = "true"
	}
	return mc
}

func (e *DatabaseExecutor) openMySQL(cfg *datasource.DatabaseConfig) (*sqlx.DB, error) {
	db, err := sqlx.Open("mysql", e.mysqlConfig(cfg).FormatDSN())
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(int(e.maxConns))
	return db, nil
}

func mysqlQuery(cfg *datasource.DatabaseConfig) string {
	if strings.TrimSpace(cfg.Query) != "" {
		return cfg.Query
	}
	parts := strings.Split(cfg.Table, ".")
	for i, p := range parts {
		parts[i] = "`" + strings.ReplaceAll(p, "`", "``") + "`"
	}
	return "SELECT * FROM " + strings.Join(parts, ".")
}

func (e *DatabaseExecutor) extractMySQL(ctx context.Context, id string, cfg *datasource.DatabaseConfig, emit EmitFunc) error {
	db, err := e.openMySQL(cfg)
	if err != nil {
		return errors.NewConnectionError(id, "open", err)
	}
	defer db.Close()

	if err := scanRows(ctx, db, mysqlQuery(cfg), emit); err != nil {
		if errors.TypeOf(err) != errors.ErrorTypeInternal {
			return err
		}
		return errors.NewConnectionError(id, "query", err)
	}
	return nil
}

func mongoURI(cfg *datasource.DatabaseConfig) string {
	u := url.URL{
		Scheme: "mongodb",
		Host:   net.JoinHostPort(cfg.Host, strconv.Itoa(cfg.Port)),
		Path:   "/" + cfg.Database,
	}
	if cfg.Password != "" {
		u.User = url.UserPassword(cfg.Username, cfg.Password)
	} else {
		u.User = url.User(cfg.Username)
	}
	return u.String()
}

func (e *DatabaseExecutor) openMongo(ctx context.Context, cfg *datasource.DatabaseConfig) (*mongo.Client, error) {
	opts := options.Client().
		ApplyURI(mongoURI(cfg)).
		SetConnectTimeout(e.connectTimeout).
		SetServerSelectionTimeout(e.connectTimeout).
		SetMaxPoolSize(uint64(e.maxConns))
	return mongo.Connect(ctx, opts)
}

func disconnect(client *mongo.Client) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_ = client.Disconnect(ctx)
}

// mongoFilter parses query as an extended JSON filter document.
func mongoFilter(query string) (bson.M, error) {
	filter := bson.M{}
	if strings.TrimSpace(query) == "" {
		return filter, nil
	}
	if err := bson.UnmarshalExtJSON([]byte(query), false, &filter); err != nil {
		verr := errors.NewValidationError("connectionConfig")
		verr.Addf("query", "must be a JSON filter document: %v", err)
		return nil, verr
	}
	return filter, nil
}

func (e *DatabaseExecutor) extractMongo(ctx context.Context, id string, cfg *datasource.DatabaseConfig, emit EmitFunc) error {
	if strings.TrimSpace(cfg.Table) == "" {
		verr := errors.NewValidationError("connectionConfig")
		verr.Add("table", "collection name is required for mongodb")
		return verr
	}
	filter, err := mongoFilter(cfg.Query)
	if err != nil {
		return err
	}

	client, err := e.openMongo(ctx, cfg)
	if err != nil {
		return errors.NewConnectionError(id, "connect", err)
	}
	defer disconnect(client)

	cursor, err := client.Database(cfg.Database).Collection(cfg.Table).Find(ctx, filter)
	if err != nil {
		return errors.NewConnectionError(id, "find", err)
	}
	defer cursor.Close(ctx)

	for cursor.Next(ctx) {
		var doc bson.M
		if err := cursor.Decode(&doc); err != nil {
			return errors.Wrap(err, errors.ErrorTypeData, "failed to decode document")
		}
		if err := emit(convertDocument(doc)); err != nil {
			return err
		}
	}
	if err := cursor.Err(); err != nil {
		return errors.NewConnectionError(id, "read", err)
	}
	return nil
}

// convertDocument flattens BSON specific types into plain values.
func convertDocument(doc bson.M) map[string]interface{} {
	out := make(map[string]interface{}, len(doc))
	for k, v := range doc {
		out[k] = convertBSON(v)
	}
	return out
}

func convertBSON(v interface{}) interface{} {
	switch t := v.(type) {
	case primitive.ObjectID:
		return t.Hex()
	case primitive.DateTime:
		return t.Time().UTC().Format(time.RFC3339Nano)
	case primitive.Decimal128:
		return t.String()
	case bson.M:
		return convertDocument(t)
	case bson.D:
		return convertDocument(t.Map())
	case bson.A:
		out := make([]interface{}, len(t))
		for i, item := range t {
			out[i] = convertBSON(item)
		}
		return out
	default:
		return v
	}
}
