// Package db is the SurrealDB implementation of store.Store.
package db

import (
	"context"
	"crypto/tls"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/raphaelgruber/methodkb/internal/config"
	"github.com/raphaelgruber/methodkb/internal/metrics"
	"github.com/raphaelgruber/methodkb/internal/store"
	"github.com/surrealdb/surrealdb.go"
	"github.com/surrealdb/surrealdb.go/contrib/rews"
	"github.com/surrealdb/surrealdb.go/pkg/connection"
	"github.com/surrealdb/surrealdb.go/pkg/connection/gorillaws"
	"github.com/surrealdb/surrealdb.go/pkg/logger"
	"github.com/surrealdb/surrealdb.go/surrealcbor"
)

func init() {
	// WebSocket upgrades fail when wss negotiates HTTP/2 via ALPN.
	gorillaws.DefaultDialer.TLSClientConfig = &tls.Config{
		NextProtos: []string{"http/1.1"},
	}
}

const (
	AuthRoot     = "root"
	AuthDatabase = "database"
)

// Config holds SurrealDB connection settings.
type Config struct {
	URL       string
	Namespace string
	Database  string
	Username  string
	Password  string
	AuthLevel string // AuthRoot or AuthDatabase

	// DialTimeout bounds a single websocket (re)connect. Zero means 5s.
	DialTimeout time.Duration
}

// Client is a store.Store backed by an auto-reconnecting SurrealDB
// websocket connection.
type Client struct {
	conn    *rews.Connection[*gorillaws.Connection]
	db      *surrealdb.DB
	log     *slog.Logger
	metrics *metrics.Collector
}

var _ store.Store = (*Client)(nil)

// ConfigFrom extracts the connection settings from the application config.
func ConfigFrom(cfg config.Config) Config {
	return Config{
		URL:         cfg.SurrealDBURL,
		Namespace:   cfg.SurrealDBNamespace,
		Database:    cfg.SurrealDBDatabase,
		Username:    cfg.SurrealDBUser,
		Password:    cfg.SurrealDBPass,
		AuthLevel:   cfg.SurrealDBAuthLevel,
		DialTimeout: cfg.DBTimeout,
	}
}

// rpcBase strips the /rpc suffix; gorillaws appends it itself.
func rpcBase(url string) string {
	return strings.TrimSuffix(strings.TrimRight(url, "/"), "/rpc")
}

// NewClient connects, signs in and selects the namespace and database.
// collector and log may be nil.
func NewClient(ctx context.Context, cfg Config, collector *metrics.Collector, log *slog.Logger) (*Client, error) {
	if log == nil {
		log = slog.Default()
	}
	log = log.With("component", "surrealdb")
	sdkLogger := logger.New(log.Handler())
	codec := surrealcbor.New()

	dialTimeout := cfg.DialTimeout
	if dialTimeout <= 0 {
		dialTimeout = 5 * time.Second
	}
	base := rpcBase(cfg.URL)
	conn := rews.New(
		func(ctx context.Context) (*gorillaws.Connection, error) {
			return gorillaws.New(&connection.Config{
				BaseURL:     base,
				Marshaler:   codec,
				Unmarshaler: codec,
				Logger:      sdkLogger,
			}), nil
		},
		dialTimeout,
		codec,
		sdkLogger,
	)

	retryer := rews.NewExponentialBackoffRetryer()
	retryer.InitialDelay = time.Second
	retryer.MaxDelay = 30 * time.Second
	retryer.Multiplier = 2.0
	retryer.MaxRetries = 10
	conn.Retryer = retryer

	start := time.Now()
	if err := conn.Connect(ctx); err != nil {
		return nil, fmt.Errorf("connect %s: %w", base, err)
	}
	db, err := surrealdb.FromConnection(ctx, conn)
	if err != nil {
		_ = conn.Close(ctx)
		return nil, fmt.Errorf("from connection: %w", err)
	}
	if err := signIn(ctx, db, cfg); err != nil {
		_ = conn.Close(ctx)
		return nil, err
	}
	if err := db.Use(ctx, cfg.Namespace, cfg.Database); err != nil {
		_ = conn.Close(ctx)
		return nil, fmt.Errorf("use %s/%s: %w", cfg.Namespace, cfg.Database, err)
	}

	log.Info("graph store connected",
		"url", base,
		"namespace", cfg.Namespace,
		"database", cfg.Database,
		"auth_level", cfg.AuthLevel,
		"duration_ms", time.Since(start).Milliseconds())
	return &Client{conn: conn, db: db, log: log, metrics: collector}, nil
}

func signIn(ctx context.Context, db *surrealdb.DB, cfg Config) error {
	auth := surrealdb.Auth{Username: cfg.Username, Password: cfg.Password}
	switch cfg.AuthLevel {
	case AuthDatabase:
		auth.Namespace = cfg.Namespace
		auth.Database = cfg.Database
	case AuthRoot, "":
	default:
		return fmt.Errorf("signin: unknown auth level %q", cfg.AuthLevel)
	}
	if _, err := db.SignIn(ctx, auth); err != nil {
		return fmt.Errorf("signin as %s: %w", cfg.Username, err)
	}
	return nil
}

// Close closes the connection and stops reconnect attempts.
func (c *Client) Close(ctx context.Context) error {
	c.log.Debug("closing graph store connection")
	return c.conn.Close(ctx)
}

// InitSchema defines the pipeline tables, relations and indexes.
// It is idempotent.
func (c *Client) InitSchema(ctx context.Context) error {
	defer c.metrics.Time(metrics.OpDBQuery)()
	if _, err := surrealdb.Query[any](ctx, c.db, SchemaSQL, nil); err != nil {
		return fmt.Errorf("init schema: %w", wrapQueryError(err))
	}
	c.log.Debug("schema ready", "tables", len(recordTables), "relations", len(relationTables))
	return nil
}

// Query runs raw SurrealQL. Used by tests and ad-hoc inspection.
func (c *Client) Query(ctx context.Context, sql string, vars map[string]any) (*[]surrealdb.QueryResult[any], error) {
	defer c.metrics.Time(metrics.OpDBQuery)()
	res, err := surrealdb.Query[any](ctx, c.db, sql, vars)
	return res, wrapQueryError(err)
}

// WipeData deletes every pipeline record while keeping the schema.
// Relations go first so no edge outlives its endpoints.
func (c *Client) WipeData(ctx context.Context) error {
	tables := append(append([]string{}, relationTables...), recordTables...)
	for _, table := range tables {
		if _, err := surrealdb.Query[any](ctx, c.db, "DELETE "+table, nil); err != nil {
			return fmt.Errorf("delete %s: %w", table, wrapQueryError(err))
		}
	}
	c.log.Warn("graph store wiped", "tables", len(tables))
	return nil
}
