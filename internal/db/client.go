// Package db provides the SurrealDB search index with auto-reconnect support.
package db

import (
	"context"
	"crypto/tls"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/raphaelgruber/moviesync/internal/models"
	"github.com/surrealdb/surrealdb.go"
	"github.com/surrealdb/surrealdb.go/contrib/rews"
	"github.com/surrealdb/surrealdb.go/pkg/connection"
	"github.com/surrealdb/surrealdb.go/pkg/connection/gorillaws"
	"github.com/surrealdb/surrealdb.go/pkg/logger"
	"github.com/surrealdb/surrealdb.go/surrealcbor"
)

func init() {
	// WebSocket upgrade needs HTTP/1.1; stop WSS from negotiating HTTP/2 via ALPN.
	gorillaws.DefaultDialer.TLSClientConfig = &tls.Config{
		NextProtos: []string{"http/1.1"},
	}
}

// Config holds SurrealDB connection configuration.
type Config struct {
	URL       string
	Namespace string
	Database  string
	Username  string
	Password  string
	AuthLevel string // "root" or "database"

	// DialTimeout bounds each websocket handshake. Zero means 5s.
	DialTimeout time.Duration
	// MaxReconnects caps reconnect attempts after a dropped socket. Zero means 10.
	MaxReconnects int
}

// Client is the search index backed by SurrealDB. Each index is a table with
// a BM25 full-text index per text field.
type Client struct {
	conn *rews.Connection[*gorillaws.Connection]
	db   *surrealdb.DB
	cfg  Config
	log  *slog.Logger
}

// NewClient connects, signs in and selects the namespace and database. A
// dropped socket is re-established in the background with exponential backoff.
func NewClient(ctx context.Context, cfg Config, log *slog.Logger) (*Client, error) {
	if log == nil {
		log = slog.Default()
	}
	if cfg.DialTimeout <= 0 {
		cfg.DialTimeout = 5 * time.Second
	}
	if cfg.MaxReconnects <= 0 {
		cfg.MaxReconnects = 10
	}

	conn := dial(cfg, logger.New(log.Handler()))

	log.Info("connecting to SurrealDB", "url", cfg.URL)
	if err := conn.Connect(ctx); err != nil {
		return nil, fmt.Errorf("%w: connect to %s: %w", models.ErrTransient, cfg.URL, err)
	}

	db, err := surrealdb.FromConnection(ctx, conn)
	if err != nil {
		_ = conn.Close(ctx)
		return nil, fmt.Errorf("%w: from connection: %w", models.ErrTransient, err)
	}

	c := &Client{conn: conn, db: db, cfg: cfg, log: log}
	if err := c.authenticate(ctx); err != nil {
		_ = conn.Close(ctx)
		return nil, err
	}

	log.Info("SurrealDB connection established", "namespace", cfg.Namespace, "database", cfg.Database)
	return c, nil
}

func dial(cfg Config, sdkLogger logger.Logger) *rews.Connection[*gorillaws.Connection] {
	// surrealcbor handles SurrealDB custom tags (record ids, datetimes)
	codec := surrealcbor.New()

	// gorillaws appends /rpc itself
	baseURL := strings.TrimSuffix(cfg.URL, "/rpc")

	conn := rews.New(
		func(ctx context.Context) (*gorillaws.Connection, error) {
			return gorillaws.New(&connection.Config{
				BaseURL:     baseURL,
				Marshaler:   codec,
				Unmarshaler: codec,
				Logger:      sdkLogger,
			}), nil
		},
		cfg.DialTimeout,
		codec,
		sdkLogger,
	)

	retryer := rews.NewExponentialBackoffRetryer()
	retryer.InitialDelay = time.Second
	retryer.MaxDelay = 30 * time.Second
	retryer.MaxRetries = cfg.MaxReconnects
	conn.Retryer = retryer
	return conn
}

// authenticate signs in at root or database level and selects the database.
// Rejected credentials are a configuration problem, not worth retrying.
func (c *Client) authenticate(ctx context.Context) error {
	c.log.Debug("authenticating", "user", c.cfg.Username, "auth_level", c.cfg.AuthLevel)

	auth := surrealdb.Auth{Username: c.cfg.Username, Password: c.cfg.Password}
	if c.cfg.AuthLevel == "database" {
		auth.Namespace = c.cfg.Namespace
		auth.Database = c.cfg.Database
	}
	if _, err := c.db.SignIn(ctx, auth); err != nil {
		return fmt.Errorf("%w: signin as %s: %w", models.ErrConfiguration, c.cfg.Username, err)
	}

	if err := c.db.Use(ctx, c.cfg.Namespace, c.cfg.Database); err != nil {
		return fmt.Errorf("%w: use %s/%s: %w", models.ErrConfiguration, c.cfg.Namespace, c.cfg.Database, err)
	}
	return nil
}

// Close closes the SurrealDB connection.
func (c *Client) Close(ctx context.Context) error {
	c.log.Info("closing SurrealDB connection")
	return c.conn.Close(ctx)
}

// InitSchema defines the tables the pipeline itself owns.
func (c *Client) InitSchema(ctx context.Context) error {
	c.log.Debug("initializing state schema")
	if _, err := surrealdb.Query[any](ctx, c.db, StateSchemaSQL, nil); err != nil {
		return fmt.Errorf("init schema: %w", classifyError(err))
	}
	return nil
}

// WipeIndex deletes every document of an index while preserving its schema,
// so the next pass from a reset watermark rebuilds it from scratch.
func (c *Client) WipeIndex(ctx context.Context, index string) error {
	if !validIdent(index) {
		return fmt.Errorf("%w: invalid index name %q", models.ErrConfiguration, index)
	}
	c.log.Warn("wiping index data", "index", index)
	if _, err := surrealdb.Query[any](ctx, c.db, fmt.Sprintf("DELETE %s", index), nil); err != nil {
		return fmt.Errorf("delete %s: %w", index, classifyError(err))
	}
	return nil
}
