package jobstore

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/surrealdb/surrealdb.go"
	"github.com/surrealdb/surrealdb.go/contrib/rews"
	"github.com/surrealdb/surrealdb.go/pkg/connection"
	"github.com/surrealdb/surrealdb.go/pkg/connection/gorillaws"
	"github.com/surrealdb/surrealdb.go/pkg/logger"
	"github.com/surrealdb/surrealdb.go/surrealcbor"
)

func init() {
	// Force HTTP/1.1 for WSS connections to prevent HTTP/2 ALPN negotiation.
	// WebSocket upgrade requires HTTP/1.1 semantics which fail under HTTP/2.
	gorillaws.DefaultDialer.TLSClientConfig = &tls.Config{
		NextProtos: []string{"http/1.1"},
	}
}

const kvTable = "onboard_kv"

const kvSchemaSQL = `DEFINE TABLE IF NOT EXISTS onboard_kv SCHEMALESS;`

// SurrealConfig holds SurrealDB connection configuration.
type SurrealConfig struct {
	URL       string
	Namespace string
	Database  string
	Username  string
	Password  string
	AuthLevel string // "root" or "database"
}

// SurrealKV stores keys as records of one SurrealDB table, so several
// machines can share the wizard state.
type SurrealKV struct {
	conn   *rews.Connection[*gorillaws.Connection]
	db     *surrealdb.DB
	logger logger.Logger
}

// NewSurrealKV connects with an auto-reconnecting WebSocket and ensures the table exists.
func NewSurrealKV(ctx context.Context, cfg SurrealConfig, log *slog.Logger) (*SurrealKV, error) {
	if log == nil {
		log = slog.Default()
	}
	sdkLogger := logger.New(log.Handler())

	// surrealcbor handles SurrealDB custom tags
	codec := surrealcbor.New()

	// gorillaws adds /rpc itself
	baseURL := strings.TrimSuffix(cfg.URL, "/rpc")

	conn := rews.New(
		func(ctx context.Context) (*gorillaws.Connection, error) {
			ws := gorillaws.New(&connection.Config{
				BaseURL:     baseURL,
				Marshaler:   codec,
				Unmarshaler: codec,
				Logger:      sdkLogger,
			})
			return ws, nil
		},
		5*time.Second,
		codec,
		sdkLogger,
	)

	retryer := rews.NewExponentialBackoffRetryer()
	retryer.InitialDelay = 1 * time.Second
	retryer.MaxDelay = 30 * time.Second
	retryer.Multiplier = 2.0
	retryer.MaxRetries = 5
	conn.Retryer = retryer

	sdkLogger.Info("connecting to SurrealDB", "url", cfg.URL)
	if err := conn.Connect(ctx); err != nil {
		return nil, fmt.Errorf("connect: %w", err)
	}

	db, err := surrealdb.FromConnection(ctx, conn)
	if err != nil {
		_ = conn.Close(ctx)
		return nil, fmt.Errorf("from connection: %w", err)
	}

	if cfg.AuthLevel == "database" {
		_, err = db.SignIn(ctx, surrealdb.Auth{
			Namespace: cfg.Namespace,
			Database:  cfg.Database,
			Username:  cfg.Username,
			Password:  cfg.Password,
		})
	} else {
		_, err = db.SignIn(ctx, surrealdb.Auth{
			Username: cfg.Username,
			Password: cfg.Password,
		})
	}
	if err != nil {
		_ = conn.Close(ctx)
		return nil, fmt.Errorf("signin: %w", err)
	}

	if err := db.Use(ctx, cfg.Namespace, cfg.Database); err != nil {
		_ = conn.Close(ctx)
		return nil, fmt.Errorf("use: %w", err)
	}

	if _, err := surrealdb.Query[any](ctx, db, kvSchemaSQL, nil); err != nil {
		_ = conn.Close(ctx)
		return nil, fmt.Errorf("init schema: %w", err)
	}

	return &SurrealKV{conn: conn, db: db, logger: sdkLogger}, nil
}

// Close closes the SurrealDB connection.
func (s *SurrealKV) Close(ctx context.Context) error {
	return s.conn.Close(ctx)
}

func (s *SurrealKV) Get(ctx context.Context, key string) (string, error) {
	results, err := surrealdb.Query[[]string](ctx, s.db,
		`SELECT VALUE value FROM type::record($table, $key)`,
		map[string]any{"table": kvTable, "key": key})
	if err != nil {
		return "", wrapQueryError(err)
	}
	if results == nil || len(*results) == 0 || len((*results)[0].Result) == 0 {
		return "", ErrNotFound
	}
	return (*results)[0].Result[0], nil
}

func (s *SurrealKV) SetMany(ctx context.Context, entries map[string]string) error {
	rows := make([]map[string]any, 0, len(entries))
	for k, v := range entries {
		rows = append(rows, map[string]any{"key": k, "value": v})
	}

	_, err := surrealdb.Query[any](ctx, s.db, `
		BEGIN TRANSACTION;
		FOR $row IN $rows {
			UPSERT type::record($table, $row.key) SET value = $row.value;
		};
		COMMIT TRANSACTION;
	`, map[string]any{"table": kvTable, "rows": rows})
	return wrapQueryError(err)
}

func (s *SurrealKV) Delete(ctx context.Context, keys ...string) error {
	_, err := surrealdb.Query[any](ctx, s.db, `
		BEGIN TRANSACTION;
		FOR $key IN $keys {
			DELETE type::record($table, $key);
		};
		COMMIT TRANSACTION;
	`, map[string]any{"table": kvTable, "keys": keys})
	return wrapQueryError(err)
}

// wrapQueryError maps SurrealDB query errors onto the package sentinels.
func wrapQueryError(err error) error {
	if err == nil {
		return nil
	}

	var queryErr *surrealdb.QueryError
	if errors.As(err, &queryErr) && strings.Contains(queryErr.Message, "Transaction conflict") {
		return fmt.Errorf("%w: %s", ErrConflict, queryErr.Message)
	}
	return fmt.Errorf("surrealdb: %w", err)
}
