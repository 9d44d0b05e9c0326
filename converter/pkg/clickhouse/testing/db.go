package clickhousetesting

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/GeorgeGarkavenko/guess/converter/pkg/clickhouse"
	"github.com/GeorgeGarkavenko/guess/utils/pkg/retry"
	"github.com/docker/go-connections/nat"
	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	tcch "github.com/testcontainers/testcontainers-go/modules/clickhouse"
)

// EnableEnv gates container-backed tests; they are skipped unless it is "1".
const EnableEnv = "GUESS_CLICKHOUSE_IT"

// Enabled reports whether container-backed tests should run.
func Enabled() bool {
	return os.Getenv(EnableEnv) == "1"
}

type DBConfig struct {
	Database       string
	Username       string
	Password       string
	Port           string
	ContainerImage string
}

func (cfg *DBConfig) Validate() error {
	if cfg.Database == "" {
		cfg.Database = "test"
	}
	if cfg.Username == "" {
		cfg.Username = "default"
	}
	if cfg.Password == "" {
		cfg.Password = "password"
	}
	if cfg.Port == "" {
		cfg.Port = "9000"
	}
	if cfg.ContainerImage == "" {
		cfg.ContainerImage = "clickhouse/clickhouse-server:latest"
	}
	return nil
}

// DB is a throwaway ClickHouse server. Each test gets its own database on it.
type DB struct {
	log       *slog.Logger
	cfg       *DBConfig
	addr      string
	container *tcch.ClickHouseContainer
}

var (
	startRetry = retry.Config{
		MaxAttempts: 3,
		BaseBackoff: 750 * time.Millisecond,
		MaxBackoff:  3 * time.Second,
		Retryable:   isRetryableContainerStartErr,
	}
	connectRetry = retry.Config{
		MaxAttempts: 3,
		BaseBackoff: 500 * time.Millisecond,
		MaxBackoff:  2 * time.Second,
		Retryable:   isRetryableConnectionErr,
	}
)

func NewDB(ctx context.Context, log *slog.Logger, cfg *DBConfig) (*DB, error) {
	if cfg == nil {
		cfg = &DBConfig{}
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("failed to validate DB config: %w", err)
	}

	var container *tcch.ClickHouseContainer
	err := retry.Do(ctx, startRetry, func() error {
		c, err := tcch.Run(ctx,
			cfg.ContainerImage,
			tcch.WithDatabase(cfg.Database),
			tcch.WithUsername(cfg.Username),
			tcch.WithPassword(cfg.Password),
		)
		if err != nil {
			return err
		}
		container = c
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to start ClickHouse container: %w", err)
	}

	host, err := container.Host(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to get ClickHouse container host: %w", err)
	}
	mappedPort, err := container.MappedPort(ctx, nat.Port(cfg.Port+"/tcp"))
	if err != nil {
		return nil, fmt.Errorf("failed to get ClickHouse container mapped port: %w", err)
	}

	return &DB{
		log:       log,
		cfg:       cfg,
		addr:      fmt.Sprintf("%s:%s", host, mappedPort.Port()),
		container: container,
	}, nil
}

func (db *DB) Addr() string {
	return db.addr
}

// Config returns client settings for database on this server.
func (db *DB) Config(database string) clickhouse.Config {
	return clickhouse.Config{
		Addr:     db.addr,
		Database: database,
		Username: db.cfg.Username,
		Password: db.cfg.Password,
	}
}

func (db *DB) Close() {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := db.container.Terminate(ctx); err != nil {
		db.log.Error("failed to terminate ClickHouse container", "error", err)
	}
}

// TestDatabase is a freshly created database, dropped when the test ends.
type TestDatabase struct {
	Client clickhouse.Client
	Name   string
	Config clickhouse.Config
}

func NewTestDatabase(t *testing.T, db *DB) *TestDatabase {
	t.Helper()

	admin := connect(t, db, db.cfg.Database)
	adminConn, err := admin.Conn(t.Context())
	require.NoError(t, err)

	name := "test_" + strings.ReplaceAll(uuid.New().String(), "-", "")
	require.NoError(t, clickhouse.CreateDatabase(t.Context(), db.log, adminConn, name))

	client := connect(t, db, name)
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		require.NoError(t, adminConn.Exec(ctx, fmt.Sprintf("DROP DATABASE IF EXISTS %s", name)))
		_ = client.Close()
		_ = admin.Close()
	})
	return &TestDatabase{Client: client, Name: name, Config: db.Config(name)}
}

// connect retries the first handshake; the server may accept connections a moment
// before it answers them.
func connect(t *testing.T, db *DB, database string) clickhouse.Client {
	t.Helper()
	var client clickhouse.Client
	err := retry.Do(t.Context(), connectRetry, func() error {
		c, err := clickhouse.NewClient(t.Context(), db.log, db.Config(database))
		if err != nil {
			return err
		}
		client = c
		return nil
	})
	require.NoError(t, err)
	return client
}

func isRetryableContainerStartErr(err error) bool {
	if err == nil || errors.Is(err, context.Canceled) {
		return false
	}
	s := err.Error()
	return strings.Contains(s, "wait until ready") ||
		strings.Contains(s, "mapped port") ||
		strings.Contains(s, "timeout") ||
		strings.Contains(s, "context deadline exceeded") ||
		strings.Contains(s, "/containers/") && strings.Contains(s, "json")
}

func isRetryableConnectionErr(err error) bool {
	if err == nil {
		return false
	}
	s := err.Error()
	return strings.Contains(s, "handshake") ||
		strings.Contains(s, "packet") ||
		strings.Contains(s, "failed to ping") ||
		strings.Contains(s, "connection refused") ||
		strings.Contains(s, "connection reset") ||
		strings.Contains(s, "dial tcp")
}
