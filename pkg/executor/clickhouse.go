package executor

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"reflect"
	"time"

	"github.com/ClickHouse/clickhouse-go/v2"
	"github.com/ClickHouse/clickhouse-go/v2/lib/driver"
)

const defaultClickHouseDialTimeout = 10 * time.Second

type ClickHouseConfig struct {
	Logger   *slog.Logger
	Addr     string
	Database string
	Username string
	Password string
	Secure   bool
}

func (cfg *ClickHouseConfig) Validate() error {
	if cfg.Logger == nil {
		return errors.New("logger is required")
	}
	if cfg.Addr == "" {
		cfg.Addr = "localhost:9000"
	}
	if cfg.Database == "" {
		cfg.Database = "default"
	}
	if cfg.Username == "" {
		cfg.Username = "default"
	}
	return nil
}

// OpenClickHouse opens and pings a native-protocol ClickHouse connection.
func OpenClickHouse(ctx context.Context, cfg ClickHouseConfig) (driver.Conn, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	opts := &clickhouse.Options{
		Addr: []string{cfg.Addr},
		Auth: clickhouse.Auth{
			Database: cfg.Database,
			Username: cfg.Username,
			Password: cfg.Password,
		},
		DialTimeout: defaultClickHouseDialTimeout,
	}
	if cfg.Secure {
		opts.TLS = &tls.Config{}
	}
	conn, err := clickhouse.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("failed to open clickhouse connection: %w", err)
	}
	if err := conn.Ping(ctx); err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to ping clickhouse: %w", err)
	}
	cfg.Logger.Info("clickhouse: connected", "addr", cfg.Addr, "database", cfg.Database)
	return conn, nil
}

// ClickHouseBackend runs statements with readonly=2, which forbids writes but still lets the
// query carry its own max_execution_time.
type ClickHouseBackend struct {
	conn driver.Conn
}

func NewClickHouseBackend(conn driver.Conn) *ClickHouseBackend {
	return &ClickHouseBackend{conn: conn}
}

func (b *ClickHouseBackend) Name() string { return "clickhouse" }

func (b *ClickHouseBackend) Query(ctx context.Context, sql string, limit int, timeout time.Duration) ([]string, [][]any, error) {
	ctx = clickhouse.Context(ctx, clickhouse.WithSettings(clickhouse.Settings{
		"readonly":             2,
		"max_execution_time":   int(math.Ceil(timeout.Seconds())),
		"max_result_rows":      limit,
		"result_overflow_mode": "break",
	}))

	rows, err := b.conn.Query(ctx, sql)
	if err != nil {
		return nil, nil, err
	}
	defer rows.Close()

	columns := rows.Columns()
	types := rows.ColumnTypes()

	var out [][]any
	for rows.Next() {
		if len(out) >= limit {
			break
		}
		dest := make([]any, len(types))
		for i, ct := range types {
			dest[i] = reflect.New(ct.ScanType()).Interface()
		}
		if err := rows.Scan(dest...); err != nil {
			return nil, nil, fmt.Errorf("failed to scan row: %w", err)
		}
		row := make([]any, len(dest))
		for i, d := range dest {
			row[i] = reflect.ValueOf(d).Elem().Interface()
		}
		out = append(out, row)
	}
	if err := rows.Err(); err != nil {
		return nil, nil, err
	}
	return columns, out, nil
}
