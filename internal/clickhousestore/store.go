// Package clickhousestore wraps the ClickHouse driver connection, minus
// the sentry tracing span (dropped — no APM surface in this core).
package clickhousestore

import (
	"fmt"

	clickhouse_go "github.com/ClickHouse/clickhouse-go/v2"
	"github.com/ClickHouse/clickhouse-go/v2/lib/driver"

	"github.com/ridgeline/meterbill/internal/config"
)

type Store struct {
	conn driver.Conn
}

func NewStore(cfg *config.Configuration) (*Store, error) {
	conn, err := clickhouse_go.Open(&clickhouse_go.Options{
		Addr: []string{cfg.ClickHouse.Address},
		Auth: clickhouse_go.Auth{
			Database: cfg.ClickHouse.Database,
			Username: cfg.ClickHouse.Username,
			Password: cfg.ClickHouse.Password,
		},
	})
	if err != nil {
		return nil, fmt.Errorf("init clickhouse client: %w", err)
	}
	return &Store{conn: conn}, nil
}

func (s *Store) Conn() driver.Conn {
	return s.conn
}

func (s *Store) Close() error {
	return s.conn.Close()
}
