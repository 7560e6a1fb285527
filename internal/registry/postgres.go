package registry

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"portraitstudio/internal/infra"
	"portraitstudio/internal/sqlinline"
)

// PostgresKV stores registry entries in two tables created by EnsureSchema.
type PostgresKV struct {
	db infra.SQLExecutor
}

// NewPostgresKV wraps an executor, normally an *infra.SQLRunner.
func NewPostgresKV(db infra.SQLExecutor) *PostgresKV {
	return &PostgresKV{db: db}
}

// EnsureSchema creates the registry tables when missing.
func (p *PostgresKV) EnsureSchema(ctx context.Context) error {
	for _, q := range []string{sqlinline.QCreateRegistryKV, sqlinline.QCreateRegistryIndex} {
		if _, err := p.db.Exec(ctx, q); err != nil {
			return fmt.Errorf("registry: ensure schema: %w", err)
		}
	}
	return nil
}

func (p *PostgresKV) Get(ctx context.Context, key string) ([]byte, error) {
	var value []byte
	err := p.db.QueryRow(ctx, sqlinline.QSelectRegistryValue, key).Scan(&value)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("registry: select value: %w", err)
	}
	return value, nil
}

func (p *PostgresKV) PutIfAbsent(ctx context.Context, key string, value []byte) (bool, error) {
	tag, err := p.db.Exec(ctx, sqlinline.QInsertRegistryValue, key, value)
	if err != nil {
		return false, fmt.Errorf("registry: insert value: %w", err)
	}
	return tag.RowsAffected() == 1, nil
}

func (p *PostgresKV) CompareAndSwap(ctx context.Context, key string, old, new []byte) (bool, error) {
	tag, err := p.db.Exec(ctx, sqlinline.QSwapRegistryValue, key, old, new)
	if err != nil {
		return false, fmt.Errorf("registry: swap value: %w", err)
	}
	if tag.RowsAffected() == 1 {
		return true, nil
	}
	if _, err := p.Get(ctx, key); err != nil {
		return false, err
	}
	return false, nil
}

func (p *PostgresKV) AppendIndex(ctx context.Context, index, member string) error {
	if _, err := p.db.Exec(ctx, sqlinline.QInsertRegistryIndex, index, member); err != nil {
		return fmt.Errorf("registry: insert index: %w", err)
	}
	return nil
}

func (p *PostgresKV) Index(ctx context.Context, index string) ([]string, error) {
	rows, err := p.db.Query(ctx, sqlinline.QListRegistryIndex, index)
	if err != nil {
		return nil, fmt.Errorf("registry: list index: %w", err)
	}
	defer rows.Close()
	var members []string
	for rows.Next() {
		var m string
		if err := rows.Scan(&m); err != nil {
			return nil, fmt.Errorf("registry: scan index: %w", err)
		}
		members = append(members, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("registry: iterate index: %w", err)
	}
	return members, nil
}

var _ KV = (*PostgresKV)(nil)
