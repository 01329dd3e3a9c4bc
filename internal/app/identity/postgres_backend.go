package identity

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgresBackend keeps credentials in the `credentials` table. Save replaces the table
// contents in one transaction so the table always mirrors one complete document.
type PostgresBackend struct {
	pool *pgxpool.Pool
}

// NewPostgresBackend returns a backend using pool. Migrations must already be applied.
func NewPostgresBackend(pool *pgxpool.Pool) *PostgresBackend {
	return &PostgresBackend{pool: pool}
}

// Load reads every credential row.
func (b *PostgresBackend) Load(ctx context.Context) (Records, error) {
	rows, err := b.pool.Query(ctx,
		`SELECT name_key, username, password_hash, password_plain FROM credentials`)
	if err != nil {
		return nil, fmt.Errorf("query credentials: %w", err)
	}
	defer rows.Close()

	records := make(Records)
	for rows.Next() {
		var key string
		var rec Record
		if err := rows.Scan(&key, &rec.Username, &rec.PasswordHash, &rec.PasswordPlain); err != nil {
			return nil, fmt.Errorf("scan credential: %w", err)
		}
		records[key] = rec
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate credentials: %w", err)
	}

	return records, nil
}

// Save replaces the table contents with records.
func (b *PostgresBackend) Save(ctx context.Context, records Records) error {
	return pgx.BeginFunc(ctx, b.pool, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx, `DELETE FROM credentials`); err != nil {
			return fmt.Errorf("clear credentials: %w", err)
		}

		batch := &pgx.Batch{}
		for key, rec := range records {
			batch.Queue(
				`INSERT INTO credentials (name_key, username, password_hash, password_plain) VALUES ($1, $2, $3, $4)`,
				key, rec.Username, rec.PasswordHash, rec.PasswordPlain,
			)
		}

		if batch.Len() == 0 {
			return nil
		}

		if err := tx.SendBatch(ctx, batch).Close(); err != nil {
			return fmt.Errorf("insert credentials: %w", err)
		}
		return nil
	})
}
