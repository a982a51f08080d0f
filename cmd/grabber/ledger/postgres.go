package ledger

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/lyzr/mediagrab/common/db"
	"github.com/lyzr/mediagrab/common/models"
)

const ledgerRowID = 1

// PostgresStore keeps the snapshot as one JSONB row
type PostgresStore struct {
	db *db.DB
}

// NewPostgresStore creates a postgres-backed store
func NewPostgresStore(database *db.DB) *PostgresStore {
	return &PostgresStore{db: database}
}

// EnsureSchema creates the ledger table
func EnsureSchema(ctx context.Context, database *db.DB) error {
	query := `
		CREATE TABLE IF NOT EXISTS grab_ledger (
			id         SMALLINT PRIMARY KEY,
			doc        JSONB NOT NULL,
			updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
		)
	`
	if _, err := database.Exec(ctx, query); err != nil {
		return fmt.Errorf("failed to create ledger table: %w", err)
	}
	return nil
}

// Load reads the snapshot row; no row is an empty ledger
func (s *PostgresStore) Load(ctx context.Context) (*models.Snapshot, error) {
	query := `
		SELECT doc
		FROM grab_ledger
		WHERE id = $1
	`

	var doc []byte
	err := s.db.QueryRow(ctx, query, ledgerRowID).Scan(&doc)
	if errors.Is(err, pgx.ErrNoRows) {
		return models.NewSnapshot(), nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load ledger: %w", err)
	}
	return decodeSnapshot(doc)
}

// Update locks the row for the duration of fn
func (s *PostgresStore) Update(ctx context.Context, fn func(*models.Snapshot) error) error {
	return s.db.WithTx(ctx, func(tx pgx.Tx) error {
		seed, err := json.Marshal(models.NewSnapshot())
		if err != nil {
			return err
		}

		insert := `
			INSERT INTO grab_ledger (id, doc)
			VALUES ($1, $2)
			ON CONFLICT (id) DO NOTHING
		`
		if _, err := tx.Exec(ctx, insert, ledgerRowID, seed); err != nil {
			return fmt.Errorf("failed to seed ledger: %w", err)
		}

		var doc []byte
		query := `
			SELECT doc
			FROM grab_ledger
			WHERE id = $1
			FOR UPDATE
		`
		if err := tx.QueryRow(ctx, query, ledgerRowID).Scan(&doc); err != nil {
			return fmt.Errorf("failed to lock ledger: %w", err)
		}

		snap, err := decodeSnapshot(doc)
		if err != nil {
			return err
		}
		if err := fn(snap); err != nil {
			return err
		}

		snap.Version = models.SnapshotVersion
		updated, err := json.Marshal(snap)
		if err != nil {
			return fmt.Errorf("encode ledger: %w", err)
		}

		update := `
			UPDATE grab_ledger
			SET doc = $2, updated_at = now()
			WHERE id = $1
		`
		if _, err := tx.Exec(ctx, update, ledgerRowID, updated); err != nil {
			return fmt.Errorf("failed to update ledger: %w", err)
		}
		return nil
	})
}
