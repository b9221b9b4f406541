package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"recordpad/internal/record/model"
	"recordpad/pkg/logger"
)

var schema = []string{
	`CREATE TABLE IF NOT EXISTS commit_logs (
		id TEXT PRIMARY KEY,
		document TEXT NOT NULL,
		signature TEXT NOT NULL,
		cdate TIMESTAMPTZ NOT NULL DEFAULT NOW()
	)`,
	`CREATE TABLE IF NOT EXISTS commit_owners (
		commit_log_id TEXT NOT NULL REFERENCES commit_logs(id) ON DELETE CASCADE,
		owner TEXT NOT NULL,
		PRIMARY KEY (commit_log_id, owner)
	)`,
	`CREATE INDEX IF NOT EXISTS commit_owners_owner_idx ON commit_owners (owner)`,
	`CREATE TABLE IF NOT EXISTS records (
		document_id TEXT PRIMARY KEY REFERENCES commit_logs(id) ON DELETE CASCADE,
		key TEXT NOT NULL DEFAULT '',
		value TEXT NOT NULL,
		owner TEXT NOT NULL,
		signer TEXT NOT NULL,
		key_id TEXT NOT NULL DEFAULT '',
		schema TEXT NOT NULL,
		signed_at TIMESTAMPTZ NOT NULL,
		cdate TIMESTAMPTZ NOT NULL DEFAULT NOW()
	)`,
	`CREATE TABLE IF NOT EXISTS record_keys (
		owner TEXT NOT NULL,
		key TEXT NOT NULL,
		record_id TEXT NOT NULL REFERENCES records(document_id) ON DELETE CASCADE,
		PRIMARY KEY (owner, key)
	)`,
	`CREATE TABLE IF NOT EXISTS record_relations (
		parent_id TEXT NOT NULL REFERENCES records(document_id) ON DELETE CASCADE,
		child_id TEXT NOT NULL REFERENCES records(document_id) ON DELETE CASCADE,
		PRIMARY KEY (parent_id, child_id)
	)`,
}

const recordColumns = `r.document_id, r.key, r.value, r.owner, r.signer, r.key_id, r.schema, r.signed_at, r.cdate`

type PostgresRepository struct {
	DB *sql.DB
}

func NewPostgresRepository(db *sql.DB) *PostgresRepository {
	return &PostgresRepository{DB: db}
}

// Migrate creates the tables if they do not exist yet.
func (r *PostgresRepository) Migrate(ctx context.Context) error {
	for _, stmt := range schema {
		if _, err := r.DB.ExecContext(ctx, stmt); err != nil {
			logger.Sugar.Errorf("Failed to migrate schema: %v", err)
			return fmt.Errorf("migrate: %w", err)
		}
	}
	return nil
}

func (r *PostgresRepository) Insert(ctx context.Context, entry model.Entry) (err error) {
	tx, err := r.DB.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
			logger.Sugar.Errorf("Failed to insert record %s: %v", entry.Record.DocumentID, err)
		}
	}()

	id := entry.Record.DocumentID

	if _, err = tx.ExecContext(ctx,
		`INSERT INTO commit_logs (id, document, signature, cdate) VALUES ($1, $2, $3, $4) ON CONFLICT DO NOTHING`,
		entry.Log.ID, entry.Log.Document, entry.Log.Signature, entry.Log.CDate); err != nil {
		return err
	}

	for _, owner := range entry.Owners {
		if _, err = tx.ExecContext(ctx,
			`INSERT INTO commit_owners (commit_log_id, owner) VALUES ($1, $2) ON CONFLICT DO NOTHING`,
			entry.Log.ID, owner); err != nil {
			return err
		}
	}

	rec := entry.Record
	if _, err = tx.ExecContext(ctx,
		`INSERT INTO records (document_id, key, value, owner, signer, key_id, schema, signed_at, cdate)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9) ON CONFLICT DO NOTHING`,
		id, rec.Key, rec.Value, rec.Owner, rec.Signer, rec.KeyID, rec.Schema, rec.SignedAt, rec.CDate); err != nil {
		return err
	}

	if entry.ParentID != "" {
		if _, err = tx.ExecContext(ctx,
			`INSERT INTO record_relations (parent_id, child_id) VALUES ($1, $2) ON CONFLICT DO NOTHING`,
			entry.ParentID, id); err != nil {
			return err
		}
	}

	// An empty key means the record is only reachable by its document ID.
	if rec.Key != "" {
		var oldID string
		err = tx.QueryRowContext(ctx,
			`SELECT record_id FROM record_keys WHERE owner = $1 AND key = $2 FOR UPDATE`,
			rec.Owner, rec.Key).Scan(&oldID)
		if err != nil && !errors.Is(err, sql.ErrNoRows) {
			return err
		}

		if _, err = tx.ExecContext(ctx,
			`INSERT INTO record_keys (owner, key, record_id) VALUES ($1, $2, $3)
			ON CONFLICT (owner, key) DO UPDATE SET record_id = EXCLUDED.record_id`,
			rec.Owner, rec.Key, id); err != nil {
			return err
		}

		if oldID != "" && oldID != id {
			if err = r.supersede(ctx, tx, oldID, id); err != nil {
				return err
			}
		}
	}

	if err = tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

// supersede copies the relations of oldID onto newID and drops oldID; the
// cascade removes its record and remaining relation rows.
func (r *PostgresRepository) supersede(ctx context.Context, tx *sql.Tx, oldID, newID string) error {
	if _, err := tx.ExecContext(ctx,
		`INSERT INTO record_relations (parent_id, child_id)
		SELECT $2, child_id FROM record_relations WHERE parent_id = $1 AND child_id <> $2
		ON CONFLICT DO NOTHING`, oldID, newID); err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx,
		`INSERT INTO record_relations (parent_id, child_id)
		SELECT parent_id, $2 FROM record_relations WHERE child_id = $1 AND parent_id <> $2
		ON CONFLICT DO NOTHING`, oldID, newID); err != nil {
		return err
	}
	_, err := tx.ExecContext(ctx, `DELETE FROM commit_logs WHERE id = $1`, oldID)
	return err
}

func (r *PostgresRepository) Delete(ctx context.Context, documentID string) error {
	result, err := r.DB.ExecContext(ctx, `DELETE FROM commit_logs WHERE id = $1`, documentID)
	if err != nil {
		logger.Sugar.Errorf("Failed to delete record %s: %v", documentID, err)
		return err
	}
	n, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return model.ErrNotFound
	}
	return nil
}

func (r *PostgresRepository) GetByKey(ctx context.Context, owner, key string) (*model.Record, error) {
	row := r.DB.QueryRowContext(ctx,
		`SELECT `+recordColumns+` FROM record_keys k JOIN records r ON r.document_id = k.record_id
		WHERE k.owner = $1 AND k.key = $2`, owner, key)
	return scanRecord(row)
}

func (r *PostgresRepository) GetByID(ctx context.Context, documentID string) (*model.Record, error) {
	row := r.DB.QueryRowContext(ctx,
		`SELECT `+recordColumns+` FROM records r WHERE r.document_id = $1`, documentID)
	return scanRecord(row)
}

func (r *PostgresRepository) ListChildren(ctx context.Context, parentID string) ([]model.Record, error) {
	rows, err := r.DB.QueryContext(ctx,
		`SELECT `+recordColumns+` FROM records r JOIN record_relations rr ON rr.child_id = r.document_id
		WHERE rr.parent_id = $1 ORDER BY r.cdate`, parentID)
	if err != nil {
		logger.Sugar.Errorf("Failed to list children of %s: %v", parentID, err)
		return nil, err
	}
	defer rows.Close()

	var records []model.Record
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, err
		}
		records = append(records, *rec)
	}
	return records, rows.Err()
}

func (r *PostgresRepository) Close() error {
	return r.DB.Close()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanRecord(s scanner) (*model.Record, error) {
	var rec model.Record
	err := s.Scan(&rec.DocumentID, &rec.Key, &rec.Value, &rec.Owner, &rec.Signer,
		&rec.KeyID, &rec.Schema, &rec.SignedAt, &rec.CDate)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, model.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &rec, nil
}
