package repository

import (
	"context"
	"errors"
	"testing"
	"time"

	"recordpad/internal/record/model"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var columns = []string{"document_id", "key", "value", "owner", "signer", "key_id", "schema", "signed_at", "cdate"}

func newMock(t *testing.T) (*PostgresRepository, sqlmock.Sqlmock) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return NewPostgresRepository(db), mock
}

func sampleEntry(id string) model.Entry {
	now := time.Date(2026, 10, 14, 7, 0, 0, 0, time.UTC)
	return model.Entry{
		Log: model.CommitLog{ID: id, Document: `{"key":"hello"}`, Signature: "signature_placeholder", CDate: now},
		Record: model.Record{
			DocumentID: id,
			Key:        "hello",
			Value:      "world",
			Owner:      "user000",
			Signer:     "user000",
			Schema:     "https://example.com/schemas/message-v1.json",
			SignedAt:   now,
			CDate:      now,
		},
		Owners: []string{"user000"},
	}
}

func expectInsertHead(mock sqlmock.Sqlmock, e model.Entry) {
	mock.ExpectBegin()
	mock.ExpectExec("INSERT INTO commit_logs").
		WithArgs(e.Log.ID, e.Log.Document, e.Log.Signature, sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))
	for _, owner := range e.Owners {
		mock.ExpectExec("INSERT INTO commit_owners").
			WithArgs(e.Log.ID, owner).
			WillReturnResult(sqlmock.NewResult(0, 1))
	}
	mock.ExpectExec("INSERT INTO records").
		WithArgs(e.Record.DocumentID, e.Record.Key, e.Record.Value, e.Record.Owner, e.Record.Signer,
			e.Record.KeyID, e.Record.Schema, sqlmock.AnyArg(), sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))
}

func TestInsertBindsNewKey(t *testing.T) {
	repo, mock := newMock(t)
	entry := sampleEntry("doc-1")

	expectInsertHead(mock, entry)
	mock.ExpectQuery("SELECT record_id FROM record_keys WHERE owner = \\$1 AND key = \\$2 FOR UPDATE").
		WithArgs("user000", "hello").
		WillReturnRows(sqlmock.NewRows([]string{"record_id"}))
	mock.ExpectExec("INSERT INTO record_keys").
		WithArgs("user000", "hello", "doc-1").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	require.NoError(t, repo.Insert(context.Background(), entry))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestInsertSupersedesPreviousRecord(t *testing.T) {
	repo, mock := newMock(t)
	entry := sampleEntry("doc-2")
	entry.ParentID = "parent-1"

	expectInsertHead(mock, entry)
	mock.ExpectExec("INSERT INTO record_relations \\(parent_id, child_id\\) VALUES").
		WithArgs("parent-1", "doc-2").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectQuery("SELECT record_id FROM record_keys").
		WithArgs("user000", "hello").
		WillReturnRows(sqlmock.NewRows([]string{"record_id"}).AddRow("doc-1"))
	mock.ExpectExec("INSERT INTO record_keys").
		WithArgs("user000", "hello", "doc-2").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("SELECT \\$2, child_id FROM record_relations").
		WithArgs("doc-1", "doc-2").
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec("SELECT parent_id, \\$2 FROM record_relations").
		WithArgs("doc-1", "doc-2").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("DELETE FROM commit_logs WHERE id = \\$1").
		WithArgs("doc-1").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	require.NoError(t, repo.Insert(context.Background(), entry))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestInsertWithoutKeySkipsBinding(t *testing.T) {
	repo, mock := newMock(t)
	entry := sampleEntry("doc-3")
	entry.Record.Key = ""

	expectInsertHead(mock, entry)
	mock.ExpectCommit()

	require.NoError(t, repo.Insert(context.Background(), entry))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestInsertRollsBackOnFailure(t *testing.T) {
	repo, mock := newMock(t)
	entry := sampleEntry("doc-4")

	mock.ExpectBegin()
	mock.ExpectExec("INSERT INTO commit_logs").
		WillReturnError(errors.New("connection reset"))
	mock.ExpectRollback()

	err := repo.Insert(context.Background(), entry)
	assert.ErrorContains(t, err, "connection reset")
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestDelete(t *testing.T) {
	repo, mock := newMock(t)

	mock.ExpectExec("DELETE FROM commit_logs WHERE id = \\$1").
		WithArgs("doc-1").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("DELETE FROM commit_logs WHERE id = \\$1").
		WithArgs("missing").
		WillReturnResult(sqlmock.NewResult(0, 0))

	require.NoError(t, repo.Delete(context.Background(), "doc-1"))
	assert.ErrorIs(t, repo.Delete(context.Background(), "missing"), model.ErrNotFound)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestGetByKeyAndID(t *testing.T) {
	repo, mock := newMock(t)
	now := time.Now().UTC()

	mock.ExpectQuery("FROM record_keys k JOIN records r").
		WithArgs("user000", "hello").
		WillReturnRows(sqlmock.NewRows(columns).
			AddRow("doc-1", "hello", "world", "user000", "user000", "", "schema", now, now))
	mock.ExpectQuery("FROM records r WHERE r.document_id = \\$1").
		WithArgs("nope").
		WillReturnRows(sqlmock.NewRows(columns))

	rec, err := repo.GetByKey(context.Background(), "user000", "hello")
	require.NoError(t, err)
	assert.Equal(t, "doc-1", rec.DocumentID)
	assert.Equal(t, "world", rec.Value)

	_, err = repo.GetByID(context.Background(), "nope")
	assert.ErrorIs(t, err, model.ErrNotFound)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestListChildren(t *testing.T) {
	repo, mock := newMock(t)
	now := time.Now().UTC()

	mock.ExpectQuery("JOIN record_relations rr ON rr.child_id = r.document_id").
		WithArgs("parent-1").
		WillReturnRows(sqlmock.NewRows(columns).
			AddRow("c1", "", "first", "user000", "user000", "", "schema", now, now).
			AddRow("c2", "", "second", "user000", "user000", "", "schema", now, now))

	children, err := repo.ListChildren(context.Background(), "parent-1")
	require.NoError(t, err)
	require.Len(t, children, 2)
	assert.Equal(t, "c1", children[0].DocumentID)
	assert.Equal(t, "second", children[1].Value)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestMigrate(t *testing.T) {
	repo, mock := newMock(t)
	for range schema {
		mock.ExpectExec("CREATE").WillReturnResult(sqlmock.NewResult(0, 0))
	}

	require.NoError(t, repo.Migrate(context.Background()))
	assert.NoError(t, mock.ExpectationsWereMet())
}
