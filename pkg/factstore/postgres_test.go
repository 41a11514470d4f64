package factstore

import (
	"context"
	"database/sql"
	"testing"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/cockroachdb/errors"
	"github.com/lib/pq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/harborstone/dealgraph/pkg/types"
)

func newMockStore(t *testing.T) (*PostgresStore, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	store := NewPostgresStoreWithDB(db, Config{EmbeddingDim: 3}, nil)
	return store, mock
}

func TestPostgresWriteFact(t *testing.T) {
	store, mock := newMockStore(t)

	mock.ExpectBegin()
	mock.ExpectQuery("SELECT to_id FROM entity_redirects").
		WithArgs("deal-1", "acme").
		WillReturnError(sql.ErrNoRows)
	mock.ExpectExec("INSERT INTO facts").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("UPDATE entities SET fact_count").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	f := numberFact("acme", "q3_revenue", 5.0e6)
	id, err := store.WriteFact(context.Background(), f)
	require.NoError(t, err)
	assert.NotEmpty(t, id)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresWriteFactFollowsRedirect(t *testing.T) {
	store, mock := newMockStore(t)

	mock.ExpectBegin()
	mock.ExpectQuery("SELECT to_id FROM entity_redirects").
		WithArgs("deal-1", "acme-dup").
		WillReturnRows(sqlmock.NewRows([]string{"to_id"}).AddRow("acme"))
	mock.ExpectExec("INSERT INTO facts").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("UPDATE entities SET fact_count").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	f := numberFact("acme-dup", "q3_revenue", 5.0e6)
	_, err := store.WriteFact(context.Background(), f)
	require.NoError(t, err)
	assert.Equal(t, "acme", f.SubjectID, "writes under a merged id land on the canonical entity")
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresInvalidateFact(t *testing.T) {
	t.Run("first invalidation succeeds", func(t *testing.T) {
		store, mock := newMockStore(t)

		mock.ExpectBegin()
		mock.ExpectQuery("SELECT valid_at, invalid_at FROM facts").
			WithArgs("deal-1", "fact-1").
			WillReturnRows(sqlmock.NewRows([]string{"valid_at", "invalid_at"}).AddRow(ts(1), nil))
		mock.ExpectExec("UPDATE facts SET invalid_at").
			WillReturnResult(sqlmock.NewResult(0, 1))
		mock.ExpectCommit()

		err := store.InvalidateFact(context.Background(), "deal-1", "fact-1", ts(10))
		require.NoError(t, err)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("second invalidation rejected", func(t *testing.T) {
		store, mock := newMockStore(t)

		mock.ExpectBegin()
		mock.ExpectQuery("SELECT valid_at, invalid_at FROM facts").
			WillReturnRows(sqlmock.NewRows([]string{"valid_at", "invalid_at"}).AddRow(ts(1), ts(5)))
		mock.ExpectRollback()

		err := store.InvalidateFact(context.Background(), "deal-1", "fact-1", ts(10))
		assert.ErrorIs(t, err, types.ErrAlreadyInvalidated)
	})

	t.Run("missing fact", func(t *testing.T) {
		store, mock := newMockStore(t)

		mock.ExpectBegin()
		mock.ExpectQuery("SELECT valid_at, invalid_at FROM facts").
			WillReturnError(sql.ErrNoRows)
		mock.ExpectRollback()

		err := store.InvalidateFact(context.Background(), "deal-1", "nope", ts(10))
		assert.ErrorIs(t, err, types.ErrNotFound)
	})

	t.Run("before valid_at rejected", func(t *testing.T) {
		store, mock := newMockStore(t)

		mock.ExpectBegin()
		mock.ExpectQuery("SELECT valid_at, invalid_at FROM facts").
			WillReturnRows(sqlmock.NewRows([]string{"valid_at", "invalid_at"}).AddRow(ts(10), nil))
		mock.ExpectRollback()

		err := store.InvalidateFact(context.Background(), "deal-1", "fact-1", ts(5))
		assert.ErrorIs(t, err, types.ErrValidation)
	})
}

func TestPostgresSaveContradictionDedup(t *testing.T) {
	store, mock := newMockStore(t)
	ctx := context.Background()

	mock.ExpectExec("INSERT INTO contradictions").
		WillReturnResult(sqlmock.NewResult(0, 1))

	c := &types.Contradiction{DealID: "deal-1", FactA: "f2", FactB: "f1", SubjectID: "acme", Predicate: "p"}
	created, err := store.SaveContradiction(ctx, c)
	require.NoError(t, err)
	assert.True(t, created)
	assert.Equal(t, "f1", c.FactA, "pair canonicalized before insert")

	// Conflict: zero rows affected, the existing record is read back.
	mock.ExpectExec("INSERT INTO contradictions").
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery("SELECT (.+) FROM contradictions").
		WithArgs("deal-1", "f1", "f2").
		WillReturnRows(sqlmock.NewRows([]string{
			"id", "deal_id", "fact_a", "fact_b", "subject_id", "predicate",
			"rationale", "state", "detected_at", "resolved_at", "resolved_by",
		}).AddRow("existing-id", "deal-1", "f1", "f2", "acme", "p",
			"seen before", "unresolved", ts(3), nil, ""))

	dup := &types.Contradiction{DealID: "deal-1", FactA: "f1", FactB: "f2", SubjectID: "acme", Predicate: "p"}
	created, err = store.SaveContradiction(ctx, dup)
	require.NoError(t, err)
	assert.False(t, created)
	assert.Equal(t, "existing-id", dup.ID)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresGetDocument(t *testing.T) {
	store, mock := newMockStore(t)

	mock.ExpectQuery("SELECT (.+) FROM documents").
		WithArgs("deal-1", "doc-1").
		WillReturnRows(sqlmock.NewRows([]string{
			"id", "deal_id", "content_hash", "status", "attempts", "last_error",
			"created_at", "updated_at", "ingested_at",
		}).AddRow("doc-1", "deal-1", "abc123", "ingested", 2, "", ts(1), ts(2), ts(2)))

	doc, err := store.GetDocument(context.Background(), "deal-1", "doc-1")
	require.NoError(t, err)
	assert.Equal(t, types.DocumentIngested, doc.Status)
	assert.Equal(t, 2, doc.Attempts)
	require.NotNil(t, doc.IngestedAt)
	assert.True(t, doc.IngestedAt.Equal(ts(2)))
}

func TestPostgresTransitionDocument(t *testing.T) {
	store, mock := newMockStore(t)

	mock.ExpectBegin()
	mock.ExpectQuery("SELECT (.+) FROM documents").
		WillReturnRows(sqlmock.NewRows([]string{
			"id", "deal_id", "content_hash", "status", "attempts", "last_error",
			"created_at", "updated_at", "ingested_at",
		}).AddRow("doc-1", "deal-1", "abc123", "pending", 0, "", ts(1), ts(1), nil))
	mock.ExpectExec("UPDATE documents SET").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	doc, err := store.TransitionDocument(context.Background(), "deal-1", "doc-1", types.DocumentProcessing, "")
	require.NoError(t, err)
	assert.Equal(t, types.DocumentProcessing, doc.Status)
	assert.Equal(t, 1, doc.Attempts)

	t.Run("illegal transition rolls back", func(t *testing.T) {
		mock.ExpectBegin()
		mock.ExpectQuery("SELECT (.+) FROM documents").
			WillReturnRows(sqlmock.NewRows([]string{
				"id", "deal_id", "content_hash", "status", "attempts", "last_error",
				"created_at", "updated_at", "ingested_at",
			}).AddRow("doc-1", "deal-1", "abc123", "pending", 0, "", ts(1), ts(1), nil))
		mock.ExpectRollback()

		_, err := store.TransitionDocument(context.Background(), "deal-1", "doc-1", types.DocumentIngested, "")
		assert.ErrorIs(t, err, types.ErrInvalidTransition)
	})
}

func TestMapPostgresErr(t *testing.T) {
	t.Run("nil", func(t *testing.T) {
		assert.NoError(t, mapPostgresErr(nil))
	})

	t.Run("no rows becomes not found", func(t *testing.T) {
		assert.ErrorIs(t, mapPostgresErr(sql.ErrNoRows), types.ErrNotFound)
	})

	t.Run("serialization failure is transient", func(t *testing.T) {
		err := mapPostgresErr(&pq.Error{Code: "40001"})
		assert.ErrorIs(t, err, types.ErrTransientStore)
	})

	t.Run("connection failure is transient", func(t *testing.T) {
		err := mapPostgresErr(&pq.Error{Code: "08006"})
		assert.ErrorIs(t, err, types.ErrTransientStore)
	})

	t.Run("constraint violation is not transient", func(t *testing.T) {
		err := mapPostgresErr(&pq.Error{Code: "23505"})
		assert.False(t, errors.Is(err, types.ErrTransientStore))
	})

	t.Run("wrapped pq errors still classify", func(t *testing.T) {
		err := mapPostgresErr(errors.Wrap(&pq.Error{Code: "57P01"}, "query"))
		assert.ErrorIs(t, err, types.ErrTransientStore)
	})
}

func TestPostgresInitialize(t *testing.T) {
	store, mock := newMockStore(t)

	for i := 0; i < 10; i++ {
		mock.ExpectExec("CREATE").WillReturnResult(sqlmock.NewResult(0, 0))
	}
	require.NoError(t, store.Initialize(context.Background()))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStats(t *testing.T) {
	store, mock := newMockStore(t)

	mock.ExpectQuery("SELECT").
		WillReturnRows(sqlmock.NewRows([]string{"entities", "valid", "invalidated"}).AddRow(3, 12, 2))
	mock.ExpectQuery("SELECT state, count").
		WillReturnRows(sqlmock.NewRows([]string{"state", "count"}).AddRow("unresolved", 2))
	mock.ExpectQuery("SELECT status, count").
		WillReturnRows(sqlmock.NewRows([]string{"status", "count"}).AddRow("ingested", 4).AddRow("failed", 1))

	stats, err := store.Stats(context.Background(), "deal-1")
	require.NoError(t, err)
	assert.Equal(t, 3, stats.Entities)
	assert.Equal(t, 12, stats.FactsValid)
	assert.Equal(t, 2, stats.FactsInvalidated)
	assert.Equal(t, 2, stats.Contradictions[types.ContradictionUnresolved])
	assert.Equal(t, 4, stats.Documents[types.DocumentIngested])
	assert.Equal(t, 1, stats.Documents[types.DocumentFailed])
}
