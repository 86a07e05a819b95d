package database_test

import (
	"context"
	"testing"

	"github.com/forgo/docrepo/internal/database"
	"github.com/forgo/docrepo/internal/testing/testdb"
	"github.com/forgo/docrepo/pkg/docrepo"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type part struct {
	ID    string `json:"id"`
	Name  string `json:"name"`
	Count int    `json:"count"`
}

func (p part) GetID() string { return p.ID }

func TestSurrealDB_RepositoryRoundTrip(t *testing.T) {
	tdb := testdb.New(t)
	defer tdb.Close()

	ctx := tdb.Ctx()
	repo := docrepo.New[part](tdb.DB, "{0}_parts")

	_, err := repo.Insert(ctx, part{ID: "p1", Name: "gear", Count: 1}, "acme").Await(ctx)
	require.NoError(t, err)

	_, err = repo.Update(ctx, part{ID: "p1", Name: "gear", Count: 4}, "acme").Await(ctx)
	require.NoError(t, err)

	got, err := repo.FindByID(ctx, "p1", "acme").Await(ctx)
	require.NoError(t, err)
	assert.Equal(t, part{ID: "p1", Name: "gear", Count: 4}, got)

	_, err = repo.Delete(ctx, "p1", "acme").Await(ctx)
	require.NoError(t, err)

	_, err = repo.FindByID(ctx, "p1", "acme").Await(ctx)
	assert.ErrorIs(t, err, database.ErrNotFound)
}

func TestSurrealDB_UpdateMissing(t *testing.T) {
	tdb := testdb.New(t)
	defer tdb.Close()

	ctx := tdb.Ctx()
	repo := docrepo.New[part](tdb.DB, "{0}_parts")

	_, err := repo.Update(ctx, part{ID: "ghost"}, "acme").Await(ctx)

	assert.ErrorIs(t, err, database.ErrNotFound)
}

func TestSurrealDB_TransactionCommit(t *testing.T) {
	tdb := testdb.New(t)
	defer tdb.Close()

	ctx := tdb.Ctx()
	parts := docrepo.New[part](tdb.DB, "{0}_parts")

	tx, err := tdb.DB.BeginTx(ctx)
	require.NoError(t, err)

	txParts := parts.WithTx(tx)
	assert.True(t, txParts.Insert(ctx, part{ID: "p1", Name: "gear"}, "acme").Queued())
	assert.True(t, txParts.Insert(ctx, part{ID: "p2", Name: "nut"}, "acme").Queued())
	assert.Equal(t, 2, tx.Len())

	_, err = parts.FindByID(ctx, "p1", "acme").Await(ctx)
	assert.ErrorIs(t, err, database.ErrNotFound, "queued writes are not visible before commit")

	require.NoError(t, tx.Commit())

	got, err := parts.FindByID(ctx, "p2", "acme").Await(ctx)
	require.NoError(t, err)
	assert.Equal(t, "nut", got.Name)
}

func TestSurrealDB_RunTransactionRollsBackOnError(t *testing.T) {
	tdb := testdb.New(t)
	defer tdb.Close()

	ctx := tdb.Ctx()
	coll := tdb.DB.Collection("acme_parts")

	err := tdb.DB.RunTransaction(ctx, func(ctx context.Context, tx docrepo.Transaction) error {
		if err := tx.Set(coll.Doc("p1"), part{ID: "p1"}); err != nil {
			return err
		}
		return assert.AnError
	})
	assert.ErrorIs(t, err, assert.AnError)

	_, err = coll.Doc("p1").Get(ctx)
	assert.ErrorIs(t, err, database.ErrNotFound)
}

func TestSurrealDB_TransactionUpdateMissing(t *testing.T) {
	tdb := testdb.New(t)
	defer tdb.Close()

	ctx := tdb.Ctx()
	parts := docrepo.New[part](tdb.DB, "{0}_parts")

	tx, err := tdb.DB.BeginTx(ctx)
	require.NoError(t, err)

	txParts := parts.WithTx(tx)
	_, err = txParts.Insert(ctx, part{ID: "p1", Name: "gear"}, "acme").Await(ctx)
	require.NoError(t, err)
	_, err = txParts.Update(ctx, part{ID: "ghost", Count: 2}, "acme").Await(ctx)
	require.NoError(t, err, "queued update reports success until commit")

	err = tx.Commit()
	assert.ErrorIs(t, err, database.ErrNotFound)

	_, err = parts.FindByID(ctx, "p1", "acme").Await(ctx)
	assert.ErrorIs(t, err, database.ErrNotFound, "failed commit keeps nothing")
}
