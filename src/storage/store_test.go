package storage

import (
	"database/sql"
	"path/filepath"
	"testing"
	"time"

	"github.com/alecthomas/assert/v2"
	_ "modernc.org/sqlite"

	"github.com/username/coinfolio/src/database"
	"github.com/username/coinfolio/src/models"
)

func testDB(t *testing.T) *sql.DB {
	t.Helper()
	db, err := sql.Open("sqlite", filepath.Join(t.TempDir(), "operations.db"))
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { db.Close() })
	if err := database.EnsureSchema(db); err != nil {
		t.Fatal(err)
	}
	return db
}

var opTime = time.Date(2023, 6, 1, 12, 30, 15, 0, time.UTC)

func allKinds() []models.Operation {
	return []models.Operation{
		models.Deposit{Asset: models.AssetAmount{Symbol: "BTC", Amount: 1.5}, Time: opTime},
		models.Withdrawal{Asset: models.AssetAmount{Symbol: "ETH", Amount: 2}, Time: opTime.Add(time.Minute)},
		models.GiftOperation{Asset: models.AssetAmount{Symbol: "BNB", Amount: 0.1}, Time: opTime.Add(2 * time.Minute)},
		models.Exchange{
			Sold:   models.AssetAmount{Symbol: "EUR", Amount: 10000},
			Bought: models.AssetAmount{Symbol: "BTC", Amount: 0.5},
			Fee:    models.AssetAmount{Symbol: "BNB", Amount: 0.075},
			Time:   opTime.Add(3 * time.Minute),
		},
		models.FeePayment{Asset: models.AssetAmount{Symbol: "BNB", Amount: 0.01}, Time: opTime.Add(4 * time.Minute)},
		models.MarginLoan{Asset: models.AssetAmount{Symbol: "BTC", Amount: 1}, Time: opTime.Add(5 * time.Minute)},
		models.MarginRepayment{Asset: models.AssetAmount{Symbol: "BTC", Amount: 1}, Time: opTime.Add(6 * time.Minute)},
	}
}

func TestOperationsRoundTrip(t *testing.T) {
	store := NewOperationStore(testDB(t))
	want := allKinds()

	store.AddOperations(want)
	assert.NoError(t, store.Commit())

	got, err := store.AllOperations()
	assert.NoError(t, err)
	assert.Equal(t, len(want), len(got))
	for i := range want {
		assert.Equal(t, want[i], got[i], "operation %d", i)
	}
}

func TestOperationsInvisibleUntilCommit(t *testing.T) {
	store := NewOperationStore(testDB(t))
	store.AddOperations(allKinds())

	got, err := store.AllOperations()
	assert.NoError(t, err)
	assert.Equal(t, 0, len(got))
}

func TestCheckpointMarks(t *testing.T) {
	store := NewOperationStore(testDB(t))

	assert.False(t, store.IsProcessed("history.csv", 0))

	store.MarkProcessed("history.csv", 4)
	assert.True(t, store.IsProcessed("history.csv", 0))
	assert.True(t, store.IsProcessed("history.csv", 4))
	assert.False(t, store.IsProcessed("history.csv", 5))
	assert.False(t, store.IsProcessed("other.csv", 0))

	assert.NoError(t, store.Commit())
	assert.True(t, store.IsProcessed("history.csv", 4))
	assert.False(t, store.IsProcessed("history.csv", 5))
}

func TestCheckpointSurvivesReopen(t *testing.T) {
	db := testDB(t)

	store := NewOperationStore(db)
	store.AddOperations(allKinds()[:2])
	store.MarkProcessed("history.csv", 1)
	assert.NoError(t, store.Commit())

	// A fresh store over the same database sees the committed state.
	reopened := NewOperationStore(db)
	assert.True(t, reopened.IsProcessed("history.csv", 1))
	assert.False(t, reopened.IsProcessed("history.csv", 2))

	ops, err := reopened.AllOperations()
	assert.NoError(t, err)
	assert.Equal(t, 2, len(ops))
}

func TestCheckpointMarkAdvances(t *testing.T) {
	store := NewOperationStore(testDB(t))

	store.MarkProcessed("history.csv", 2)
	assert.NoError(t, store.Commit())
	store.MarkProcessed("history.csv", 7)
	assert.NoError(t, store.Commit())

	assert.True(t, store.IsProcessed("history.csv", 7))
	assert.False(t, store.IsProcessed("history.csv", 8))
}
