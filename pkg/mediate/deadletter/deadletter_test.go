package deadletter_test

import (
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/randalmurphal/mediate/pkg/mediate/config"
	"github.com/randalmurphal/mediate/pkg/mediate/deadletter"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type OrderPlaced struct {
	ID      string    `json:"id"`
	OrderID string    `json:"order_id"`
	Amount  float64   `json:"amount"`
	Items   []string  `json:"items"`
	At      time.Time `json:"at"`
}

func letter(evt OrderPlaced) deadletter.Letter {
	return deadletter.Letter{
		EventID:   evt.ID,
		EventType: "OrderPlaced",
		Event:     evt,
		Err:       errors.New("handler failed"),
		Attempts:  4,
		At:        time.Now(),
	}
}

func sample(id string) OrderPlaced {
	return OrderPlaced{
		ID:      id,
		OrderID: "o-42",
		Amount:  19.99,
		Items:   []string{"book", "pen"},
		At:      time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC),
	}
}

func TestNoAction(t *testing.T) {
	assert.NoError(t, deadletter.NoAction{}.DeadLetter(context.Background(), letter(sample("E1"))))
}

func TestFileRoundTrip(t *testing.T) {
	dir := t.TempDir()
	f, err := deadletter.NewFile(dir)
	require.NoError(t, err)

	evt := sample("E1")
	require.NoError(t, f.DeadLetter(context.Background(), letter(evt)))

	assert.FileExists(t, filepath.Join(dir, "E1.json"))

	got, err := deadletter.ReadFile[OrderPlaced](dir, "E1", nil)
	require.NoError(t, err)
	assert.Equal(t, evt, got)

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	assert.Len(t, entries, 1, "no temp files may be left behind")
}

func TestFileOverwritesByDefault(t *testing.T) {
	dir := t.TempDir()
	f, err := deadletter.NewFile(dir)
	require.NoError(t, err)
	ctx := context.Background()

	first, second := sample("E1"), sample("E1")
	second.OrderID = "o-43"
	require.NoError(t, f.DeadLetter(ctx, letter(first)))
	require.NoError(t, f.DeadLetter(ctx, letter(second)))

	got, err := deadletter.ReadFile[OrderPlaced](dir, "E1", deadletter.JSON)
	require.NoError(t, err)
	assert.Equal(t, "o-43", got.OrderID)
}

func TestFileNoOverwrite(t *testing.T) {
	dir := t.TempDir()
	f, err := deadletter.NewFile(dir)
	require.NoError(t, err)
	f.NoOverwrite = true
	ctx := context.Background()

	require.NoError(t, f.DeadLetter(ctx, letter(sample("E1"))))

	second := sample("E1")
	second.OrderID = "o-43"
	assert.ErrorIs(t, f.DeadLetter(ctx, letter(second)), deadletter.ErrExists)

	got, err := deadletter.ReadFile[OrderPlaced](dir, "E1", nil)
	require.NoError(t, err)
	assert.Equal(t, "o-42", got.OrderID, "original record must survive")

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	assert.Len(t, entries, 1)
}

func TestFileRejectsUnsafeIDs(t *testing.T) {
	f, err := deadletter.NewFile(t.TempDir())
	require.NoError(t, err)

	for _, id := range []string{"", "..", "../escape", "a/b", `a\b`, ".hidden"} {
		t.Run(id, func(t *testing.T) {
			err := f.DeadLetter(context.Background(), letter(sample(id)))
			assert.ErrorIs(t, err, deadletter.ErrInvalidID)
		})
	}
}

func TestReadFileMissing(t *testing.T) {
	_, err := deadletter.ReadFile[OrderPlaced](t.TempDir(), "nope", nil)
	assert.ErrorIs(t, err, deadletter.ErrNotFound)
}

func TestFileWriteFailurePropagates(t *testing.T) {
	f := &deadletter.File{Dir: filepath.Join(t.TempDir(), "missing")}
	assert.Error(t, f.DeadLetter(context.Background(), letter(sample("E1"))))
}

func TestSQLite(t *testing.T) {
	db, err := deadletter.NewSQLite(filepath.Join(t.TempDir(), "dl.db"))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	ctx := context.Background()

	evt := sample("E1")
	require.NoError(t, db.DeadLetter(ctx, letter(evt)))
	require.NoError(t, db.DeadLetter(ctx, letter(sample("E2"))))

	rec, err := db.Get(ctx, "E1")
	require.NoError(t, err)
	assert.Equal(t, "OrderPlaced", rec.EventType)
	assert.Equal(t, "handler failed", rec.Error)
	assert.Equal(t, 4, rec.Attempts)
	assert.False(t, rec.DeadLetteredAt.IsZero())

	got, err := deadletter.Decode[OrderPlaced](rec)
	require.NoError(t, err)
	assert.Equal(t, evt, got)

	all, err := db.List(ctx)
	require.NoError(t, err)
	assert.Len(t, all, 2)

	// Same id replaces the row.
	again := letter(evt)
	again.Attempts = 7
	require.NoError(t, db.DeadLetter(ctx, again))
	rec, err = db.Get(ctx, "E1")
	require.NoError(t, err)
	assert.Equal(t, 7, rec.Attempts)

	require.NoError(t, db.Delete(ctx, "E1"))
	_, err = db.Get(ctx, "E1")
	assert.ErrorIs(t, err, deadletter.ErrNotFound)
	assert.NoError(t, db.Delete(ctx, "E1"))
}

func TestSQLiteListOrdersWithinOneSecond(t *testing.T) {
	db, err := deadletter.NewSQLite(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	ctx := context.Background()

	whole := time.Date(2026, 3, 1, 12, 0, 37, 0, time.UTC)
	later := letter(sample("late"))
	later.At = whole.Add(500 * time.Millisecond)
	earlier := letter(sample("early"))
	earlier.At = whole
	require.NoError(t, db.DeadLetter(ctx, later))
	require.NoError(t, db.DeadLetter(ctx, earlier))

	all, err := db.List(ctx)
	require.NoError(t, err)
	require.Len(t, all, 2)
	assert.Equal(t, "early", all[0].EventID)
	assert.Equal(t, "late", all[1].EventID)
	assert.True(t, whole.Equal(all[0].DeadLetteredAt))
	assert.True(t, later.At.Equal(all[1].DeadLetteredAt))
}

func TestSQLiteClosed(t *testing.T) {
	db, err := deadletter.NewSQLite(":memory:")
	require.NoError(t, err)
	require.NoError(t, db.Close())
	require.NoError(t, db.Close())

	ctx := context.Background()
	assert.ErrorIs(t, db.DeadLetter(ctx, letter(sample("E1"))), deadletter.ErrStoreClosed)
	_, err = db.Get(ctx, "E1")
	assert.ErrorIs(t, err, deadletter.ErrStoreClosed)
	_, err = db.List(ctx)
	assert.ErrorIs(t, err, deadletter.ErrStoreClosed)
}

func TestOpen(t *testing.T) {
	s, err := deadletter.Open(config.DeadLetterSettings{Strategy: config.DeadLetterNone})
	require.NoError(t, err)
	assert.IsType(t, deadletter.NoAction{}, s)

	dir := filepath.Join(t.TempDir(), "letters")
	s, err = deadletter.Open(config.DeadLetterSettings{Strategy: config.DeadLetterFile, Directory: dir})
	require.NoError(t, err)
	assert.IsType(t, &deadletter.File{}, s)
	assert.DirExists(t, dir)

	s, err = deadletter.Open(config.DeadLetterSettings{Strategy: config.DeadLetterSQLite, SQLitePath: ":memory:"})
	require.NoError(t, err)
	closer, ok := s.(io.Closer)
	require.True(t, ok)
	assert.NoError(t, closer.Close())

	_, err = deadletter.Open(config.DeadLetterSettings{Strategy: "s3"})
	assert.Error(t, err)
}
