package storage

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/Conceptual-Machines/magda-composer/internal/composition"
	"github.com/Conceptual-Machines/magda-composer/internal/config"
	"github.com/Conceptual-Machines/magda-composer/internal/runtime"
	"github.com/Conceptual-Machines/magda-composer/internal/share"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testRun(objective string, created time.Time) *share.Run {
	c := composition.New()
	c.AddNote(composition.Note{Track: "piano", Pitch: "C4", Beat: 0, Duration: 1, Velocity: 80})
	c.AddNote(composition.Note{Track: "piano", Pitch: "E4", Beat: 1, Duration: 1, Velocity: 80})
	run := share.NewRun(c, objective, "gpt-4.1-mini", runtime.Metrics{TotalCalls: 2, SuccessCalls: 2}, nil)
	run.CreatedAt = created
	return run
}

// exerciseStore is shared by every backend
func exerciseStore(t *testing.T, s Store) {
	t.Helper()
	ctx := context.Background()
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	older := testRun("first", base)
	newer := testRun("second", base.Add(time.Hour))
	require.NoError(t, s.Save(ctx, older))
	require.NoError(t, s.Save(ctx, newer))

	got, err := s.Load(ctx, older.ID)
	require.NoError(t, err)
	assert.Equal(t, "first", got.Objective)
	assert.Len(t, got.Composition.Notes, 2)
	assert.Equal(t, 2.0, got.Composition.TotalBeats)

	list, err := s.List(ctx, 10)
	require.NoError(t, err)
	require.GreaterOrEqual(t, len(list), 2)
	assert.Equal(t, newer.ID, list[0].ID)
	assert.Equal(t, 2, list[0].NoteCount)

	limited, err := s.List(ctx, 1)
	require.NoError(t, err)
	assert.Len(t, limited, 1)

	// saving again replaces
	older.Objective = "first, edited"
	require.NoError(t, s.Save(ctx, older))
	got, err = s.Load(ctx, older.ID)
	require.NoError(t, err)
	assert.Equal(t, "first, edited", got.Objective)

	_, err = s.Load(ctx, "6f1c1d2e-0000-4000-8000-000000000000")
	assert.ErrorIs(t, err, ErrNotFound)
	_, err = s.Load(ctx, "../../etc/passwd")
	assert.ErrorIs(t, err, ErrNotFound)

	bad := testRun("bad", base)
	bad.ID = "not-a-uuid"
	assert.ErrorIs(t, s.Save(ctx, bad), share.ErrInvalidRun)
	assert.ErrorIs(t, s.Save(ctx, nil), share.ErrInvalidRun)
}

func TestLocalStore(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "runs")
	s, err := NewLocalStore(dir)
	require.NoError(t, err)
	defer s.Close()

	exerciseStore(t, s)

	// stray files are ignored by List
	require.NoError(t, os.WriteFile(filepath.Join(dir, "notes.txt"), []byte("x"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "6f1c1d2e-0000-4000-8000-00000000000a.json"), []byte("{"), 0o644))
	list, err := s.List(context.Background(), 0)
	require.NoError(t, err)
	assert.Len(t, list, 2)
}

func TestPostgresStore(t *testing.T) {
	dsn := os.Getenv("DATABASE_URL")
	if dsn == "" {
		t.Skip("DATABASE_URL not set, skipping integration test")
	}
	s, err := NewPostgresStore(dsn)
	require.NoError(t, err)
	defer s.Close()
	exerciseStore(t, s)
}

func TestGCSStore(t *testing.T) {
	bucket := os.Getenv("GCS_TEST_BUCKET")
	if bucket == "" {
		t.Skip("GCS_TEST_BUCKET not set, skipping integration test")
	}
	s, err := NewGCSStore(context.Background(), bucket, "test-"+time.Now().Format("20060102150405"), os.Getenv("GCS_CREDENTIALS_FILE"))
	require.NoError(t, err)
	defer s.Close()
	exerciseStore(t, s)
}

func TestGCSObjectNames(t *testing.T) {
	s := &GCSStore{objectPrefix: "composer"}
	assert.Equal(t, "composer/runs/abc.json", s.objectName("abc"))
	assert.Equal(t, "composer/runs/", s.listPrefix())
	assert.Equal(t, "runs/", (&GCSStore{}).listPrefix())

	created := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	sum, ok := summaryFromObject("composer/runs/6f1c1d2e-0000-4000-8000-000000000001.json",
		map[string]string{"objective": "lofi", "notes": "12", "created": created.Format(time.RFC3339Nano)}, time.Time{})
	require.True(t, ok)
	assert.Equal(t, "lofi", sum.Objective)
	assert.Equal(t, 12, sum.NoteCount)
	assert.True(t, created.Equal(sum.CreatedAt))

	_, ok = summaryFromObject("composer/runs/readme.txt", nil, time.Time{})
	assert.False(t, ok)
}

func TestNewSelectsBackend(t *testing.T) {
	s, err := New(context.Background(), &config.Config{StorageType: TypeLocal, StorageDir: t.TempDir()})
	require.NoError(t, err)
	assert.IsType(t, &LocalStore{}, s)

	_, err = New(context.Background(), &config.Config{StorageType: "s3"})
	assert.Error(t, err)

	_, err = New(context.Background(), &config.Config{StorageType: TypePostgres})
	assert.Error(t, err)
}
