package shadow

import (
	"context"
	"database/sql"
	"errors"
	"reflect"
	"sync"
	"testing"

	_ "github.com/mattn/go-sqlite3"
)

// setupTestDB creates an in-memory SQLite database with the shadows table.
func setupTestDB(t *testing.T) *sql.DB {
	t.Helper()

	db, err := sql.Open("sqlite3", ":memory:")
	if err != nil {
		t.Fatalf("failed to open test database: %v", err)
	}

	// Every pooled connection to ":memory:" is a separate database, so
	// force a single connection like the production pool does.
	db.SetMaxOpenConns(1)

	schema := `
		CREATE TABLE shadows (
			device_id TEXT PRIMARY KEY,
			reported TEXT NOT NULL DEFAULT '{}',
			desired TEXT NOT NULL DEFAULT '{}',
			version INTEGER NOT NULL,
			updated_at TEXT NOT NULL
		) STRICT;
	`
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		t.Fatalf("failed to create test schema: %v", err)
	}

	t.Cleanup(func() {
		db.Close()
	})

	return db
}

func TestSQLiteRepository_CreateAndGet(t *testing.T) {
	repo := NewSQLiteRepository(setupTestDB(t))
	ctx := context.Background()

	sh := NewShadow("dev-1", NewState(map[string]any{"temp": 50.0, "on": true}))
	if err := repo.Create(ctx, sh); err != nil {
		t.Fatalf("Create() error = %v", err)
	}

	got, err := repo.Get(ctx, "dev-1")
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if got.DeviceID != "dev-1" {
		t.Errorf("DeviceID = %q, want dev-1", got.DeviceID)
	}
	if got.Version != 1 {
		t.Errorf("Version = %d, want 1", got.Version)
	}
	want := map[string]any{"temp": 50.0, "on": true}
	if !reflect.DeepEqual(got.Reported.Map(), want) {
		t.Errorf("Reported = %v, want %v", got.Reported.Map(), want)
	}
	if got.Timestamp.IsZero() {
		t.Error("Timestamp not round-tripped")
	}
}

func TestSQLiteRepository_GetMissing(t *testing.T) {
	repo := NewSQLiteRepository(setupTestDB(t))

	_, err := repo.Get(context.Background(), "missing")
	if !errors.Is(err, ErrNotFound) {
		t.Errorf("Get(missing) error = %v, want ErrNotFound", err)
	}
}

func TestSQLiteRepository_CreateDuplicate(t *testing.T) {
	repo := NewSQLiteRepository(setupTestDB(t))
	ctx := context.Background()

	if err := repo.Create(ctx, NewShadow("dev-1", NewState(map[string]any{"temp": 50.0}))); err != nil {
		t.Fatalf("Create() error = %v", err)
	}

	err := repo.Create(ctx, NewShadow("dev-1", State{}))
	if !errors.Is(err, ErrExists) {
		t.Errorf("duplicate Create() error = %v, want ErrExists", err)
	}

	got, err := repo.Get(ctx, "dev-1")
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if got.Version != 1 {
		t.Errorf("Version after failed create = %d, want 1", got.Version)
	}
	if v, _ := got.Reported.Get("temp"); v != 50.0 {
		t.Errorf("Reported after failed create = %v, want 50", v)
	}
}

func TestSQLiteRepository_UpdateReported(t *testing.T) {
	repo := NewSQLiteRepository(setupTestDB(t))
	ctx := context.Background()

	if err := repo.Create(ctx, NewShadow("dev-1", NewState(map[string]any{"temp": 50.0, "on": true}))); err != nil {
		t.Fatalf("Create() error = %v", err)
	}

	got, err := repo.UpdateReported(ctx, "dev-1", NewState(map[string]any{"temp": 55.0}))
	if err != nil {
		t.Fatalf("UpdateReported() error = %v", err)
	}
	if got.Version != 2 {
		t.Errorf("Version = %d, want 2", got.Version)
	}
	want := map[string]any{"temp": 55.0, "on": true}
	if !reflect.DeepEqual(got.Reported.Map(), want) {
		t.Errorf("Reported = %v, want %v", got.Reported.Map(), want)
	}

	// Persisted result matches the returned copy
	stored, err := repo.Get(ctx, "dev-1")
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if stored.Version != 2 || !reflect.DeepEqual(stored.Reported.Map(), want) {
		t.Errorf("stored shadow = v%d %v, want v2 %v", stored.Version, stored.Reported.Map(), want)
	}

	_, err = repo.UpdateReported(ctx, "missing", State{})
	if !errors.Is(err, ErrNotFound) {
		t.Errorf("UpdateReported(missing) error = %v, want ErrNotFound", err)
	}
}

func TestSQLiteRepository_ConvergenceScenario(t *testing.T) {
	repo := NewSQLiteRepository(setupTestDB(t))
	ctx := context.Background()

	if err := repo.Create(ctx, NewShadow("dev-1", NewState(map[string]any{"temp": 50.0}))); err != nil {
		t.Fatalf("Create() error = %v", err)
	}

	sh, err := repo.UpdateDesired(ctx, "dev-1", NewState(map[string]any{"temp": 55.0}))
	if err != nil {
		t.Fatalf("UpdateDesired() error = %v", err)
	}
	if sh.Version != 2 {
		t.Errorf("Version = %d, want 2", sh.Version)
	}

	delta, err := repo.Delta(ctx, "dev-1")
	if err != nil {
		t.Fatalf("Delta() error = %v", err)
	}
	if !reflect.DeepEqual(delta, map[string]any{"temp": 55.0}) {
		t.Errorf("Delta() = %v, want {temp: 55}", delta)
	}

	sh, err = repo.UpdateReported(ctx, "dev-1", NewState(map[string]any{"temp": 55.0}))
	if err != nil {
		t.Fatalf("UpdateReported() error = %v", err)
	}
	if sh.Version != 3 {
		t.Errorf("Version = %d, want 3", sh.Version)
	}

	delta, err = repo.Delta(ctx, "dev-1")
	if err != nil {
		t.Fatalf("Delta() error = %v", err)
	}
	if len(delta) != 0 {
		t.Errorf("Delta() = %v, want empty after convergence", delta)
	}
}

func TestSQLiteRepository_ClearDesired(t *testing.T) {
	repo := NewSQLiteRepository(setupTestDB(t))
	ctx := context.Background()

	if err := repo.Create(ctx, NewShadow("dev-1", State{})); err != nil {
		t.Fatalf("Create() error = %v", err)
	}
	if _, err := repo.UpdateDesired(ctx, "dev-1", NewState(map[string]any{"mode": "eco"})); err != nil {
		t.Fatalf("UpdateDesired() error = %v", err)
	}

	sh, err := repo.ClearDesired(ctx, "dev-1")
	if err != nil {
		t.Fatalf("ClearDesired() error = %v", err)
	}
	if sh.Version != 3 {
		t.Errorf("Version = %d, want 3", sh.Version)
	}
	if sh.Desired.Len() != 0 {
		t.Errorf("Desired.Len() = %d, want 0", sh.Desired.Len())
	}
}

func TestSQLiteRepository_Delete(t *testing.T) {
	repo := NewSQLiteRepository(setupTestDB(t))
	ctx := context.Background()

	if err := repo.Create(ctx, NewShadow("dev-1", State{})); err != nil {
		t.Fatalf("Create() error = %v", err)
	}

	if err := repo.Delete(ctx, "dev-1"); err != nil {
		t.Fatalf("Delete() error = %v", err)
	}
	if err := repo.Delete(ctx, "dev-1"); !errors.Is(err, ErrNotFound) {
		t.Errorf("second Delete() error = %v, want ErrNotFound", err)
	}
}

func TestSQLiteRepository_List(t *testing.T) {
	repo := NewSQLiteRepository(setupTestDB(t))
	ctx := context.Background()

	for _, id := range []string{"dev-b", "dev-a"} {
		if err := repo.Create(ctx, NewShadow(id, State{})); err != nil {
			t.Fatalf("Create(%s) error = %v", id, err)
		}
	}

	shadows, err := repo.List(ctx)
	if err != nil {
		t.Fatalf("List() error = %v", err)
	}
	if len(shadows) != 2 || shadows[0].DeviceID != "dev-a" || shadows[1].DeviceID != "dev-b" {
		t.Errorf("List() = %v, want [dev-a dev-b]", shadows)
	}
}

// TestSQLiteRepository_ConcurrentWriters verifies the compare-and-swap loop
// closes the fetch→mutate→write lost-update window: every writer's version
// bump lands.
func TestSQLiteRepository_ConcurrentWriters(t *testing.T) {
	repo := NewSQLiteRepository(setupTestDB(t))
	ctx := context.Background()

	if err := repo.Create(ctx, NewShadow("dev-1", State{})); err != nil {
		t.Fatalf("Create() error = %v", err)
	}

	// Modest writer count: the retry budget bounds how much contention a
	// single CAS attempt can absorb, and the single test connection already
	// serialises the statements themselves.
	const writers = 4
	var wg sync.WaitGroup
	wg.Add(writers)
	for i := 0; i < writers; i++ {
		go func(n int) {
			defer wg.Done()
			if _, err := repo.UpdateReported(ctx, "dev-1", NewState(map[string]any{"n": float64(n)})); err != nil {
				t.Errorf("UpdateReported() error = %v", err)
			}
		}(i)
	}
	wg.Wait()

	got, err := repo.Get(ctx, "dev-1")
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if got.Version != int64(1+writers) {
		t.Errorf("Version = %d, want %d (lost update)", got.Version, 1+writers)
	}
}
