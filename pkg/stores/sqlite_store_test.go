package stores

import (
	"context"
	"path/filepath"
	"testing"
	"time"
)

func setupSQLiteStore(t *testing.T) *SQLiteStore {
	t.Helper()

	store, err := NewSQLiteStore(SQLiteConfig{Path: filepath.Join(t.TempDir(), "stagehand.db")})
	if err != nil {
		t.Fatalf("Failed to create store: %v", err)
	}
	if err := store.Init(context.Background()); err != nil {
		t.Fatalf("Failed to init store: %v", err)
	}
	if err := store.Migrate(context.Background()); err != nil {
		t.Fatalf("Failed to migrate store: %v", err)
	}
	t.Cleanup(func() {
		_ = store.Close()
	})
	return store
}

func TestSQLiteStore_RequiresPath(t *testing.T) {
	if _, err := NewSQLiteStore(SQLiteConfig{}); err == nil {
		t.Error("Expected error for empty database path")
	}
}

func TestSQLiteStore_Lifecycle(t *testing.T) {
	store := setupSQLiteStore(t)

	if err := store.HealthCheck(context.Background()); err != nil {
		t.Errorf("Expected healthy store, got: %v", err)
	}
	if err := store.Close(); err != nil {
		t.Errorf("Expected close to succeed, got: %v", err)
	}
}

func TestSQLiteStore_Migrations(t *testing.T) {
	store := setupSQLiteStore(t)

	// Migrating an up-to-date database is a no-op.
	if err := store.Migrate(context.Background()); err != nil {
		t.Fatalf("Expected repeat migrate to succeed, got: %v", err)
	}

	var count int
	if err := store.db.QueryRowContext(context.Background(), "SELECT COUNT(*) FROM instances").Scan(&count); err != nil {
		t.Fatalf("Expected instances table to exist: %v", err)
	}
	if count != 0 {
		t.Errorf("Expected empty instances table, got %d rows", count)
	}
}

func TestSQLiteStore_SaveAndGet(t *testing.T) {
	store := setupSQLiteStore(t)

	instance := testInstance("inst-1", time.Now().UTC())
	if err := store.Save(context.Background(), instance); err != nil {
		t.Fatalf("Failed to save: %v", err)
	}

	got, err := store.Get(context.Background(), "inst-1")
	if err != nil {
		t.Fatalf("Failed to get: %v", err)
	}
	if got.ScenarioID != "retail-demo" || got.Tenant != "org-1" {
		t.Errorf("Unexpected instance: %+v", got)
	}
	if len(got.Repositories) != 1 || got.Repositories[0].Organization != "acme" {
		t.Errorf("Expected repository record preserved, got %+v", got.Repositories)
	}
	if len(got.Components) != 1 || got.Components[0].RepositoryURL != "https://forge.example/acme/acme-shop" {
		t.Errorf("Expected component record preserved, got %+v", got.Components)
	}
	env := got.Environments[0]
	if len(env.Variables) != 1 || env.Variables[0].Name != "REGION" {
		t.Errorf("Expected environment variables preserved, got %+v", env.Variables)
	}
	if len(env.FlagIDs) != 1 || env.FlagIDs[0] != "flag-1" {
		t.Errorf("Expected environment flag ids preserved, got %+v", env.FlagIDs)
	}
	app := got.Applications[0]
	if len(app.ComponentIDs) != 1 || len(app.EnvironmentIDs) != 1 {
		t.Errorf("Expected application links preserved, got %+v", app)
	}
}

func TestSQLiteStore_SaveRequiresID(t *testing.T) {
	store := setupSQLiteStore(t)

	if err := store.Save(context.Background(), &Instance{}); err == nil {
		t.Error("Expected error for instance without ID")
	}
}

func TestSQLiteStore_SaveReplacesExisting(t *testing.T) {
	store := setupSQLiteStore(t)

	instance := testInstance("inst-1", time.Now().UTC())
	if err := store.Save(context.Background(), instance); err != nil {
		t.Fatalf("Failed to save: %v", err)
	}

	instance.Name = "renamed-demo"
	expiry := time.Now().UTC().Add(time.Hour)
	instance.ExpiresAt = &expiry
	if err := store.Save(context.Background(), instance); err != nil {
		t.Fatalf("Failed to resave: %v", err)
	}

	got, err := store.Get(context.Background(), "inst-1")
	if err != nil {
		t.Fatalf("Failed to get: %v", err)
	}
	if got.Name != "renamed-demo" {
		t.Errorf("Expected updated name, got %q", got.Name)
	}
	if got.ExpiresAt == nil || !got.ExpiresAt.Equal(expiry) {
		t.Errorf("Expected updated expiry, got %v", got.ExpiresAt)
	}

	list, err := store.List(context.Background())
	if err != nil {
		t.Fatalf("Failed to list: %v", err)
	}
	if len(list) != 1 {
		t.Errorf("Expected one instance after resave, got %d", len(list))
	}
}

func TestSQLiteStore_GetNotFound(t *testing.T) {
	store := setupSQLiteStore(t)

	if _, err := store.Get(context.Background(), "nope"); err == nil {
		t.Error("Expected error for unknown instance id")
	}
}

func TestSQLiteStore_ListOrderedByCreation(t *testing.T) {
	store := setupSQLiteStore(t)

	base := time.Now().UTC()
	for _, tc := range []struct {
		id     string
		offset time.Duration
	}{
		{"inst-c", 2 * time.Hour},
		{"inst-a", 0},
		{"inst-b", time.Hour},
	} {
		if err := store.Save(context.Background(), testInstance(tc.id, base.Add(tc.offset))); err != nil {
			t.Fatalf("Failed to save %s: %v", tc.id, err)
		}
	}

	list, err := store.List(context.Background())
	if err != nil {
		t.Fatalf("Failed to list: %v", err)
	}
	want := []string{"inst-a", "inst-b", "inst-c"}
	if len(list) != len(want) {
		t.Fatalf("Expected %d instances, got %d", len(want), len(list))
	}
	for i, id := range want {
		if list[i].ID != id {
			t.Errorf("Expected position %d to be %s, got %s", i, id, list[i].ID)
		}
	}
}

func TestSQLiteStore_Delete(t *testing.T) {
	store := setupSQLiteStore(t)

	if err := store.Save(context.Background(), testInstance("inst-1", time.Now().UTC())); err != nil {
		t.Fatalf("Failed to save: %v", err)
	}
	if err := store.Delete(context.Background(), "inst-1"); err != nil {
		t.Fatalf("Failed to delete: %v", err)
	}
	if _, err := store.Get(context.Background(), "inst-1"); err == nil {
		t.Error("Expected instance gone after delete")
	}
	if err := store.Delete(context.Background(), "inst-1"); err == nil {
		t.Error("Expected error deleting missing instance")
	}
}

func TestSQLiteStore_ListExpired(t *testing.T) {
	store := setupSQLiteStore(t)

	now := time.Now().UTC()
	save := func(id string, expiresAt *time.Time) {
		t.Helper()
		instance := testInstance(id, now.Add(-time.Hour))
		instance.ExpiresAt = expiresAt
		if err := store.Save(context.Background(), instance); err != nil {
			t.Fatalf("Failed to save %s: %v", id, err)
		}
	}

	past := now.Add(-time.Minute)
	exact := now
	future := now.Add(time.Minute)
	save("inst-past", &past)
	save("inst-exact", &exact)
	save("inst-future", &future)
	save("inst-none", nil)

	expired, err := store.ListExpired(context.Background(), now)
	if err != nil {
		t.Fatalf("Failed to list expired: %v", err)
	}

	got := make(map[string]bool)
	for _, instance := range expired {
		got[instance.ID] = true
	}
	if len(expired) != 2 || !got["inst-past"] || !got["inst-exact"] {
		t.Errorf("Expected inst-past and inst-exact, got %v", got)
	}
}

func TestSQLiteStore_ListExpired_SubsecondBoundary(t *testing.T) {
	store := setupSQLiteStore(t)

	// Expiry timestamps differing only in fractional seconds still compare
	// chronologically in the stored TEXT form.
	base := time.Date(2026, 8, 31, 12, 0, 5, 0, time.UTC)
	save := func(id string, expiresAt time.Time) {
		t.Helper()
		instance := testInstance(id, base.Add(-time.Hour))
		instance.ExpiresAt = &expiresAt
		if err := store.Save(context.Background(), instance); err != nil {
			t.Fatalf("Failed to save %s: %v", id, err)
		}
	}

	save("inst-early", base.Add(50*time.Millisecond))
	save("inst-late", base.Add(150*time.Millisecond))

	expired, err := store.ListExpired(context.Background(), base.Add(100*time.Millisecond))
	if err != nil {
		t.Fatalf("Failed to list expired: %v", err)
	}
	if len(expired) != 1 || expired[0].ID != "inst-early" {
		ids := make([]string, 0, len(expired))
		for _, instance := range expired {
			ids = append(ids, instance.ID)
		}
		t.Errorf("Expected only inst-early to be expired, got %v", ids)
	}
}
