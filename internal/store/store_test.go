package store

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/verte-zerg/panier/internal/model"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "nested", "panier.db"))
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	t.Cleanup(func() {
		if err := s.Close(); err != nil {
			t.Errorf("close: %v", err)
		}
	})
	return s
}

func TestCredentialsLifecycle(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)

	if _, err := s.LoadCredentials(ctx); !errors.Is(err, ErrNoCredentials) {
		t.Fatalf("expected ErrNoCredentials, got %v", err)
	}

	saved := time.Date(2024, 5, 1, 8, 30, 0, 0, time.UTC)
	if err := s.SaveCredentials(ctx, model.Credentials{Username: "alice", AccessToken: "a1", RefreshToken: "r1", SavedAt: saved}); err != nil {
		t.Fatalf("save: %v", err)
	}
	if err := s.SaveCredentials(ctx, model.Credentials{Username: "bob", AccessToken: "a2", RefreshToken: "r2", SavedAt: saved}); err != nil {
		t.Fatalf("save again: %v", err)
	}

	creds, err := s.LoadCredentials(ctx)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if creds.Username != "bob" || creds.AccessToken != "a2" || creds.RefreshToken != "r2" {
		t.Fatalf("unexpected credentials: %+v", creds)
	}
	if !creds.SavedAt.Equal(saved) {
		t.Fatalf("saved_at mismatch: %v", creds.SavedAt)
	}

	if err := s.ClearCredentials(ctx); err != nil {
		t.Fatalf("clear: %v", err)
	}
	if err := s.ClearCredentials(ctx); err != nil {
		t.Fatalf("clear twice: %v", err)
	}
	if _, err := s.LoadCredentials(ctx); !errors.Is(err, ErrNoCredentials) {
		t.Fatalf("expected ErrNoCredentials after clear, got %v", err)
	}
}

func TestExportHistory(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)

	base := time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)
	records := []model.ExportRecord{
		{View: "overview", Format: "xlsx", Path: "/tmp/a.xlsx", Rows: 10, ExportedAt: base},
		{View: "peak-times", Format: "csv", Path: "/tmp/b.csv", Rows: 3, ExportedAt: base.Add(time.Hour)},
		{View: "overview", Format: "csv", Path: "/tmp/c.csv", Rows: 7, ExportedAt: base.Add(2 * time.Hour)},
	}
	for _, rec := range records {
		id, err := s.InsertExport(ctx, rec)
		if err != nil {
			t.Fatalf("insert: %v", err)
		}
		if id <= 0 {
			t.Fatalf("unexpected id %d", id)
		}
	}

	all, err := s.ListExports(ctx, ExportQuery{})
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(all) != 3 {
		t.Fatalf("expected 3 exports, got %d", len(all))
	}
	if all[0].Path != "/tmp/c.csv" || all[2].Path != "/tmp/a.xlsx" {
		t.Fatalf("unexpected order: %+v", all)
	}

	overview, err := s.ListExports(ctx, ExportQuery{View: "overview", Limit: 1})
	if err != nil {
		t.Fatalf("list overview: %v", err)
	}
	if len(overview) != 1 || overview[0].Rows != 7 {
		t.Fatalf("unexpected overview exports: %+v", overview)
	}

	since := base.Add(30 * time.Minute)
	recent, err := s.ListExports(ctx, ExportQuery{Since: &since})
	if err != nil {
		t.Fatalf("list since: %v", err)
	}
	if len(recent) != 2 {
		t.Fatalf("expected 2 recent exports, got %d", len(recent))
	}
}
