// Package storetest opens throwaway migrated sqlite stores for package tests.
package storetest

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/adonese/bizpilot/fields"
	"github.com/adonese/bizpilot/store"
	"gorm.io/gorm"
)

// New returns a migrated and seeded store backed by a temp sqlite file.
func New(t testing.TB) *store.Store {
	t.Helper()
	db, err := store.OpenFromConfig("", filepath.Join(t.TempDir(), "test.db"), "sqlite", store.Pool{})
	if err != nil {
		t.Fatalf("open test db: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })
	ctx := context.Background()
	if err := store.Migrate(ctx, db); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	s := store.New(db)
	if err := s.Seed(ctx); err != nil {
		t.Fatalf("seed: %v", err)
	}
	return s
}

// Gorm returns a gorm session over the test store.
func Gorm(t testing.TB, s *store.Store) *gorm.DB {
	t.Helper()
	g, err := s.Gorm()
	if err != nil {
		t.Fatalf("gorm: %v", err)
	}
	return g
}

// Upload records a validated upload row so purchases can reference it.
func Upload(t testing.TB, s *store.Store, ctype string) int64 {
	t.Helper()
	u := &fields.CSVUpload{CSVType: ctype, CSVPath: "memory", OriginalFilename: ctype + ".csv", Status: fields.UploadValidated}
	if err := s.CreateUpload(context.Background(), u); err != nil {
		t.Fatalf("create upload: %v", err)
	}
	return u.ID
}
