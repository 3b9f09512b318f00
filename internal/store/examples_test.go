package store

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"taskforge/internal/types"
)

func newTestStore(t *testing.T) *ExampleStore {
	t.Helper()
	s, err := OpenExampleStore("sqlite", ":memory:")
	if err != nil {
		t.Fatalf("OpenExampleStore() error = %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func sample(task string) types.Example {
	return types.Example{
		TaskText:            task,
		Code:                "package main\n\nfunc Run() (string, error) { return \"ok\", nil }\n",
		DependencySignature: "add(a int, b int) int",
		TaskEmbedding:       []float32{0.1, 0.2, 0.3},
		DepEmbedding:        []float32{0.4, 0.5},
		Source:              "compile",
	}
}

func TestAddAssignsIDAndTime(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	ex, err := s.Add(ctx, sample("sum numbers"))
	if err != nil {
		t.Fatalf("Add() error = %v", err)
	}
	if ex.ID == "" {
		t.Fatal("expected generated id")
	}
	if ex.CreatedAt.IsZero() {
		t.Fatal("expected created_at")
	}

	got, err := s.Get(ctx, ex.ID)
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if got.TaskText != "sum numbers" || got.Code != ex.Code || got.Source != "compile" {
		t.Errorf("Get() = %+v", got)
	}
	if len(got.TaskEmbedding) != 3 || got.TaskEmbedding[2] != 0.3 {
		t.Errorf("task embedding = %v", got.TaskEmbedding)
	}
	if len(got.DepEmbedding) != 2 {
		t.Errorf("dep embedding = %v", got.DepEmbedding)
	}
	if !got.CreatedAt.Equal(ex.CreatedAt) {
		t.Errorf("created_at = %v, want %v", got.CreatedAt, ex.CreatedAt)
	}
}

func TestAddIsAppendOnly(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	ex := sample("a")
	ex.ID = "fixed"
	if _, err := s.Add(ctx, ex); err != nil {
		t.Fatal(err)
	}
	ex.TaskText = "overwrite attempt"
	if _, err := s.Add(ctx, ex); !errors.Is(err, ErrDuplicateExample) {
		t.Fatalf("second Add() error = %v, want ErrDuplicateExample", err)
	}
	got, _ := s.Get(ctx, "fixed")
	if got.TaskText != "a" {
		t.Errorf("stored example was modified: %q", got.TaskText)
	}
}

func TestAddRequiresEmbedding(t *testing.T) {
	s := newTestStore(t)
	ex := sample("x")
	ex.TaskEmbedding = nil
	if _, err := s.Add(context.Background(), ex); err == nil {
		t.Fatal("expected error for missing embedding")
	}
}

func TestAllInInsertionOrder(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	base := time.Now()
	for i, task := range []string{"first", "second", "third"} {
		ex := sample(task)
		// Creation time deliberately reversed: ordering follows insertion.
		ex.CreatedAt = base.Add(-time.Duration(i) * time.Hour)
		if _, err := s.Add(ctx, ex); err != nil {
			t.Fatal(err)
		}
	}

	all, err := s.All(ctx)
	if err != nil {
		t.Fatalf("All() error = %v", err)
	}
	if len(all) != 3 || all[0].TaskText != "first" || all[2].TaskText != "third" {
		t.Fatalf("All() order wrong: %v", all)
	}
	n, err := s.Count(ctx)
	if err != nil || n != 3 {
		t.Fatalf("Count() = %d, %v", n, err)
	}
}

func TestRemove(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	ex, _ := s.Add(ctx, sample("gone soon"))

	if err := s.Remove(ctx, ex.ID); err != nil {
		t.Fatalf("Remove() error = %v", err)
	}
	if _, err := s.Get(ctx, ex.ID); !errors.Is(err, ErrExampleNotFound) {
		t.Fatalf("Get() after remove error = %v", err)
	}
	if err := s.Remove(ctx, ex.ID); !errors.Is(err, ErrExampleNotFound) {
		t.Fatalf("second Remove() error = %v", err)
	}
}

func TestFileBackedStorePersists(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "examples.db")
	ctx := context.Background()

	s, err := OpenExampleStore("sqlite", path)
	if err != nil {
		t.Fatal(err)
	}
	ex, err := s.Add(ctx, sample("persist me"))
	if err != nil {
		t.Fatal(err)
	}
	s.Close()

	reopened, err := OpenExampleStore("sqlite", path)
	if err != nil {
		t.Fatal(err)
	}
	defer reopened.Close()
	if _, err := reopened.Get(ctx, ex.ID); err != nil {
		t.Fatalf("example lost after reopen: %v", err)
	}
}

func TestUnsupportedDriver(t *testing.T) {
	if _, err := OpenExampleStore("mysql", "x"); err == nil {
		t.Fatal("expected error for unsupported driver")
	}
}

func TestRebind(t *testing.T) {
	got := Rebind("INSERT INTO t (a, b) VALUES (?, ?) WHERE c = ?")
	want := "INSERT INTO t (a, b) VALUES ($1, $2) WHERE c = $3"
	if got != want {
		t.Errorf("Rebind() = %q, want %q", got, want)
	}
}
