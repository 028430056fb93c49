package storage

import (
	"os"
	"path/filepath"
	"slices"
	"testing"
)

func TestFileStorageMissingFileIsEmpty(t *testing.T) {
	path := filepath.Join(t.TempDir(), "records.yaml")

	store, err := NewFileStorage(path)
	if err != nil {
		t.Fatalf("NewFileStorage returned error: %v", err)
	}
	last, err := store.LastCompleted("dev")
	if err != nil || last != 0 {
		t.Fatalf("expected empty store, got %d (%v)", last, err)
	}
	if _, err := os.Stat(path); !os.IsNotExist(err) {
		t.Fatalf("expected file to be created lazily, stat err: %v", err)
	}
}

func TestFileStoragePersistsAcrossReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "records.yaml")

	store, err := NewFileStorage(path)
	if err != nil {
		t.Fatalf("NewFileStorage returned error: %v", err)
	}
	if err := store.SaveDeployment(Deployment{
		ID:       "abc",
		Network:  "dev",
		Contract: "CrowdSale",
		Address:  "0x0000000000000000000000000000000000000001",
		Args:     []string{"a", "1", "b"},
	}); err != nil {
		t.Fatalf("SaveDeployment returned error: %v", err)
	}
	if err := store.SetLastCompleted("dev", 2); err != nil {
		t.Fatalf("SetLastCompleted returned error: %v", err)
	}

	reopened, err := NewFileStorage(path)
	if err != nil {
		t.Fatalf("reopen returned error: %v", err)
	}
	last, err := reopened.LastCompleted("dev")
	if err != nil {
		t.Fatalf("LastCompleted returned error: %v", err)
	}
	if last != 2 {
		t.Fatalf("expected 2, got %d", last)
	}

	deployments, err := reopened.Deployments("dev")
	if err != nil {
		t.Fatalf("Deployments returned error: %v", err)
	}
	if len(deployments) != 1 {
		t.Fatalf("expected 1 deployment, got %d", len(deployments))
	}
	got := deployments[0]
	if got.ID != "abc" || got.Contract != "CrowdSale" {
		t.Fatalf("unexpected deployment: %+v", got)
	}
	if want := []string{"a", "1", "b"}; !slices.Equal(got.Args, want) {
		t.Fatalf("expected args %v, got %v", want, got.Args)
	}
}

func TestFileStorageResetPersists(t *testing.T) {
	path := filepath.Join(t.TempDir(), "records.yaml")

	store, err := NewFileStorage(path)
	if err != nil {
		t.Fatalf("NewFileStorage returned error: %v", err)
	}
	_ = store.SetLastCompleted("dev", 2)
	if err := store.Reset("dev"); err != nil {
		t.Fatalf("Reset returned error: %v", err)
	}

	reopened, err := NewFileStorage(path)
	if err != nil {
		t.Fatalf("reopen returned error: %v", err)
	}
	if last, _ := reopened.LastCompleted("dev"); last != 0 {
		t.Fatalf("expected reset to persist, got %d", last)
	}
}

func TestFileStorageRejectsCorruptFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "records.yaml")
	if err := os.WriteFile(path, []byte("networks: [not, a, map"), 0o600); err != nil {
		t.Fatalf("write fixture: %v", err)
	}

	if _, err := NewFileStorage(path); err == nil {
		t.Fatalf("expected error for corrupt records file")
	}
}

func TestNewFileStorageRequiresPath(t *testing.T) {
	if _, err := NewFileStorage(""); err == nil {
		t.Fatalf("expected error for empty path")
	}
}

func TestFileStorageRollsBackWhenWriteFails(t *testing.T) {
	path := filepath.Join(t.TempDir(), "records.yaml")

	store, err := NewFileStorage(path)
	if err != nil {
		t.Fatalf("NewFileStorage returned error: %v", err)
	}
	if err := store.SetLastCompleted("dev", 1); err != nil {
		t.Fatalf("SetLastCompleted returned error: %v", err)
	}

	// A directory at the records path makes the final rename fail.
	if err := os.Remove(path); err != nil {
		t.Fatalf("remove records file: %v", err)
	}
	if err := os.MkdirAll(filepath.Join(path, "blocker"), 0o755); err != nil {
		t.Fatalf("create blocking dir: %v", err)
	}

	if err := store.SetLastCompleted("dev", 2); err == nil {
		t.Fatalf("expected write error")
	}
	if last, _ := store.LastCompleted("dev"); last != 1 {
		t.Fatalf("expected progress to roll back to 1, got %d", last)
	}

	if err := store.SaveDeployment(Deployment{Network: "dev", Contract: "CrowdSale"}); err == nil {
		t.Fatalf("expected write error")
	}
	if deployments, _ := store.Deployments("dev"); len(deployments) != 0 {
		t.Fatalf("expected failed deployment to be discarded, got %d", len(deployments))
	}

	if err := store.SetLastCompleted("sepolia", 3); err == nil {
		t.Fatalf("expected write error")
	}
	store.mem.mu.RLock()
	_, tracked := store.mem.networks["sepolia"]
	store.mem.mu.RUnlock()
	if tracked {
		t.Fatalf("expected new network to be forgotten after failed write")
	}
}
