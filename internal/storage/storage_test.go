package storage

import (
	"errors"
	"fmt"
	"slices"
	"sync"
	"testing"
	"time"
)

func TestNewMemoryStorageStartsEmpty(t *testing.T) {
	t.Parallel()

	store := NewMemoryStorage()

	last, err := store.LastCompleted("development")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if last != 0 {
		t.Fatalf("expected 0, got %d", last)
	}

	deployments, err := store.Deployments("development")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(deployments) != 0 {
		t.Fatalf("expected no deployments, got %v", deployments)
	}
}

func TestSetLastCompletedUpdatesState(t *testing.T) {
	t.Parallel()

	store := NewMemoryStorage()
	if err := store.SetLastCompleted("development", 2); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	last, err := store.LastCompleted(" development ")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if last != 2 {
		t.Fatalf("expected 2, got %d", last)
	}

	other, err := store.LastCompleted("mainnet")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if other != 0 {
		t.Fatalf("expected networks to be independent, got %d", other)
	}
}

func TestSaveDeploymentReturnsDefensiveCopies(t *testing.T) {
	t.Parallel()

	store := NewMemoryStorage()
	args := []string{"0x01", "42"}
	if err := store.SaveDeployment(Deployment{Network: "development", Contract: "CrowdSale", Args: args}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	args[0] = "mutated"

	got, err := store.Deployments("development")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(got) != 1 {
		t.Fatalf("expected 1 deployment, got %d", len(got))
	}
	if want := []string{"0x01", "42"}; !slices.Equal(got[0].Args, want) {
		t.Fatalf("expected args %v, got %v", want, got[0].Args)
	}
	if got[0].DeployedAt.IsZero() {
		t.Fatalf("expected DeployedAt to be stamped")
	}

	got[0].Args[1] = "999"
	again, err := store.Deployments("development")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if again[0].Args[1] != "42" {
		t.Fatalf("expected defensive copy, got %v", again[0].Args)
	}
}

func TestDeploymentsOrderedByTime(t *testing.T) {
	t.Parallel()

	store := NewMemoryStorage()
	base := time.Date(2024, 11, 1, 12, 0, 0, 0, time.UTC)
	for _, d := range []Deployment{
		{Network: "dev", Contract: "B", DeployedAt: base.Add(time.Minute)},
		{Network: "dev", Contract: "A", DeployedAt: base},
	} {
		if err := store.SaveDeployment(d); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
	}

	got, err := store.Deployments("dev")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got[0].Contract != "A" || got[1].Contract != "B" {
		t.Fatalf("unexpected order: %s, %s", got[0].Contract, got[1].Contract)
	}
}

func TestResetKeepsHistory(t *testing.T) {
	t.Parallel()

	store := NewMemoryStorage()
	_ = store.SetLastCompleted("dev", 2)
	_ = store.SaveDeployment(Deployment{Network: "dev", Contract: "CrowdSale"})

	if err := store.Reset("dev"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	last, _ := store.LastCompleted("dev")
	if last != 0 {
		t.Fatalf("expected reset progress, got %d", last)
	}
	deployments, _ := store.Deployments("dev")
	if len(deployments) != 1 {
		t.Fatalf("expected history to survive reset, got %d", len(deployments))
	}
}

func TestStorageRejectsInvalidInput(t *testing.T) {
	t.Parallel()

	store := NewMemoryStorage()

	if _, err := store.LastCompleted("  "); !errors.Is(err, ErrInvalidNetwork) {
		t.Fatalf("expected ErrInvalidNetwork, got %v", err)
	}
	if err := store.SetLastCompleted("dev", -1); !errors.Is(err, ErrInvalidMigrationNumber) {
		t.Fatalf("expected ErrInvalidMigrationNumber, got %v", err)
	}

	testCases := []Deployment{
		{},
		{Network: "dev"},
		{Contract: "CrowdSale"},
	}
	for idx, tc := range testCases {
		t.Run(fmt.Sprintf("case_%d", idx), func(t *testing.T) {
			if err := store.SaveDeployment(tc); !errors.Is(err, ErrInvalidDeployment) {
				t.Fatalf("expected ErrInvalidDeployment for %+v, got %v", tc, err)
			}
		})
	}
}

func TestMemoryStorageConcurrentAccess(t *testing.T) {
	store := NewMemoryStorage()
	var wg sync.WaitGroup

	for i := 0; i < 32; i++ {
		wg.Add(2)

		go func(n int) {
			defer wg.Done()
			if err := store.SetLastCompleted("dev", n); err != nil {
				t.Errorf("SetLastCompleted failed: %v", err)
			}
			if err := store.SaveDeployment(Deployment{Network: "dev", Contract: "C"}); err != nil {
				t.Errorf("SaveDeployment failed: %v", err)
			}
		}(i)

		go func() {
			defer wg.Done()
			if _, err := store.Deployments("dev"); err != nil {
				t.Errorf("Deployments failed: %v", err)
			}
		}()
	}

	wg.Wait()

	got, err := store.Deployments("dev")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(got) != 32 {
		t.Fatalf("expected 32 deployments, got %d", len(got))
	}
}
