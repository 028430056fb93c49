// Package migration holds the deployment scripts and the runner that applies
// them to a network in order, recording progress as it goes.
package migration

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"github.com/eugenenazirov/crowdsale-migrations/internal/artifact"
	"github.com/eugenenazirov/crowdsale-migrations/internal/storage"
)

var (
	// ErrDuplicateMigration is returned when two migrations share a number.
	ErrDuplicateMigration = errors.New("duplicate migration number")
	// ErrInvalidMigration is returned for migrations without a positive number, name or body.
	ErrInvalidMigration = errors.New("migration must have a positive number, a name and a run function")
	// ErrInvalidRange is returned when the requested from/to bounds are inverted.
	ErrInvalidRange = errors.New("from must not be greater than to")
)

// Deployer creates contracts on a network. Args are forwarded verbatim; any
// conversion into ABI values happens inside the implementation.
type Deployer interface {
	Deploy(ctx context.Context, contract *artifact.Artifact, args ...string) (*storage.Deployment, error)
}

// Artifacts resolves contract names to build artifacts.
type Artifacts interface {
	Require(name string) (*artifact.Artifact, error)
}

// Migration is a single numbered deployment step.
type Migration struct {
	Number int
	Name   string
	Run    func(ctx context.Context, deployer Deployer, artifacts Artifacts) error
}

// All returns the migrations shipped with this module, ordered by number.
func All() []Migration {
	return []Migration{
		DeployCrowdSale(),
	}
}

// sortMigrations validates and orders a set of migrations.
func sortMigrations(migrations []Migration) ([]Migration, error) {
	out := make([]Migration, len(migrations))
	copy(out, migrations)

	seen := make(map[int]string, len(out))
	for _, m := range out {
		if m.Number <= 0 || m.Name == "" || m.Run == nil {
			return nil, fmt.Errorf("%w: %q", ErrInvalidMigration, m.Name)
		}
		if prev, ok := seen[m.Number]; ok {
			return nil, fmt.Errorf("%w %d: %s and %s", ErrDuplicateMigration, m.Number, prev, m.Name)
		}
		seen[m.Number] = m.Name
	}

	sort.Slice(out, func(i, j int) bool {
		return out[i].Number < out[j].Number
	})
	return out, nil
}
