package storage

import (
	"errors"
	"sort"
	"strings"
	"sync"
	"time"
)

var (
	// ErrInvalidNetwork indicates an empty network name.
	ErrInvalidNetwork = errors.New("network name must not be empty")
	// ErrInvalidMigrationNumber indicates a negative migration number.
	ErrInvalidMigrationNumber = errors.New("migration number must be a non-negative integer")
	// ErrInvalidDeployment indicates a deployment record without network or contract.
	ErrInvalidDeployment = errors.New("deployment must name a network and a contract")
)

// Deployment records a single contract creation produced by a migration.
type Deployment struct {
	ID          string    `yaml:"id" json:"id"`
	RunID       string    `yaml:"run_id" json:"runId"`
	Migration   string    `yaml:"migration" json:"migration"`
	Network     string    `yaml:"network" json:"network"`
	ChainID     string    `yaml:"chain_id,omitempty" json:"chainId,omitempty"`
	Contract    string    `yaml:"contract" json:"contract"`
	Address     string    `yaml:"address" json:"address"`
	TxHash      string    `yaml:"tx_hash,omitempty" json:"txHash,omitempty"`
	BlockNumber uint64    `yaml:"block_number,omitempty" json:"blockNumber,omitempty"`
	GasUsed     uint64    `yaml:"gas_used,omitempty" json:"gasUsed,omitempty"`
	Args        []string  `yaml:"args" json:"args"`
	DryRun      bool      `yaml:"dry_run,omitempty" json:"dryRun,omitempty"`
	// Failed marks a creation that was mined but reverted.
	Failed      bool      `yaml:"failed,omitempty" json:"failed,omitempty"`
	DeployedAt  time.Time `yaml:"deployed_at" json:"deployedAt"`
}

// Storage keeps migration progress and deployment records per network.
type Storage interface {
	LastCompleted(network string) (int, error)
	SetLastCompleted(network string, number int) error
	SaveDeployment(d Deployment) error
	Deployments(network string) ([]Deployment, error)
	Reset(network string) error
}

// networkState is the per-network bookkeeping shared by the implementations.
type networkState struct {
	LastCompleted int          `yaml:"last_completed_migration"`
	Deployments   []Deployment `yaml:"deployments,omitempty"`
}

// MemoryStorage keeps records in-memory and guards access with a RWMutex.
type MemoryStorage struct {
	mu       sync.RWMutex
	networks map[string]*networkState
}

// NewMemoryStorage returns an empty store.
func NewMemoryStorage() *MemoryStorage {
	return &MemoryStorage{
		networks: make(map[string]*networkState),
	}
}

// LastCompleted returns the highest migration number completed on network, or 0.
func (s *MemoryStorage) LastCompleted(network string) (int, error) {
	network, err := normalizeNetwork(network)
	if err != nil {
		return 0, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	if state, ok := s.networks[network]; ok {
		return state.LastCompleted, nil
	}
	return 0, nil
}

// SetLastCompleted records number as the last completed migration on network.
func (s *MemoryStorage) SetLastCompleted(network string, number int) error {
	network, err := normalizeNetwork(network)
	if err != nil {
		return err
	}
	if number < 0 {
		return ErrInvalidMigrationNumber
	}

	s.mu.Lock()
	s.state(network).LastCompleted = number
	s.mu.Unlock()

	return nil
}

// SaveDeployment appends d to the network's deployment history.
func (s *MemoryStorage) SaveDeployment(d Deployment) error {
	d, err := normalizeDeployment(d)
	if err != nil {
		return err
	}

	s.mu.Lock()
	state := s.state(d.Network)
	state.Deployments = append(state.Deployments, d)
	s.mu.Unlock()

	return nil
}

// Deployments returns a copy of the network's deployments ordered by time.
func (s *MemoryStorage) Deployments(network string) ([]Deployment, error) {
	network, err := normalizeNetwork(network)
	if err != nil {
		return nil, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	state, ok := s.networks[network]
	if !ok {
		return []Deployment{}, nil
	}
	return cloneAndSort(state.Deployments), nil
}

// Reset forgets migration progress on network. Deployment history is kept.
func (s *MemoryStorage) Reset(network string) error {
	network, err := normalizeNetwork(network)
	if err != nil {
		return err
	}

	s.mu.Lock()
	if state, ok := s.networks[network]; ok {
		state.LastCompleted = 0
	}
	s.mu.Unlock()

	return nil
}

// snapshot copies the state of one network so a failed write can be undone.
func (s *MemoryStorage) snapshot(network string) (networkState, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	state, ok := s.networks[strings.TrimSpace(network)]
	if !ok {
		return networkState{}, false
	}
	return networkState{
		LastCompleted: state.LastCompleted,
		Deployments:   append([]Deployment(nil), state.Deployments...),
	}, true
}

func (s *MemoryStorage) restore(network string, state networkState, existed bool) {
	network = strings.TrimSpace(network)

	s.mu.Lock()
	defer s.mu.Unlock()

	if !existed {
		delete(s.networks, network)
		return
	}
	s.networks[network] = &state
}

// state must be called with s.mu held for writing.
func (s *MemoryStorage) state(network string) *networkState {
	state, ok := s.networks[network]
	if !ok {
		state = &networkState{}
		s.networks[network] = state
	}
	return state
}

func normalizeNetwork(network string) (string, error) {
	network = strings.TrimSpace(network)
	if network == "" {
		return "", ErrInvalidNetwork
	}
	return network, nil
}

func normalizeDeployment(d Deployment) (Deployment, error) {
	network, err := normalizeNetwork(d.Network)
	if err != nil || strings.TrimSpace(d.Contract) == "" {
		return Deployment{}, ErrInvalidDeployment
	}
	d.Network = network
	d.Args = cloneArgs(d.Args)
	if d.DeployedAt.IsZero() {
		d.DeployedAt = time.Now().UTC()
	}
	return d, nil
}

func cloneAndSort(src []Deployment) []Deployment {
	if len(src) == 0 {
		return []Deployment{}
	}

	out := make([]Deployment, len(src))
	for i, d := range src {
		d.Args = cloneArgs(d.Args)
		out[i] = d
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].DeployedAt.Before(out[j].DeployedAt)
	})
	return out
}

func cloneArgs(args []string) []string {
	if args == nil {
		return []string{}
	}
	out := make([]string, len(args))
	copy(out, args)
	return out
}
