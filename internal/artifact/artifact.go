// Package artifact loads compiled contract artifacts from a build directory.
// Each contract lives in <dir>/<ContractName>.json in the usual build output
// layout: a contractName, the ABI and the creation bytecode.
package artifact

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"sync"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common/hexutil"
)

// DefaultDir is where build artifacts are looked up when nothing else is configured.
const DefaultDir = "build/contracts"

var (
	// ErrArtifactNotFound is returned when no artifact file exists for a contract.
	ErrArtifactNotFound = errors.New("artifact not found")
	// ErrInvalidArtifact is returned when an artifact file cannot be used for deployment.
	ErrInvalidArtifact = errors.New("invalid artifact")
)

var validName = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

// Artifact is a compiled contract ready to be deployed.
type Artifact struct {
	ContractName string
	ABI          abi.ABI
	Bytecode     []byte
}

// Constructor returns the constructor inputs. Contracts without an explicit
// constructor yield an empty list.
func (a *Artifact) Constructor() abi.Arguments {
	return a.ABI.Constructor.Inputs
}

type artifactFile struct {
	ContractName string          `json:"contractName"`
	ABI          json.RawMessage `json:"abi"`
	Bytecode     string          `json:"bytecode"`
}

// Parse decodes an artifact document.
func Parse(data []byte) (*Artifact, error) {
	var file artifactFile
	if err := json.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidArtifact, err)
	}
	if !validName.MatchString(file.ContractName) {
		return nil, fmt.Errorf("%w: contract name %q", ErrInvalidArtifact, file.ContractName)
	}
	if len(file.ABI) == 0 {
		return nil, fmt.Errorf("%w: %s has no abi", ErrInvalidArtifact, file.ContractName)
	}

	parsed, err := abi.JSON(bytes.NewReader(file.ABI))
	if err != nil {
		return nil, fmt.Errorf("%w: %s abi: %v", ErrInvalidArtifact, file.ContractName, err)
	}

	code := strings.TrimSpace(file.Bytecode)
	if !strings.HasPrefix(code, "0x") {
		code = "0x" + code
	}
	bytecode, err := hexutil.Decode(code)
	if err != nil {
		return nil, fmt.Errorf("%w: %s bytecode: %v", ErrInvalidArtifact, file.ContractName, err)
	}
	if len(bytecode) == 0 {
		return nil, fmt.Errorf("%w: %s has empty bytecode (abstract contract or interface?)", ErrInvalidArtifact, file.ContractName)
	}

	return &Artifact{
		ContractName: file.ContractName,
		ABI:          parsed,
		Bytecode:     bytecode,
	}, nil
}

// Store resolves contract names to artifacts and caches them.
type Store struct {
	dir string

	mu    sync.Mutex
	cache map[string]*Artifact
}

// NewStore creates a store reading from dir.
func NewStore(dir string) *Store {
	if dir == "" {
		dir = DefaultDir
	}
	return &Store{
		dir:   dir,
		cache: make(map[string]*Artifact),
	}
}

// Dir returns the build directory backing the store.
func (s *Store) Dir() string {
	return s.dir
}

// Require returns the artifact for the named contract.
func (s *Store) Require(name string) (*Artifact, error) {
	if !validName.MatchString(name) {
		return nil, fmt.Errorf("%w: contract name %q", ErrInvalidArtifact, name)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if a, ok := s.cache[name]; ok {
		return a, nil
	}

	path := filepath.Join(s.dir, name+".json")
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("%w: %s (looked in %s)", ErrArtifactNotFound, name, s.dir)
		}
		return nil, fmt.Errorf("read artifact %s: %w", name, err)
	}

	a, err := Parse(data)
	if err != nil {
		return nil, err
	}
	if a.ContractName != name {
		return nil, fmt.Errorf("%w: %s declares contractName %q", ErrInvalidArtifact, path, a.ContractName)
	}

	s.cache[name] = a
	return a, nil
}
