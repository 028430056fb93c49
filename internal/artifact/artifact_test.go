package artifact

import (
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"
)

func TestRequireLoadsCrowdSale(t *testing.T) {
	t.Parallel()

	store := NewStore("testdata")

	a, err := store.Require("CrowdSale")
	if err != nil {
		t.Fatalf("Require returned error: %v", err)
	}
	if a.ContractName != "CrowdSale" {
		t.Fatalf("unexpected contract name %q", a.ContractName)
	}
	if len(a.Bytecode) == 0 {
		t.Fatalf("expected bytecode")
	}

	inputs := a.Constructor()
	if len(inputs) != 3 {
		t.Fatalf("expected 3 constructor inputs, got %d", len(inputs))
	}
	want := []string{"address", "uint256", "address"}
	for i, input := range inputs {
		if input.Type.String() != want[i] {
			t.Fatalf("input %d: expected %s, got %s", i, want[i], input.Type.String())
		}
	}

	again, err := store.Require("CrowdSale")
	if err != nil {
		t.Fatalf("second Require returned error: %v", err)
	}
	if again != a {
		t.Fatalf("expected cached artifact instance")
	}
}

func TestRequireMissingArtifact(t *testing.T) {
	t.Parallel()

	store := NewStore(t.TempDir())
	if _, err := store.Require("CrowdSale"); !errors.Is(err, ErrArtifactNotFound) {
		t.Fatalf("expected ErrArtifactNotFound, got %v", err)
	}
}

func TestRequireRejectsPathLikeNames(t *testing.T) {
	t.Parallel()

	store := NewStore("testdata")
	for _, name := range []string{"", "../CrowdSale", "Crowd Sale", "1Contract"} {
		if _, err := store.Require(name); !errors.Is(err, ErrInvalidArtifact) {
			t.Fatalf("expected ErrInvalidArtifact for %q, got %v", name, err)
		}
	}
}

func TestRequireRejectsMismatchedName(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	data, err := os.ReadFile(filepath.Join("testdata", "CrowdSale.json"))
	if err != nil {
		t.Fatalf("read fixture: %v", err)
	}
	if err := os.WriteFile(filepath.Join(dir, "Token.json"), data, 0o600); err != nil {
		t.Fatalf("write fixture: %v", err)
	}

	if _, err := NewStore(dir).Require("Token"); !errors.Is(err, ErrInvalidArtifact) {
		t.Fatalf("expected ErrInvalidArtifact, got %v", err)
	}
}

func TestParseRejectsInvalidDocuments(t *testing.T) {
	t.Parallel()

	testCases := map[string]string{
		"not json":       `{`,
		"no name":        `{"abi": [], "bytecode": "0x60"}`,
		"no abi":         `{"contractName": "C", "bytecode": "0x60"}`,
		"bad abi":        `{"contractName": "C", "abi": [{"type": "constructor", "inputs": [{"type": "wat"}]}], "bytecode": "0x60"}`,
		"empty bytecode": `{"contractName": "C", "abi": [], "bytecode": "0x"}`,
		"odd bytecode":   `{"contractName": "C", "abi": [], "bytecode": "0x606"}`,
		"non-hex":        `{"contractName": "C", "abi": [], "bytecode": "0xzz"}`,
	}

	for name, doc := range testCases {
		t.Run(name, func(t *testing.T) {
			if _, err := Parse([]byte(doc)); !errors.Is(err, ErrInvalidArtifact) {
				t.Fatalf("expected ErrInvalidArtifact, got %v", err)
			}
		})
	}
}

func TestParseAcceptsUnprefixedBytecode(t *testing.T) {
	t.Parallel()

	a, err := Parse([]byte(`{"contractName": "Empty", "abi": [], "bytecode": "6080"}`))
	if err != nil {
		t.Fatalf("Parse returned error: %v", err)
	}
	if len(a.Bytecode) != 2 {
		t.Fatalf("expected 2 bytes of code, got %d", len(a.Bytecode))
	}
	if len(a.Constructor()) != 0 {
		t.Fatalf("expected no constructor inputs")
	}
}

func TestRequireConcurrentAccess(t *testing.T) {
	store := NewStore("testdata")
	var wg sync.WaitGroup

	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := store.Require("CrowdSale"); err != nil {
				t.Errorf("Require failed: %v", err)
			}
		}()
	}
	wg.Wait()
}
