package deployer

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"go.uber.org/zap"

	"github.com/eugenenazirov/crowdsale-migrations/internal/artifact"
	"github.com/eugenenazirov/crowdsale-migrations/internal/storage"
)

// DryRunDeployer validates and encodes deployments without touching a network.
// Addresses are predicted from the sender and a local nonce counter.
type DryRunDeployer struct {
	from    common.Address
	logger  *zap.Logger
	metrics *Metrics

	mu    sync.Mutex
	nonce uint64
}

// NewDryRun returns a deployer that never sends transactions. from may be the zero address.
func NewDryRun(from common.Address, logger *zap.Logger, metrics *Metrics) *DryRunDeployer {
	return &DryRunDeployer{
		from:    from,
		logger:  logger,
		metrics: metrics,
	}
}

func (d *DryRunDeployer) Deploy(ctx context.Context, contract *artifact.Artifact, args ...string) (*storage.Deployment, error) {
	if contract == nil {
		return nil, errors.New("deploy: nil contract")
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	start := time.Now()
	data, err := PackConstructor(contract.ABI, contract.Bytecode, args)
	if err != nil {
		err = fmt.Errorf("encode %s constructor: %w", contract.ContractName, err)
		d.metrics.observe(contract.ContractName, nil, err, time.Since(start))
		return nil, err
	}

	d.mu.Lock()
	nonce := d.nonce
	d.nonce++
	d.mu.Unlock()

	deployment := &storage.Deployment{
		Contract: contract.ContractName,
		Address:  crypto.CreateAddress(d.from, nonce).Hex(),
		Args:     append([]string(nil), args...),
		DryRun:   true,
	}

	d.logger.Info("dry run deployment",
		zap.String("contract", contract.ContractName),
		zap.String("predicted_address", deployment.Address),
		zap.Int("calldata_bytes", len(data)),
	)
	d.metrics.observe(contract.ContractName, deployment, nil, time.Since(start))
	return deployment, nil
}
