// Package deployer submits contract-creation transactions to an Ethereum
// JSON-RPC endpoint and waits for them to be mined.
package deployer

import (
	"context"
	"crypto/ecdsa"
	"errors"
	"fmt"
	"math/big"
	"strings"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/eugenenazirov/crowdsale-migrations/internal/artifact"
	"github.com/eugenenazirov/crowdsale-migrations/internal/storage"
)

var (
	// ErrDeploymentReverted is returned when the creation transaction is mined with a failed status.
	ErrDeploymentReverted = errors.New("contract creation reverted")
	// ErrReceiptTimeout is returned when the transaction is not mined and confirmed in time.
	ErrReceiptTimeout = errors.New("timed out waiting for deployment receipt")
	// ErrChainIDMismatch is returned when the endpoint reports a different chain than configured.
	ErrChainIDMismatch = errors.New("chain id mismatch")
)

// ChainClient is the part of ethclient.Client used for deployments.
type ChainClient interface {
	ChainID(ctx context.Context) (*big.Int, error)
	PendingNonceAt(ctx context.Context, account common.Address) (uint64, error)
	SuggestGasPrice(ctx context.Context) (*big.Int, error)
	EstimateGas(ctx context.Context, msg ethereum.CallMsg) (uint64, error)
	SendTransaction(ctx context.Context, tx *types.Transaction) error
	TransactionReceipt(ctx context.Context, txHash common.Hash) (*types.Receipt, error)
	BlockNumber(ctx context.Context) (uint64, error)
}

// Options tunes how transactions are priced and confirmed.
type Options struct {
	// ChainID, when set, must match what the endpoint reports.
	ChainID *big.Int
	// GasLimit of zero means estimate and add a 10% buffer.
	GasLimit           uint64
	GasPriceMultiplier float64
	Confirmations      uint64
	PollInterval       time.Duration
	Timeout            time.Duration
}

func (o Options) withDefaults() Options {
	if o.GasPriceMultiplier <= 0 {
		o.GasPriceMultiplier = 1
	}
	if o.Confirmations == 0 {
		o.Confirmations = 1
	}
	if o.PollInterval <= 0 {
		o.PollInterval = 2 * time.Second
	}
	if o.Timeout <= 0 {
		o.Timeout = 5 * time.Minute
	}
	return o
}

// EthDeployer signs and submits contract creations with a single key.
type EthDeployer struct {
	client  ChainClient
	key     *ecdsa.PrivateKey
	from    common.Address
	opts    Options
	logger  *zap.Logger
	metrics *Metrics

	mu      sync.Mutex
	chainID *big.Int
}

// ParsePrivateKey decodes a hex secp256k1 key with or without 0x prefix.
func ParsePrivateKey(hexKey string) (*ecdsa.PrivateKey, error) {
	key, err := crypto.HexToECDSA(strings.TrimPrefix(strings.TrimSpace(hexKey), "0x"))
	if err != nil {
		return nil, fmt.Errorf("invalid private key: %w", err)
	}
	return key, nil
}

// New creates an EthDeployer. metrics may be nil.
func New(client ChainClient, key *ecdsa.PrivateKey, opts Options, logger *zap.Logger, metrics *Metrics) (*EthDeployer, error) {
	if client == nil {
		return nil, errors.New("deployer: nil chain client")
	}
	if key == nil {
		return nil, errors.New("deployer: nil private key")
	}
	return &EthDeployer{
		client:  client,
		key:     key,
		from:    crypto.PubkeyToAddress(key.PublicKey),
		opts:    opts.withDefaults(),
		logger:  logger,
		metrics: metrics,
	}, nil
}

// From returns the address deployments are sent from.
func (d *EthDeployer) From() common.Address {
	return d.from
}

// Deploy creates contract with the given constructor args and blocks until
// the creation is confirmed, reverted, or the timeout elapses.
func (d *EthDeployer) Deploy(ctx context.Context, contract *artifact.Artifact, args ...string) (*storage.Deployment, error) {
	if contract == nil {
		return nil, errors.New("deploy: nil contract")
	}
	start := time.Now()
	deployment, err := d.deploy(ctx, contract, args)
	d.metrics.observe(contract.ContractName, deployment, err, time.Since(start))
	return deployment, err
}

func (d *EthDeployer) deploy(ctx context.Context, contract *artifact.Artifact, args []string) (*storage.Deployment, error) {
	data, err := PackConstructor(contract.ABI, contract.Bytecode, args)
	if err != nil {
		return nil, fmt.Errorf("encode %s constructor: %w", contract.ContractName, err)
	}

	chainID, err := d.resolveChainID(ctx)
	if err != nil {
		return nil, err
	}

	nonce, err := d.client.PendingNonceAt(ctx, d.from)
	if err != nil {
		return nil, fmt.Errorf("failed to get nonce: %w", err)
	}

	gasPrice, err := d.client.SuggestGasPrice(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to get gas price: %w", err)
	}
	gasPrice = scaleGasPrice(gasPrice, d.opts.GasPriceMultiplier)

	gasLimit := d.opts.GasLimit
	if gasLimit == 0 {
		estimated, err := d.client.EstimateGas(ctx, ethereum.CallMsg{
			From:     d.from,
			GasPrice: gasPrice,
			Data:     data,
		})
		if err != nil {
			return nil, fmt.Errorf("failed to estimate gas: %w", err)
		}
		gasLimit = estimated * 110 / 100
	}

	tx := types.NewTx(&types.LegacyTx{
		Nonce:    nonce,
		GasPrice: gasPrice,
		Gas:      gasLimit,
		Value:    new(big.Int),
		Data:     data,
	})
	signed, err := types.SignTx(tx, types.LatestSignerForChainID(chainID), d.key)
	if err != nil {
		return nil, fmt.Errorf("failed to sign transaction: %w", err)
	}

	if err := d.client.SendTransaction(ctx, signed); err != nil {
		return nil, fmt.Errorf("failed to send transaction: %w", err)
	}

	d.logger.Info("deployment submitted",
		zap.String("contract", contract.ContractName),
		zap.String("tx_hash", signed.Hash().Hex()),
		zap.Uint64("nonce", nonce),
		zap.Uint64("gas_limit", gasLimit),
		zap.String("gas_price", gasPrice.String()),
	)

	receipt, err := d.waitMined(ctx, signed.Hash())
	if err != nil {
		return nil, err
	}

	deployment := &storage.Deployment{
		ChainID:     chainID.String(),
		Contract:    contract.ContractName,
		Address:     receipt.ContractAddress.Hex(),
		TxHash:      signed.Hash().Hex(),
		BlockNumber: receipt.BlockNumber.Uint64(),
		GasUsed:     receipt.GasUsed,
		Args:        append([]string(nil), args...),
	}
	if receipt.Status == types.ReceiptStatusFailed {
		return deployment, fmt.Errorf("%w: %s in tx %s", ErrDeploymentReverted, contract.ContractName, deployment.TxHash)
	}
	if receipt.ContractAddress == (common.Address{}) {
		deployment.Address = crypto.CreateAddress(d.from, nonce).Hex()
	}
	return deployment, nil
}

// scaleGasPrice multiplies the suggested price, rounding up to whole wei so
// a positive price never drops to zero.
func scaleGasPrice(suggested *big.Int, multiplier float64) *big.Int {
	scaled := decimal.NewFromBigInt(suggested, 0).Mul(decimal.NewFromFloat(multiplier)).Ceil()
	return scaled.BigInt()
}

func (d *EthDeployer) resolveChainID(ctx context.Context) (*big.Int, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.chainID != nil {
		return d.chainID, nil
	}

	chainID, err := d.client.ChainID(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to get chain ID: %w", err)
	}
	if d.opts.ChainID != nil && d.opts.ChainID.Cmp(chainID) != 0 {
		return nil, fmt.Errorf("%w: configured %s, endpoint reports %s", ErrChainIDMismatch, d.opts.ChainID, chainID)
	}
	d.chainID = chainID
	return chainID, nil
}

// waitMined polls for the receipt and then for the required confirmations.
func (d *EthDeployer) waitMined(ctx context.Context, txHash common.Hash) (*types.Receipt, error) {
	ctx, cancel := context.WithTimeout(ctx, d.opts.Timeout)
	defer cancel()

	ticker := time.NewTicker(d.opts.PollInterval)
	defer ticker.Stop()

	var receipt *types.Receipt
	for {
		if receipt == nil {
			r, err := d.client.TransactionReceipt(ctx, txHash)
			switch {
			case err == nil:
				receipt = r
			case errors.Is(err, ethereum.NotFound):
			case ctx.Err() != nil:
				return nil, d.waitError(ctx, txHash)
			default:
				return nil, fmt.Errorf("failed to get receipt: %w", err)
			}
		}

		if receipt != nil {
			head, err := d.client.BlockNumber(ctx)
			if err != nil {
				if ctx.Err() != nil {
					return nil, d.waitError(ctx, txHash)
				}
				return nil, fmt.Errorf("failed to get block number: %w", err)
			}
			mined := receipt.BlockNumber.Uint64()
			if head >= mined && head-mined+1 >= d.opts.Confirmations {
				return receipt, nil
			}
		}

		select {
		case <-ctx.Done():
			return nil, d.waitError(ctx, txHash)
		case <-ticker.C:
		}
	}
}

func (d *EthDeployer) waitError(ctx context.Context, txHash common.Hash) error {
	if errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return fmt.Errorf("%w: tx %s after %s", ErrReceiptTimeout, txHash.Hex(), d.opts.Timeout)
	}
	return ctx.Err()
}
