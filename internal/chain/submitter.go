package chain

import (
	"context"
	"crypto/ecdsa"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/scorecast/scorecast/internal/cycles"
	"github.com/scorecast/scorecast/internal/idempotency"
)

var (
	ErrInvalidConfig = errors.New("chain: invalid config")

	// ErrReverted means the resolution transaction was mined with a failed
	// status. The cycle must not be marked resolved.
	ErrReverted = errors.New("chain: resolution transaction reverted")
)

// Backend is the subset of ethclient the submitter needs.
type Backend interface {
	PendingNonceAt(ctx context.Context, account common.Address) (uint64, error)
	SuggestGasTipCap(ctx context.Context) (*big.Int, error)
	HeaderByNumber(ctx context.Context, number *big.Int) (*types.Header, error)
	EstimateGas(ctx context.Context, msg ethereum.CallMsg) (uint64, error)
	SendTransaction(ctx context.Context, tx *types.Transaction) error
	TransactionReceipt(ctx context.Context, txHash common.Hash) (*types.Receipt, error)
}

type Config struct {
	ChainID  *big.Int
	Contract common.Address

	// GasLimitMultiplier pads the gas estimate. <=1 disables padding.
	GasLimitMultiplier float64

	// MinTipCap floors the suggested priority fee.
	MinTipCap *big.Int

	ReceiptPollInterval time.Duration

	// ReceiptTimeout bounds the mined-wait. Zero leaves it to the caller's
	// context.
	ReceiptTimeout time.Duration

	Now   func() time.Time
	Sleep func(ctx context.Context, d time.Duration) error
}

// Submitter sends cycle resolutions to the resolution contract and waits for
// the mined receipt. It implements cycles.Submitter: SubmitResolution returns
// nil only once the transaction is confirmed with a success status.
type Submitter struct {
	backend Backend
	cfg     Config
	key     *ecdsa.PrivateKey
	from    common.Address
	log     *slog.Logger
}

func NewSubmitter(backend Backend, key *ecdsa.PrivateKey, cfg Config, log *slog.Logger) (*Submitter, error) {
	if backend == nil || key == nil {
		return nil, fmt.Errorf("%w: nil backend or key", ErrInvalidConfig)
	}
	if cfg.ChainID == nil || cfg.ChainID.Sign() <= 0 {
		return nil, fmt.Errorf("%w: chain id must be > 0", ErrInvalidConfig)
	}
	if (cfg.Contract == common.Address{}) {
		return nil, fmt.Errorf("%w: contract address must be non-zero", ErrInvalidConfig)
	}
	if cfg.MinTipCap == nil || cfg.MinTipCap.Sign() < 0 {
		return nil, fmt.Errorf("%w: MinTipCap must be >= 0", ErrInvalidConfig)
	}
	if cfg.ReceiptPollInterval <= 0 {
		return nil, fmt.Errorf("%w: ReceiptPollInterval must be > 0", ErrInvalidConfig)
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if cfg.Sleep == nil {
		cfg.Sleep = sleepCtx
	}
	if log == nil {
		log = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &Submitter{
		backend: backend,
		cfg:     cfg,
		key:     key,
		from:    crypto.PubkeyToAddress(key.PublicKey),
		log:     log,
	}, nil
}

func (s *Submitter) From() common.Address { return s.from }

func (s *Submitter) SubmitResolution(ctx context.Context, cycleID uint64, outcomes []cycles.EntityOutcome) error {
	encoded := make([]uint8, len(outcomes))
	for i, o := range outcomes {
		enc, err := EncodeMoneyline(o.Moneyline)
		if err != nil {
			return fmt.Errorf("chain: entity %s: %w", o.EntityID, err)
		}
		encoded[i] = enc
	}

	data, err := PackSubmitResolution(cycleID, encoded)
	if err != nil {
		return err
	}
	digest := idempotency.ResolutionDigestV1(cycleID, encoded)

	if s.cfg.ReceiptTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.cfg.ReceiptTimeout)
		defer cancel()
	}

	gasLimit, err := s.backend.EstimateGas(ctx, ethereum.CallMsg{
		From: s.from,
		To:   &s.cfg.Contract,
		Data: data,
	})
	if err != nil {
		return fmt.Errorf("chain: estimate gas for cycle %d: %w", cycleID, err)
	}
	gasLimit = padGas(gasLimit, s.cfg.GasLimitMultiplier)

	tipCap, feeCap, err := s.fees(ctx)
	if err != nil {
		return err
	}

	nonce, err := s.backend.PendingNonceAt(ctx, s.from)
	if err != nil {
		return fmt.Errorf("chain: pending nonce: %w", err)
	}

	to := s.cfg.Contract
	tx := types.NewTx(&types.DynamicFeeTx{
		ChainID:   s.cfg.ChainID,
		Nonce:     nonce,
		GasTipCap: tipCap,
		GasFeeCap: feeCap,
		Gas:       gasLimit,
		To:        &to,
		Data:      data,
	})
	signed, err := types.SignTx(tx, types.LatestSignerForChainID(s.cfg.ChainID), s.key)
	if err != nil {
		return fmt.Errorf("chain: sign resolution tx: %w", err)
	}

	if err := s.backend.SendTransaction(ctx, signed); err != nil {
		return fmt.Errorf("chain: send resolution tx for cycle %d: %w", cycleID, err)
	}
	s.log.Info("resolution submitted",
		"cycle", cycleID, "tx", signed.Hash(), "digest", common.BytesToHash(digest[:]), "entities", len(outcomes))

	receipt, err := s.waitMined(ctx, signed.Hash())
	if err != nil {
		return fmt.Errorf("chain: wait for resolution receipt for cycle %d: %w", cycleID, err)
	}
	if receipt.Status != types.ReceiptStatusSuccessful {
		return fmt.Errorf("%w: cycle %d tx %s", ErrReverted, cycleID, signed.Hash())
	}
	s.log.Info("resolution confirmed", "cycle", cycleID, "tx", signed.Hash(), "block", receipt.BlockNumber)
	return nil
}

// fees returns EIP-1559 caps: tip = max(suggested, floor), fee = 2*base + tip.
func (s *Submitter) fees(ctx context.Context) (tipCap, feeCap *big.Int, err error) {
	suggested, err := s.backend.SuggestGasTipCap(ctx)
	if err != nil {
		return nil, nil, fmt.Errorf("chain: suggest tip cap: %w", err)
	}
	header, err := s.backend.HeaderByNumber(ctx, nil)
	if err != nil {
		return nil, nil, fmt.Errorf("chain: latest header: %w", err)
	}
	if header.BaseFee == nil || header.BaseFee.Sign() < 0 {
		return nil, nil, fmt.Errorf("chain: missing base fee in latest header")
	}

	tip := new(big.Int).Set(suggested)
	if tip.Cmp(s.cfg.MinTipCap) < 0 {
		tip.Set(s.cfg.MinTipCap)
	}
	fee := new(big.Int).Mul(header.BaseFee, big.NewInt(2))
	fee.Add(fee, tip)
	return tip, fee, nil
}

func (s *Submitter) waitMined(ctx context.Context, txHash common.Hash) (*types.Receipt, error) {
	for {
		receipt, err := s.backend.TransactionReceipt(ctx, txHash)
		if err == nil {
			return receipt, nil
		}
		if !errors.Is(err, ethereum.NotFound) {
			return nil, err
		}
		if err := s.cfg.Sleep(ctx, s.cfg.ReceiptPollInterval); err != nil {
			return nil, err
		}
	}
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

func padGas(est uint64, mult float64) uint64 {
	if mult <= 1 {
		return est
	}
	out := uint64(math.Ceil(float64(est) * mult))
	if out < est {
		// overflow or float error; fall back to the estimate.
		return est
	}
	return out
}
