package chain

import (
	"context"
	"errors"
	"math/big"
	"sync"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/scorecast/scorecast/internal/cycles"
	"github.com/scorecast/scorecast/internal/outcome"
)

type fakeBackend struct {
	mu sync.Mutex

	nonce         uint64
	sent          []*types.Transaction
	receiptStatus uint64
	receiptAfter  int // polls before the receipt appears
	sendErr       error

	polls int
}

func (b *fakeBackend) PendingNonceAt(context.Context, common.Address) (uint64, error) {
	return b.nonce, nil
}

func (b *fakeBackend) SuggestGasTipCap(context.Context) (*big.Int, error) {
	return big.NewInt(2_000_000_000), nil
}

func (b *fakeBackend) HeaderByNumber(context.Context, *big.Int) (*types.Header, error) {
	return &types.Header{BaseFee: big.NewInt(10_000_000_000)}, nil
}

func (b *fakeBackend) EstimateGas(context.Context, ethereum.CallMsg) (uint64, error) {
	return 100_000, nil
}

func (b *fakeBackend) SendTransaction(_ context.Context, tx *types.Transaction) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.sendErr != nil {
		return b.sendErr
	}
	b.sent = append(b.sent, tx)
	return nil
}

func (b *fakeBackend) TransactionReceipt(_ context.Context, txHash common.Hash) (*types.Receipt, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if len(b.sent) == 0 {
		return nil, ethereum.NotFound
	}
	b.polls++
	if b.polls <= b.receiptAfter {
		return nil, ethereum.NotFound
	}
	return &types.Receipt{
		Status:      b.receiptStatus,
		TxHash:      txHash,
		BlockNumber: big.NewInt(1234),
	}, nil
}

func newTestSubmitter(t *testing.T, backend Backend) *Submitter {
	t.Helper()
	key, err := crypto.GenerateKey()
	if err != nil {
		t.Fatalf("GenerateKey: %v", err)
	}
	s, err := NewSubmitter(backend, key, Config{
		ChainID:             big.NewInt(8453),
		Contract:            common.HexToAddress("0x00000000000000000000000000000000000000aa"),
		GasLimitMultiplier:  1.2,
		MinTipCap:           big.NewInt(1_000_000_000),
		ReceiptPollInterval: time.Millisecond,
		Sleep:               func(context.Context, time.Duration) error { return nil },
	}, nil)
	if err != nil {
		t.Fatalf("NewSubmitter: %v", err)
	}
	return s
}

func testOutcomes() []cycles.EntityOutcome {
	return []cycles.EntityOutcome{
		{EntityID: "m1", Moneyline: outcome.SelectionHome},
		{EntityID: "m2", Moneyline: outcome.SelectionDraw},
		{EntityID: "m3", Moneyline: outcome.SelectionUnknown}, // never settled -> void
	}
}

func TestSubmitter_ConfirmedSubmission(t *testing.T) {
	t.Parallel()

	backend := &fakeBackend{receiptStatus: types.ReceiptStatusSuccessful, receiptAfter: 2}
	s := newTestSubmitter(t, backend)

	if err := s.SubmitResolution(context.Background(), 7, testOutcomes()); err != nil {
		t.Fatalf("SubmitResolution: %v", err)
	}

	backend.mu.Lock()
	defer backend.mu.Unlock()
	if len(backend.sent) != 1 {
		t.Fatalf("sent: got %d txs", len(backend.sent))
	}
	tx := backend.sent[0]
	if tx.To() == nil || *tx.To() != common.HexToAddress("0x00000000000000000000000000000000000000aa") {
		t.Fatalf("tx target: got %v", tx.To())
	}
	if tx.Gas() != 120_000 {
		t.Fatalf("padded gas: got %d", tx.Gas())
	}
	// tip = max(2 gwei suggested, 1 gwei floor); fee = 2*base + tip.
	if tx.GasTipCap().Cmp(big.NewInt(2_000_000_000)) != 0 {
		t.Fatalf("tip cap: got %s", tx.GasTipCap())
	}
	if tx.GasFeeCap().Cmp(big.NewInt(22_000_000_000)) != 0 {
		t.Fatalf("fee cap: got %s", tx.GasFeeCap())
	}

	want, err := PackSubmitResolution(7, []uint8{OutcomeHome, OutcomeDraw, OutcomeVoid})
	if err != nil {
		t.Fatalf("PackSubmitResolution: %v", err)
	}
	if string(tx.Data()) != string(want) {
		t.Fatalf("calldata mismatch")
	}
	if backend.polls <= 2 {
		t.Fatalf("receipt must be polled until mined, polls=%d", backend.polls)
	}
}

func TestSubmitter_RevertIsError(t *testing.T) {
	t.Parallel()

	backend := &fakeBackend{receiptStatus: types.ReceiptStatusFailed}
	s := newTestSubmitter(t, backend)

	err := s.SubmitResolution(context.Background(), 7, testOutcomes())
	if !errors.Is(err, ErrReverted) {
		t.Fatalf("reverted tx: got %v", err)
	}
}

func TestSubmitter_SendFailure(t *testing.T) {
	t.Parallel()

	backend := &fakeBackend{sendErr: errors.New("nonce too low")}
	s := newTestSubmitter(t, backend)

	if err := s.SubmitResolution(context.Background(), 7, testOutcomes()); err == nil {
		t.Fatalf("send failure must surface")
	}
}

func TestSubmitter_ContextCancelDuringWait(t *testing.T) {
	t.Parallel()

	// Receipt never appears.
	backend := &fakeBackend{receiptStatus: types.ReceiptStatusSuccessful, receiptAfter: 1 << 30}
	key, err := crypto.GenerateKey()
	if err != nil {
		t.Fatalf("GenerateKey: %v", err)
	}
	s, err := NewSubmitter(backend, key, Config{
		ChainID:             big.NewInt(8453),
		Contract:            common.HexToAddress("0x00000000000000000000000000000000000000aa"),
		MinTipCap:           big.NewInt(0),
		ReceiptPollInterval: time.Millisecond,
	}, nil)
	if err != nil {
		t.Fatalf("NewSubmitter: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	if err := s.SubmitResolution(ctx, 7, testOutcomes()); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("cancelled wait: got %v", err)
	}
}

func TestPackSubmitResolution_Validation(t *testing.T) {
	t.Parallel()

	if _, err := PackSubmitResolution(0, []uint8{OutcomeHome}); !errors.Is(err, ErrInvalidInput) {
		t.Fatalf("zero cycle id: got %v", err)
	}
	if _, err := PackSubmitResolution(1, nil); !errors.Is(err, ErrInvalidInput) {
		t.Fatalf("empty outcomes: got %v", err)
	}
	if _, err := PackSubmitResolution(1, []uint8{9}); !errors.Is(err, ErrInvalidInput) {
		t.Fatalf("out-of-range outcome: got %v", err)
	}

	// Encoding is stable: same inputs, same calldata.
	a, err := PackSubmitResolution(7, []uint8{OutcomeHome, OutcomeAway})
	if err != nil {
		t.Fatalf("pack: %v", err)
	}
	b, err := PackSubmitResolution(7, []uint8{OutcomeHome, OutcomeAway})
	if err != nil {
		t.Fatalf("pack #2: %v", err)
	}
	if string(a) != string(b) {
		t.Fatalf("calldata must be deterministic")
	}
}

func TestEncodeMoneyline(t *testing.T) {
	t.Parallel()

	cases := []struct {
		sel  outcome.Selection
		want uint8
	}{
		{outcome.SelectionUnknown, OutcomeVoid},
		{outcome.SelectionHome, OutcomeHome},
		{outcome.SelectionDraw, OutcomeDraw},
		{outcome.SelectionAway, OutcomeAway},
	}
	for _, tc := range cases {
		got, err := EncodeMoneyline(tc.sel)
		if err != nil || got != tc.want {
			t.Errorf("EncodeMoneyline(%s): got %d, %v", tc.sel, got, err)
		}
	}
	if _, err := EncodeMoneyline(outcome.SelectionOver); !errors.Is(err, ErrInvalidInput) {
		t.Errorf("over has no encoding: got %v", err)
	}
}
