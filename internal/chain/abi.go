package chain

import (
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/scorecast/scorecast/internal/outcome"
)

var ErrInvalidInput = errors.New("chain: invalid input")

// Moneyline encoding in the resolution contract
// (contracts/src/CycleResolution.sol): 0 = void (never settled), then
// home/draw/away.
const (
	OutcomeVoid uint8 = iota
	OutcomeHome
	OutcomeDraw
	OutcomeAway
)

// EncodeMoneyline maps a settled moneyline to its contract encoding.
// SelectionUnknown encodes as void.
func EncodeMoneyline(s outcome.Selection) (uint8, error) {
	switch s {
	case outcome.SelectionUnknown:
		return OutcomeVoid, nil
	case outcome.SelectionHome:
		return OutcomeHome, nil
	case outcome.SelectionDraw:
		return OutcomeDraw, nil
	case outcome.SelectionAway:
		return OutcomeAway, nil
	default:
		return 0, fmt.Errorf("%w: selection %s has no contract encoding", ErrInvalidInput, s)
	}
}

var (
	initOnce sync.Once
	initErr  error

	resolutionABI abi.ABI
)

func initABI() error {
	initOnce.Do(func() {
		var err error
		resolutionABI, err = abi.JSON(strings.NewReader(submitResolutionABIJSON))
		if err != nil {
			initErr = fmt.Errorf("chain: parse submitResolution ABI: %w", err)
		}
	})
	return initErr
}

// PackSubmitResolution builds the submitResolution calldata. Outcomes are in
// cycle entity order and must be non-empty.
func PackSubmitResolution(cycleID uint64, outcomes []uint8) ([]byte, error) {
	if err := initABI(); err != nil {
		return nil, err
	}
	if cycleID == 0 {
		return nil, fmt.Errorf("%w: cycle id must be non-zero", ErrInvalidInput)
	}
	if len(outcomes) == 0 {
		return nil, fmt.Errorf("%w: empty outcome list", ErrInvalidInput)
	}
	for i, o := range outcomes {
		if o > OutcomeAway {
			return nil, fmt.Errorf("%w: outcome[%d] = %d out of range", ErrInvalidInput, i, o)
		}
	}

	b, err := resolutionABI.Pack("submitResolution", cycleID, outcomes)
	if err != nil {
		return nil, fmt.Errorf("chain: pack submitResolution calldata: %w", err)
	}
	return b, nil
}

const submitResolutionABIJSON = `[
  {
    "inputs": [
      {"internalType":"uint64","name":"cycleId","type":"uint64"},
      {"internalType":"uint8[]","name":"outcomes","type":"uint8[]"}
    ],
    "name":"submitResolution",
    "outputs":[],
    "stateMutability":"nonpayable",
    "type":"function"
  }
]`
