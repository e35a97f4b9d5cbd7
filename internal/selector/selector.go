package selector

import (
	"context"
	"math/big"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/holiman/uint256"

	"beaconraffle/internal/registry"
	"beaconraffle/internal/state"
	"beaconraffle/internal/types"
)

const DefaultAttemptFactor uint64 = 2

var drawArgs = abi.Arguments{{Type: mustType("bytes32")}, {Type: mustType("uint256")}}

func mustType(t string) abi.Type {
	ty, err := abi.NewType(t, "", nil)
	if err != nil {
		panic(err)
	}
	return ty
}

// Options tune the attempt budget.
type Options struct {
	// AttemptFactor scales the budget: attempts <= AttemptFactor*populationSize.
	// Zero means DefaultAttemptFactor.
	AttemptFactor uint64
	// Strict turns a short, budget-exhausted run into ErrShortSelection.
	Strict bool
}

// Result is the outcome of one selection run.
type Result struct {
	Winners     []state.Winner
	Target      uint64
	Attempts    uint64
	Duplicates  uint64
	LookupFails uint64
}

// Short reports whether the run ended with fewer winners than its target.
func (r Result) Short() bool { return uint64(len(r.Winners)) < r.Target }

// Candidate returns the 1-based item id drawn at attempt:
// 1 + (keccak256(abi.encode(seed, attempt)) mod populationSize).
func Candidate(seed common.Hash, attempt, populationSize uint64) uint64 {
	enc, err := drawArgs.Pack([32]byte(seed), new(big.Int).SetUint64(attempt))
	if err != nil {
		// Both argument types are fixed; packing cannot fail.
		panic(err)
	}
	h := crypto.Keccak256Hash(enc)
	v := new(uint256.Int).SetBytes32(h[:])
	v.Mod(v, uint256.NewInt(populationSize))
	return v.Uint64() + 1
}

// Select draws up to min(winnerTarget, populationSize) distinct items whose
// holder lookup succeeds. Duplicates are rejected before the lookup; failed
// lookups are skipped without marking the id as seen. The run stops at the
// target or when the attempt budget runs out, whichever comes first.
func Select(ctx context.Context, seed common.Hash, populationSize, winnerTarget uint64, lookup registry.HolderLookup, opts Options) (Result, error) {
	if populationSize == 0 {
		return Result{}, types.ErrEmptyPopulation
	}
	if lookup == nil {
		return Result{}, types.ErrInvalidRequest.Wrap("nil holder lookup")
	}
	factor := opts.AttemptFactor
	if factor == 0 {
		factor = DefaultAttemptFactor
	}

	target := min(winnerTarget, populationSize)
	attemptCap := factor * populationSize
	if attemptCap/factor != populationSize {
		return Result{}, types.ErrInvalidRequest.Wrapf("attempt budget overflows: factor=%d population=%d", factor, populationSize)
	}

	res := Result{
		Winners: make([]state.Winner, 0, target),
		Target:  target,
	}
	seen := make(map[uint64]struct{}, target)

	for uint64(len(res.Winners)) < target && res.Attempts < attemptCap {
		id := Candidate(seed, res.Attempts, populationSize)
		res.Attempts++

		if _, dup := seen[id]; dup {
			res.Duplicates++
			continue
		}
		holder, err := lookup.HolderOf(ctx, id)
		if err != nil {
			res.LookupFails++
			continue
		}
		seen[id] = struct{}{}
		res.Winners = append(res.Winners, state.Winner{ItemID: id, Holder: holder})
	}

	if opts.Strict && res.Short() {
		return res, types.ErrShortSelection.Wrapf("selected %d of %d after %d attempts", len(res.Winners), target, res.Attempts)
	}
	return res, nil
}
