package beacon

import (
	"context"
	"encoding/hex"
	"fmt"
	"time"

	"cosmossdk.io/log"
	abci "github.com/cometbft/cometbft/abci/types"
	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"

	"beaconraffle/internal/state"
	"beaconraffle/internal/types"
)

// Consumer receives randomness once a delivery has been verified against its
// request. The request is still marked pending while the callback runs.
type Consumer interface {
	OnVerifiedRandomness(ctx context.Context, value common.Hash, requestID uint64, extra []byte) ([]abci.Event, error)
}

// Exchange runs the commit-then-fulfill protocol over an ExchangeState. It is
// not safe for concurrent use; callers serialize mutation.
type Exchange struct {
	cfg      Config
	st       *state.ExchangeState
	consumer Consumer
	logger   log.Logger
}

func NewExchange(cfg Config, st *state.ExchangeState, consumer Consumer, logger log.Logger) *Exchange {
	if st == nil {
		panic("beacon exchange: state is nil")
	}
	if consumer == nil {
		panic("beacon exchange: consumer is nil")
	}
	if logger == nil {
		logger = log.NewNopLogger()
	}
	return &Exchange{
		cfg:      cfg,
		st:       st,
		consumer: consumer,
		logger:   logger.With("module", "beacon"),
	}
}

func (e *Exchange) Config() Config { return e.cfg }

// Request issues the next request id bound to the round due at now.
func (e *Exchange) Request(now time.Time, extra []byte) (uint64, []abci.Event, error) {
	round, err := e.cfg.RoundAt(now)
	if err != nil {
		return 0, nil, err
	}
	requestID := e.st.NextRequestID
	if _, exists := e.st.Records[requestID]; exists {
		return 0, nil, types.ErrInvalidState.Wrapf("request %d already issued", requestID)
	}

	inner, dataWithRound, err := EncodeRequest(round, requestID, extra)
	if err != nil {
		return 0, nil, err
	}
	commit := CommitHash(dataWithRound)

	e.st.Records[requestID] = &state.RequestRecord{
		RequestID:    requestID,
		Round:        round,
		CommitHash:   commit,
		ExtraContext: append([]byte(nil), extra...),
		Pending:      true,
		IssuedAt:     now.Unix(),
	}
	e.st.NextRequestID++

	e.logger.Info("randomness requested", "requestId", requestID, "round", round)

	ev := types.NewEvent(types.EventTypeRandomnessRequested, map[string]string{
		types.AttributeKeyRequestID:  fmt.Sprintf("%d", requestID),
		types.AttributeKeyRound:      fmt.Sprintf("%d", round),
		types.AttributeKeyData:       "0x" + hex.EncodeToString(inner),
		types.AttributeKeyCommitHash: commit.Hex(),
	})
	return requestID, []abci.Event{ev}, nil
}

// Deliver verifies an operator delivery and, when it matches a pending
// request, hands the scoped value to the consumer before clearing the pending
// flag. A payload whose commit hash does not match is discarded without error.
func (e *Exchange) Deliver(ctx context.Context, caller common.Address, raw *uint256.Int, dataWithRound []byte) ([]abci.Event, error) {
	if caller != e.cfg.Operator {
		return nil, types.ErrUnauthorized.Wrapf("caller %s is not the beacon operator", caller.Hex())
	}
	if raw == nil {
		return nil, types.ErrInvalidRequest.Wrap("missing randomness")
	}

	p, err := DecodePayload(dataWithRound)
	if err != nil {
		return nil, err
	}

	rec := e.st.Records[p.RequestID]
	if rec == nil || !rec.Pending {
		return nil, types.ErrInvalidState.Wrapf("request %d unknown or already fulfilled", p.RequestID)
	}

	got := CommitHash(dataWithRound)
	if got != rec.CommitHash {
		e.logger.Info("discarded randomness delivery",
			"requestId", p.RequestID,
			"round", p.Round,
			"err", types.ErrIntegrityMismatch.Error(),
			"want", rec.CommitHash.Hex(),
			"got", got.Hex(),
		)
		return nil, nil
	}

	value, err := VerifiedValue(raw, e.cfg.Identity, e.cfg.ChainID, p.RequestID)
	if err != nil {
		return nil, err
	}

	events := []abci.Event{types.NewEvent(types.EventTypeRandomnessFulfilled, map[string]string{
		types.AttributeKeyRequestID: fmt.Sprintf("%d", p.RequestID),
		types.AttributeKeyRound:     fmt.Sprintf("%d", p.Round),
		types.AttributeKeyValue:     value.Hex(),
	})}

	consumerEvents, err := e.consumer.OnVerifiedRandomness(ctx, value, p.RequestID, p.ExtraContext)
	if err != nil {
		return nil, err
	}
	rec.Pending = false

	e.logger.Info("randomness fulfilled", "requestId", p.RequestID, "round", p.Round)
	return append(events, consumerEvents...), nil
}

// Record returns a copy of the record for requestID.
func (e *Exchange) Record(requestID uint64) (state.RequestRecord, bool) {
	rec := e.st.Records[requestID]
	if rec == nil {
		return state.RequestRecord{}, false
	}
	out := *rec
	out.ExtraContext = append([]byte(nil), rec.ExtraContext...)
	return out, true
}

func (e *Exchange) Pending(requestID uint64) bool {
	rec := e.st.Records[requestID]
	return rec != nil && rec.Pending
}

// RequestCount is the number of requests issued so far.
func (e *Exchange) RequestCount() uint64 {
	return e.st.NextRequestID
}
