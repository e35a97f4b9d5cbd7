package beacon

import (
	"context"
	"errors"
	"testing"
	"time"

	"cosmossdk.io/log"
	abci "github.com/cometbft/cometbft/abci/types"
	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
	"github.com/stretchr/testify/require"

	"beaconraffle/internal/state"
	"beaconraffle/internal/types"
)

var (
	testOperator = common.HexToAddress("0x00000000000000000000000000000000000000aa")
	testIdentity = common.HexToAddress("0x00000000000000000000000000000000000000ee")
)

type recordingConsumer struct {
	ex    *Exchange
	calls []consumerCall
	err   error

	pendingDuringCall []bool
}

type consumerCall struct {
	value     common.Hash
	requestID uint64
	extra     []byte
}

func (c *recordingConsumer) OnVerifiedRandomness(_ context.Context, value common.Hash, requestID uint64, extra []byte) ([]abci.Event, error) {
	c.pendingDuringCall = append(c.pendingDuringCall, c.ex.Pending(requestID))
	if c.err != nil {
		return nil, c.err
	}
	c.calls = append(c.calls, consumerCall{value: value, requestID: requestID, extra: extra})
	return []abci.Event{{Type: "ConsumerRan"}}, nil
}

func testConfig() Config {
	cfg := DefaultConfig()
	cfg.Identity = testIdentity
	cfg.Operator = testOperator
	cfg.GenesisUnix = 1000
	cfg.Period = 3 * time.Second
	return cfg
}

func newTestExchange(t *testing.T, cfg Config) (*Exchange, *recordingConsumer, *state.ExchangeState) {
	t.Helper()
	st := state.NewExchangeState()
	c := &recordingConsumer{}
	ex := NewExchange(cfg, st, c, log.NewNopLogger())
	c.ex = ex
	return ex, c, st
}

// deliveryFor rebuilds the payload the operator is expected to echo.
func deliveryFor(t *testing.T, st *state.ExchangeState, requestID uint64) []byte {
	t.Helper()
	rec := st.Records[requestID]
	require.NotNil(t, rec)
	_, data, err := EncodeRequest(rec.Round, rec.RequestID, rec.ExtraContext)
	require.NoError(t, err)
	return data
}

func TestRoundAt_PrimaryAndDefaultDelay(t *testing.T) {
	cfg := testConfig()
	now := time.Unix(1030, 0)

	round, err := cfg.RoundAt(now)
	require.NoError(t, err)
	require.Equal(t, uint64((30+4*3)/3+1), round)

	cfg.ChainID = 10
	round, err = cfg.RoundAt(now)
	require.NoError(t, err)
	require.Equal(t, uint64((30+3)/3+1), round)
}

func TestRoundAt_Boundaries(t *testing.T) {
	cfg := testConfig()
	cfg.ChainID = 10

	round, err := cfg.RoundAt(time.Unix(1000, 0))
	require.NoError(t, err)
	require.Equal(t, uint64(2), round)

	round, err = cfg.RoundAt(time.Unix(1002, 0))
	require.NoError(t, err)
	require.Equal(t, uint64(2), round)

	round, err = cfg.RoundAt(time.Unix(1003, 0))
	require.NoError(t, err)
	require.Equal(t, uint64(3), round)

	_, err = cfg.RoundAt(time.Unix(999, 0))
	require.ErrorIs(t, err, types.ErrInvalidState)
}

func TestRequest_AssignsDenseIDsAndBindsCommit(t *testing.T) {
	ex, _, st := newTestExchange(t, testConfig())
	now := time.Unix(1030, 0)

	for want := uint64(0); want < 3; want++ {
		id, events, err := ex.Request(now, []byte("ctx"))
		require.NoError(t, err)
		require.Equal(t, want, id)
		require.Len(t, events, 1)
		require.Equal(t, types.EventTypeRandomnessRequested, events[0].Type)
	}
	require.Equal(t, uint64(3), ex.RequestCount())

	rec, ok := ex.Record(1)
	require.True(t, ok)
	require.True(t, rec.Pending)
	require.Equal(t, CommitHash(deliveryFor(t, st, 1)), rec.CommitHash)

	p, err := DecodePayload(deliveryFor(t, st, 1))
	require.NoError(t, err)
	require.Equal(t, rec.Round, p.Round)
	require.Equal(t, uint64(1), p.RequestID)
	require.Equal(t, []byte("ctx"), p.ExtraContext)
}

func TestRequest_BeforeGenesisLeavesCounter(t *testing.T) {
	ex, _, st := newTestExchange(t, testConfig())
	_, _, err := ex.Request(time.Unix(10, 0), nil)
	require.ErrorIs(t, err, types.ErrInvalidState)
	require.Zero(t, st.NextRequestID)
	require.Empty(t, st.Records)
}

func TestDeliver_ValidInvokesConsumerBeforeClearingPending(t *testing.T) {
	ex, c, st := newTestExchange(t, testConfig())
	id, _, err := ex.Request(time.Unix(1030, 0), []byte("ctx"))
	require.NoError(t, err)

	raw := uint256.NewInt(424242)
	events, err := ex.Deliver(context.Background(), testOperator, raw, deliveryFor(t, st, id))
	require.NoError(t, err)
	require.Len(t, events, 2)
	require.Equal(t, types.EventTypeRandomnessFulfilled, events[0].Type)
	require.Equal(t, "ConsumerRan", events[1].Type)

	require.Len(t, c.calls, 1)
	require.Equal(t, []bool{true}, c.pendingDuringCall)
	require.Equal(t, id, c.calls[0].requestID)
	require.Equal(t, []byte("ctx"), c.calls[0].extra)

	want, err := VerifiedValue(raw, testIdentity, testConfig().ChainID, id)
	require.NoError(t, err)
	require.Equal(t, want, c.calls[0].value)
	require.False(t, ex.Pending(id))
}

func TestDeliver_SecondDeliveryFailsWithInvalidState(t *testing.T) {
	ex, c, st := newTestExchange(t, testConfig())
	id, _, err := ex.Request(time.Unix(1030, 0), nil)
	require.NoError(t, err)
	data := deliveryFor(t, st, id)

	_, err = ex.Deliver(context.Background(), testOperator, uint256.NewInt(1), data)
	require.NoError(t, err)

	events, err := ex.Deliver(context.Background(), testOperator, uint256.NewInt(1), data)
	require.ErrorIs(t, err, types.ErrInvalidState)
	require.Empty(t, events)
	require.Len(t, c.calls, 1)
}

func TestDeliver_HashMismatchIsSilentNoop(t *testing.T) {
	ex, c, st := newTestExchange(t, testConfig())
	id, _, err := ex.Request(time.Unix(1030, 0), []byte("ctx"))
	require.NoError(t, err)
	before := *st.Records[id]

	cases := map[string][]byte{}
	_, wrongRound, err := EncodeRequest(before.Round+1, id, []byte("ctx"))
	require.NoError(t, err)
	cases["wrong round"] = wrongRound
	_, wrongExtra, err := EncodeRequest(before.Round, id, []byte("other"))
	require.NoError(t, err)
	cases["wrong extra"] = wrongExtra

	for name, data := range cases {
		t.Run(name, func(t *testing.T) {
			events, err := ex.Deliver(context.Background(), testOperator, uint256.NewInt(9), data)
			require.NoError(t, err)
			require.Empty(t, events)
			require.Equal(t, before, *st.Records[id])
			require.Equal(t, uint64(1), st.NextRequestID)
			require.Empty(t, c.pendingDuringCall)
		})
	}

	// The genuine payload still fulfills afterwards.
	_, err = ex.Deliver(context.Background(), testOperator, uint256.NewInt(9), deliveryFor(t, st, id))
	require.NoError(t, err)
	require.Len(t, c.calls, 1)
}

func TestDeliver_UnknownRequestFails(t *testing.T) {
	ex, c, _ := newTestExchange(t, testConfig())
	_, data, err := EncodeRequest(15, 7, nil)
	require.NoError(t, err)

	events, err := ex.Deliver(context.Background(), testOperator, uint256.NewInt(1), data)
	require.ErrorIs(t, err, types.ErrInvalidState)
	require.Empty(t, events)
	require.Empty(t, c.pendingDuringCall)
}

func TestDeliver_RejectsWrongCaller(t *testing.T) {
	ex, c, st := newTestExchange(t, testConfig())
	id, _, err := ex.Request(time.Unix(1030, 0), nil)
	require.NoError(t, err)

	_, err = ex.Deliver(context.Background(), common.HexToAddress("0x01"), uint256.NewInt(1), deliveryFor(t, st, id))
	require.ErrorIs(t, err, types.ErrUnauthorized)
	require.True(t, ex.Pending(id))
	require.Empty(t, c.pendingDuringCall)
}

func TestDeliver_RejectsMalformedPayload(t *testing.T) {
	ex, _, _ := newTestExchange(t, testConfig())
	_, err := ex.Deliver(context.Background(), testOperator, uint256.NewInt(1), []byte{0x01, 0x02})
	require.ErrorIs(t, err, types.ErrMalformedPayload)
}

func TestDeliver_ConsumerErrorKeepsPending(t *testing.T) {
	ex, c, st := newTestExchange(t, testConfig())
	id, _, err := ex.Request(time.Unix(1030, 0), nil)
	require.NoError(t, err)

	c.err = errors.New("boom")
	_, err = ex.Deliver(context.Background(), testOperator, uint256.NewInt(1), deliveryFor(t, st, id))
	require.Error(t, err)
	require.True(t, ex.Pending(id))
}

func TestVerifiedValue_IsScoped(t *testing.T) {
	raw := uint256.NewInt(77)
	base, err := VerifiedValue(raw, testIdentity, 1, 0)
	require.NoError(t, err)

	otherRequest, err := VerifiedValue(raw, testIdentity, 1, 1)
	require.NoError(t, err)
	otherChain, err := VerifiedValue(raw, testIdentity, 5, 0)
	require.NoError(t, err)
	otherExchange, err := VerifiedValue(raw, testOperator, 1, 0)
	require.NoError(t, err)

	require.NotEqual(t, base, otherRequest)
	require.NotEqual(t, base, otherChain)
	require.NotEqual(t, base, otherExchange)

	again, err := VerifiedValue(uint256.NewInt(77), testIdentity, 1, 0)
	require.NoError(t, err)
	require.Equal(t, base, again)
}

func TestConfigValidate(t *testing.T) {
	cfg := testConfig()
	require.NoError(t, cfg.Validate())

	bad := cfg
	bad.Operator = common.Address{}
	require.Error(t, bad.Validate())

	bad = cfg
	bad.Period = 1500 * time.Millisecond
	require.Error(t, bad.Validate())

	bad = cfg
	bad.PrimaryDelayPeriods = maxDelayPeriods + 1
	require.Error(t, bad.Validate())
}
