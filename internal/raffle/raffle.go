package raffle

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"cosmossdk.io/log"
	abci "github.com/cometbft/cometbft/abci/types"
	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"

	"beaconraffle/internal/beacon"
	"beaconraffle/internal/registry"
	"beaconraffle/internal/selector"
	"beaconraffle/internal/state"
	"beaconraffle/internal/types"
)

const DefaultWinnerCount uint64 = 10

type Config struct {
	Name        string
	WinnerCount uint64
	Selection   selector.Options
	Beacon      beacon.Config
}

func (c Config) Validate() error {
	if strings.TrimSpace(c.Name) == "" {
		return fmt.Errorf("raffle name must be set")
	}
	if c.WinnerCount == 0 {
		return fmt.Errorf("winner count must be > 0")
	}
	if err := c.Beacon.Validate(); err != nil {
		return fmt.Errorf("beacon: %w", err)
	}
	return nil
}

// Raffle drives Idle -> AwaitingRandomness -> Completed. It owns the
// randomness exchange and receives its verified values.
type Raffle struct {
	cfg      Config
	st       *state.State
	exchange *beacon.Exchange
	registry registry.Registry
	logger   log.Logger
}

var _ beacon.Consumer = (*Raffle)(nil)

func New(cfg Config, st *state.State, reg registry.Registry, logger log.Logger) *Raffle {
	if st == nil || st.Exchange == nil || st.Raffle == nil {
		panic("raffle: state is not initialized")
	}
	if reg == nil {
		panic("raffle: registry is nil")
	}
	if logger == nil {
		logger = log.NewNopLogger()
	}
	r := &Raffle{
		cfg:      cfg,
		st:       st,
		registry: reg,
		logger:   logger.With("module", "raffle", "raffle", cfg.Name),
	}
	r.exchange = beacon.NewExchange(cfg.Beacon, st.Exchange, r, logger)
	return r
}

func (r *Raffle) Exchange() *beacon.Exchange { return r.exchange }

func (r *Raffle) Phase() state.Phase { return r.st.Raffle.Phase }

// Start requests randomness for the draw. Only legal while idle.
func (r *Raffle) Start(now time.Time) ([]abci.Event, error) {
	rs := r.st.Raffle
	if rs.Phase != state.PhaseIdle {
		return nil, types.ErrInvalidState.Wrapf("cannot start raffle in phase %q", rs.Phase)
	}

	requestID, events, err := r.exchange.Request(now, []byte(r.cfg.Name))
	if err != nil {
		return nil, err
	}
	rs.OutstandingRequestID = &requestID
	rs.Phase = state.PhaseAwaitingRandomness

	r.logger.Info("raffle started", "requestId", requestID)

	ev := types.NewEvent(types.EventTypeRaffleStarted, map[string]string{
		types.AttributeKeyRaffle:    r.cfg.Name,
		types.AttributeKeyRequestID: strconv.FormatUint(requestID, 10),
		types.AttributeKeyTarget:    strconv.FormatUint(r.cfg.WinnerCount, 10),
	})
	return append([]abci.Event{ev}, events...), nil
}

// Deliver forwards an operator delivery to the exchange.
func (r *Raffle) Deliver(ctx context.Context, caller common.Address, raw *uint256.Int, dataWithRound []byte) ([]abci.Event, error) {
	return r.exchange.Deliver(ctx, caller, raw, dataWithRound)
}

// OnVerifiedRandomness runs the draw when value answers the outstanding
// request; values for any other request are ignored.
func (r *Raffle) OnVerifiedRandomness(ctx context.Context, value common.Hash, requestID uint64, _ []byte) ([]abci.Event, error) {
	rs := r.st.Raffle
	if rs.Phase != state.PhaseAwaitingRandomness || rs.OutstandingRequestID == nil || *rs.OutstandingRequestID != requestID {
		r.logger.Info("ignoring randomness for non-outstanding request", "requestId", requestID, "phase", rs.Phase)
		return nil, nil
	}

	size, err := registry.PopulationSize(ctx, r.registry)
	if err != nil {
		return nil, err
	}
	if size == 0 {
		return nil, types.ErrEmptyPopulation.Wrap("registry reports no items")
	}

	res, err := selector.Select(ctx, value, size, r.cfg.WinnerCount, r.registry, r.cfg.Selection)
	if err != nil {
		return nil, err
	}
	if res.Short() {
		r.logger.Info("selection ended short of target",
			"selected", len(res.Winners), "target", res.Target, "attempts", res.Attempts, "lookupFails", res.LookupFails)
	}

	rs.Results = res.Winners
	rs.Executed = true
	rs.Phase = state.PhaseCompleted
	rs.OutstandingRequestID = nil
	rs.Seed = value
	rs.PopulationSize = size
	rs.CompletedHeight = r.st.Height

	r.logger.Info("raffle completed", "requestId", requestID, "winners", len(res.Winners), "population", size)

	ids := make([]string, 0, len(res.Winners))
	holders := make([]string, 0, len(res.Winners))
	for _, w := range res.Winners {
		ids = append(ids, strconv.FormatUint(w.ItemID, 10))
		holders = append(holders, w.Holder.Hex())
	}
	ev := types.NewEvent(types.EventTypeRaffleCompleted, map[string]string{
		types.AttributeKeyRaffle:    r.cfg.Name,
		types.AttributeKeyRequestID: strconv.FormatUint(requestID, 10),
		types.AttributeKeyWinnerIDs: strings.Join(ids, ","),
		types.AttributeKeyHolders:   strings.Join(holders, ","),
		types.AttributeKeyCount:     strconv.Itoa(len(res.Winners)),
		types.AttributeKeyTarget:    strconv.FormatUint(res.Target, 10),
		types.AttributeKeySeed:      value.Hex(),
		types.AttributeKeyAttempts:  strconv.FormatUint(res.Attempts, 10),
	})
	return []abci.Event{ev}, nil
}

// ---- Queries ----

func (r *Raffle) Executed() bool { return r.st.Raffle.Executed }

func (r *Raffle) Winners() ([]state.Winner, error) {
	if !r.st.Raffle.Executed {
		return nil, types.ErrNotYetExecuted
	}
	return append([]state.Winner(nil), r.st.Raffle.Results...), nil
}

func (r *Raffle) WinnerIDs() ([]uint64, error) {
	ws, err := r.Winners()
	if err != nil {
		return nil, err
	}
	out := make([]uint64, len(ws))
	for i, w := range ws {
		out[i] = w.ItemID
	}
	return out, nil
}

func (r *Raffle) WinnerHolders() ([]common.Address, error) {
	ws, err := r.Winners()
	if err != nil {
		return nil, err
	}
	out := make([]common.Address, len(ws))
	for i, w := range ws {
		out[i] = w.Holder
	}
	return out, nil
}

// Status is the public view of the raffle.
type Status struct {
	Name                 string         `json:"name"`
	Phase                state.Phase    `json:"phase"`
	Executed             bool           `json:"executed"`
	WinnerCount          uint64         `json:"winnerCount"`
	OutstandingRequestID *uint64        `json:"outstandingRequestId,omitempty"`
	Seed                 *common.Hash   `json:"seed,omitempty"`
	PopulationSize       uint64         `json:"populationSize,omitempty"`
	CompletedHeight      int64          `json:"completedHeight,omitempty"`
	Winners              []state.Winner `json:"winners,omitempty"`
	Requests             uint64         `json:"requests"`
}

func (r *Raffle) Status() Status {
	rs := r.st.Raffle
	s := Status{
		Name:            r.cfg.Name,
		Phase:           rs.Phase,
		Executed:        rs.Executed,
		WinnerCount:     r.cfg.WinnerCount,
		PopulationSize:  rs.PopulationSize,
		CompletedHeight: rs.CompletedHeight,
		Requests:        r.exchange.RequestCount(),
	}
	if rs.OutstandingRequestID != nil {
		id := *rs.OutstandingRequestID
		s.OutstandingRequestID = &id
	}
	if rs.Executed {
		seed := rs.Seed
		s.Seed = &seed
		s.Winners = append([]state.Winner(nil), rs.Results...)
	}
	return s
}
