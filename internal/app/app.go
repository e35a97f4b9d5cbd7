package app

import (
	"context"
	"encoding/json"
	"fmt"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"

	errorsmod "cosmossdk.io/errors"
	"cosmossdk.io/log"
	abci "github.com/cometbft/cometbft/abci/types"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/holiman/uint256"

	"beaconraffle/internal/codec"
	"beaconraffle/internal/raffle"
	"beaconraffle/internal/registry"
	"beaconraffle/internal/state"
	"beaconraffle/internal/types"
)

const (
	AppVersion uint64 = 1
)

type Options struct {
	Home     string
	Raffle   raffle.Config
	Owner    common.Address // zero: anyone may start the raffle
	Registry registry.Registry
	Logger   log.Logger
}

type RaffleApp struct {
	*abci.BaseApplication

	home     string
	cfg      raffle.Config
	owner    common.Address
	registry registry.Registry
	logger   log.Logger

	mu            sync.Mutex
	st            *state.State
	lastHash      []byte
	lastBlockTime time.Time
}

func New(opts Options) (*RaffleApp, error) {
	if err := opts.Raffle.Validate(); err != nil {
		return nil, fmt.Errorf("raffle config: %w", err)
	}
	if opts.Registry == nil {
		return nil, fmt.Errorf("registry is required")
	}
	logger := opts.Logger
	if logger == nil {
		logger = log.NewNopLogger()
	}
	appHome := filepath.Join(opts.Home, "app")
	st, err := state.Load(appHome)
	if err != nil {
		return nil, err
	}
	a := &RaffleApp{
		BaseApplication: abci.NewBaseApplication(),
		home:            opts.Home,
		cfg:             opts.Raffle,
		owner:           opts.Owner,
		registry:        opts.Registry,
		logger:          logger.With("module", "app"),
		st:              st,
		lastHash:        st.AppHash(),
	}
	return a, nil
}

func (a *RaffleApp) raffleOver(st *state.State) *raffle.Raffle {
	return raffle.New(a.cfg, st, a.registry, a.logger)
}

// View runs fn against the committed state under the app lock. fn must not
// mutate state.
func (a *RaffleApp) View(fn func(r *raffle.Raffle) error) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	return fn(a.raffleOver(a.st))
}

func (a *RaffleApp) Info(_ context.Context, _ *abci.InfoRequest) (*abci.InfoResponse, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	return &abci.InfoResponse{
		Data:             "beaconraffle (v1)",
		Version:          "v1",
		AppVersion:       AppVersion,
		LastBlockHeight:  a.st.Height,
		LastBlockAppHash: a.lastHash,
	}, nil
}

func (a *RaffleApp) CheckTx(_ context.Context, req *abci.CheckTxRequest) (*abci.CheckTxResponse, error) {
	env, err := codec.DecodeTxEnvelope(req.Tx)
	if err != nil {
		return &abci.CheckTxResponse{Code: 1, Log: err.Error()}, nil
	}
	if err := requireSignedEnvelope(env); err != nil {
		codespace, code, _ := errorsmod.ABCIInfo(err, false)
		return &abci.CheckTxResponse{Code: code, Codespace: codespace, Log: err.Error()}, nil
	}
	return &abci.CheckTxResponse{Code: 0}, nil
}

func (a *RaffleApp) InitChain(_ context.Context, _ *abci.InitChainRequest) (*abci.InitChainResponse, error) {
	return &abci.InitChainResponse{}, nil
}

func (a *RaffleApp) FinalizeBlock(ctx context.Context, req *abci.FinalizeBlockRequest) (*abci.FinalizeBlockResponse, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	a.st.Height = req.Height
	a.lastBlockTime = req.Time

	txResults := make([]*abci.ExecTxResult, 0, len(req.Txs))
	for _, txBytes := range req.Txs {
		res := a.deliverTx(ctx, txBytes, req.Height, req.Time)
		txResults = append(txResults, res)
	}

	a.lastHash = a.st.AppHash()

	return &abci.FinalizeBlockResponse{
		TxResults: txResults,
		AppHash:   a.lastHash,
	}, nil
}

func (a *RaffleApp) Commit(_ context.Context, _ *abci.CommitRequest) (*abci.CommitResponse, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	appHome := filepath.Join(a.home, "app")
	if err := a.st.Save(appHome); err != nil {
		return nil, err
	}
	return &abci.CommitResponse{}, nil
}

func (a *RaffleApp) Query(_ context.Context, req *abci.QueryRequest) (*abci.QueryResponse, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	// Paths:
	// - /raffle
	// - /raffle/winners | /raffle/winner_ids | /raffle/holders
	// - /beacon/request/<id>
	// - /beacon/round
	r := a.raffleOver(a.st)
	path := strings.TrimSpace(req.Path)
	switch {
	case path == "/raffle":
		return a.queryOK(r.Status())
	case path == "/raffle/winners":
		ws, err := r.Winners()
		if err != nil {
			return a.queryErr(err), nil
		}
		return a.queryOK(ws)
	case path == "/raffle/winner_ids":
		ids, err := r.WinnerIDs()
		if err != nil {
			return a.queryErr(err), nil
		}
		return a.queryOK(ids)
	case path == "/raffle/holders":
		hs, err := r.WinnerHolders()
		if err != nil {
			return a.queryErr(err), nil
		}
		return a.queryOK(hs)
	case path == "/beacon/round":
		now := a.lastBlockTime
		if now.IsZero() {
			now = time.Now()
		}
		round, err := a.cfg.Beacon.RoundAt(now)
		if err != nil {
			return a.queryErr(err), nil
		}
		return a.queryOK(map[string]any{"round": round, "time": now.Unix(), "primary": a.cfg.Beacon.IsPrimary()})
	case strings.HasPrefix(path, "/beacon/request/"):
		raw := strings.TrimPrefix(path, "/beacon/request/")
		id, err := strconv.ParseUint(raw, 10, 64)
		if err != nil {
			return a.queryErr(types.ErrInvalidRequest.Wrap("invalid request id")), nil
		}
		rec, ok := r.Exchange().Record(id)
		if !ok {
			return a.queryErr(types.ErrInvalidRequest.Wrapf("request %d not found", id)), nil
		}
		return a.queryOK(rec)
	default:
		return &abci.QueryResponse{Code: 1, Log: "unknown query path", Height: a.st.Height}, nil
	}
}

func (a *RaffleApp) queryOK(v any) (*abci.QueryResponse, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("encode query response: %w", err)
	}
	return &abci.QueryResponse{Code: 0, Value: b, Height: a.st.Height}, nil
}

func (a *RaffleApp) queryErr(err error) *abci.QueryResponse {
	codespace, code, _ := errorsmod.ABCIInfo(err, false)
	return &abci.QueryResponse{Code: code, Codespace: codespace, Log: err.Error(), Height: a.st.Height}
}

// deliverTx executes one tx against a staged copy of state and commits the
// copy only on success, so a failed tx changes nothing.
func (a *RaffleApp) deliverTx(ctx context.Context, txBytes []byte, height int64, now time.Time) *abci.ExecTxResult {
	env, err := codec.DecodeTxEnvelope(txBytes)
	if err != nil {
		return &abci.ExecTxResult{Code: 1, Log: err.Error()}
	}

	staged, err := a.st.Clone()
	if err != nil {
		return &abci.ExecTxResult{Code: 1, Log: err.Error()}
	}

	events, err := a.execTx(ctx, staged, env, now)
	if err != nil {
		codespace, code, _ := errorsmod.ABCIInfo(err, false)
		a.logger.Debug("tx failed", "type", env.Type, "height", height, "err", err)
		return &abci.ExecTxResult{Code: code, Codespace: codespace, Log: err.Error()}
	}

	a.st = staged
	return &abci.ExecTxResult{Code: 0, Events: events}
}

func (a *RaffleApp) execTx(ctx context.Context, st *state.State, env codec.TxEnvelope, now time.Time) ([]abci.Event, error) {
	switch env.Type {
	case codec.TxTypeRaffleStart:
		var msg codec.RaffleStartTx
		if len(env.Value) > 0 {
			if err := json.Unmarshal(env.Value, &msg); err != nil {
				return nil, types.ErrInvalidRequest.Wrap("bad raffle/start value")
			}
		}
		caller, err := authenticate(st, env)
		if err != nil {
			return nil, err
		}
		if a.owner != (common.Address{}) && caller != a.owner {
			return nil, types.ErrUnauthorized.Wrapf("caller %s is not the raffle owner", caller.Hex())
		}
		return a.raffleOver(st).Start(now)

	case codec.TxTypeBeaconDeliver:
		var msg codec.BeaconDeliverTx
		if err := json.Unmarshal(env.Value, &msg); err != nil {
			return nil, types.ErrInvalidRequest.Wrap("bad beacon/deliver value")
		}
		raw, err := uint256.FromDecimal(msg.Randomness)
		if err != nil {
			return nil, types.ErrInvalidRequest.Wrapf("randomness: %v", err)
		}
		data, err := hexutil.Decode(msg.Data)
		if err != nil {
			return nil, types.ErrMalformedPayload.Wrapf("data: %v", err)
		}
		caller, err := authenticate(st, env)
		if err != nil {
			return nil, err
		}
		return a.raffleOver(st).Deliver(ctx, caller, raw, data)

	default:
		return nil, types.ErrInvalidRequest.Wrapf("unknown tx type: %s", env.Type)
	}
}
