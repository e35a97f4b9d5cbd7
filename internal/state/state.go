package state

import (
	"crypto/sha256"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"github.com/ethereum/go-ethereum/common"
)

type State struct {
	Height int64 `json:"height"`

	NonceMax map[string]uint64 `json:"nonceMax,omitempty"` // signer -> last accepted tx.nonce, for replay protection

	Exchange *ExchangeState `json:"exchange"`
	Raffle   *RaffleState   `json:"raffle"`
}

func NewState() *State {
	return &State{
		Height:   0,
		NonceMax: map[string]uint64{},
		Exchange: NewExchangeState(),
		Raffle:   &RaffleState{Phase: PhaseIdle},
	}
}

func Load(home string) (*State, error) {
	path := filepath.Join(home, "state.json")
	b, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return NewState(), nil
		}
		return nil, fmt.Errorf("read state: %w", err)
	}
	var st State
	if err := json.Unmarshal(b, &st); err != nil {
		return nil, fmt.Errorf("decode state: %w", err)
	}
	st.normalize()
	return &st, nil
}

func (s *State) Save(home string) error {
	if err := os.MkdirAll(home, 0o755); err != nil {
		return fmt.Errorf("mkdir home: %w", err)
	}
	path := filepath.Join(home, "state.json")
	b, err := json.MarshalIndent(s, "", "  ")
	if err != nil {
		return fmt.Errorf("encode state: %w", err)
	}
	if err := os.WriteFile(path, b, 0o644); err != nil {
		return fmt.Errorf("write state: %w", err)
	}
	return nil
}

// Clone returns a deep copy of state suitable for staged tx execution.
func (s *State) Clone() (*State, error) {
	if s == nil {
		return nil, fmt.Errorf("state is nil")
	}
	b, err := json.Marshal(s)
	if err != nil {
		return nil, fmt.Errorf("encode state clone: %w", err)
	}
	var out State
	if err := json.Unmarshal(b, &out); err != nil {
		return nil, fmt.Errorf("decode state clone: %w", err)
	}
	out.normalize()
	return &out, nil
}

func (s *State) normalize() {
	if s.NonceMax == nil {
		s.NonceMax = map[string]uint64{}
	}
	if s.Exchange == nil {
		s.Exchange = NewExchangeState()
	}
	if s.Exchange.Records == nil {
		s.Exchange.Records = map[uint64]*RequestRecord{}
	}
	if s.Raffle == nil {
		s.Raffle = &RaffleState{}
	}
	if s.Raffle.Phase == "" {
		s.Raffle.Phase = PhaseIdle
	}
}

func (s *State) AppHash() []byte {
	// encoding/json does NOT guarantee map key order, so maps are normalized
	// into sorted slices before hashing.
	type nonceKV struct {
		Signer string `json:"signer"`
		Nonce  uint64 `json:"nonce"`
	}

	nonces := make([]nonceKV, 0, len(s.NonceMax))
	for k, v := range s.NonceMax {
		nonces = append(nonces, nonceKV{Signer: k, Nonce: v})
	}
	sort.Slice(nonces, func(i, j int) bool { return nonces[i].Signer < nonces[j].Signer })

	normalized := struct {
		Height        int64            `json:"height"`
		NonceMax      []nonceKV        `json:"nonceMax,omitempty"`
		NextRequestID uint64           `json:"nextRequestId"`
		Records       []*RequestRecord `json:"records"`
		Raffle        *RaffleState     `json:"raffle"`
	}{
		Height:        s.Height,
		NonceMax:      nonces,
		NextRequestID: s.Exchange.NextRequestID,
		Records:       s.Exchange.SortedRecords(),
		Raffle:        s.Raffle,
	}

	b, _ := json.Marshal(normalized)
	sum := sha256.Sum256(b)
	return sum[:]
}

// ---- Randomness exchange ----

// RequestRecord binds one randomness request to the beacon round it expects.
// CommitHash never changes after issuance; Pending is cleared once, by a
// verified delivery.
type RequestRecord struct {
	RequestID    uint64      `json:"requestId"`
	Round        uint64      `json:"round"`
	CommitHash   common.Hash `json:"commitHash"`
	ExtraContext []byte      `json:"extraContext,omitempty"`
	Pending      bool        `json:"pending"`
	IssuedAt     int64       `json:"issuedAt"` // unix seconds
}

type ExchangeState struct {
	NextRequestID uint64                    `json:"nextRequestId"`
	Records       map[uint64]*RequestRecord `json:"records"`
}

func NewExchangeState() *ExchangeState {
	return &ExchangeState{Records: map[uint64]*RequestRecord{}}
}

func (e *ExchangeState) SortedRecords() []*RequestRecord {
	out := make([]*RequestRecord, 0, len(e.Records))
	for _, r := range e.Records {
		out = append(out, r)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].RequestID < out[j].RequestID })
	return out
}

// ---- Raffle ----

type Phase string

const (
	PhaseIdle               Phase = "idle"
	PhaseAwaitingRandomness Phase = "awaiting_randomness"
	PhaseCompleted          Phase = "completed"
)

type Winner struct {
	ItemID uint64         `json:"itemId"`
	Holder common.Address `json:"holder"`
}

type RaffleState struct {
	Phase                Phase    `json:"phase"`
	Executed             bool     `json:"executed"`
	OutstandingRequestID *uint64  `json:"outstandingRequestId,omitempty"`
	Results              []Winner `json:"results,omitempty"`

	// Audit trail for replaying the selection off-chain.
	Seed            common.Hash `json:"seed,omitempty"`
	PopulationSize  uint64      `json:"populationSize,omitempty"`
	CompletedHeight int64       `json:"completedHeight,omitempty"`
}
