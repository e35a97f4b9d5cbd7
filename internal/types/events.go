package types

import (
	"sort"

	abci "github.com/cometbft/cometbft/abci/types"
)

const (
	EventTypeRandomnessRequested = "RandomnessRequested"
	EventTypeRandomnessFulfilled = "RandomnessFulfilled"
	EventTypeRaffleStarted       = "RaffleStarted"
	EventTypeRaffleCompleted     = "RaffleCompleted"
)

const (
	AttributeKeyRequestID  = "requestId"
	AttributeKeyRound      = "round"
	AttributeKeyData       = "data"
	AttributeKeyCommitHash = "commitHash"
	AttributeKeyValue      = "value"
	AttributeKeyRaffle     = "raffle"
	AttributeKeyWinnerIDs  = "winnerIds"
	AttributeKeyHolders    = "holders"
	AttributeKeyCount      = "count"
	AttributeKeyTarget     = "target"
	AttributeKeySeed       = "seed"
	AttributeKeyAttempts   = "attempts"
)

// NewEvent builds an indexed event with attributes in sorted key order so the
// encoding is stable across replicas.
func NewEvent(typ string, attrs map[string]string) abci.Event {
	ev := abci.Event{Type: typ}
	keys := make([]string, 0, len(attrs))
	for k := range attrs {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		ev.Attributes = append(ev.Attributes, abci.EventAttribute{Key: k, Value: attrs[k], Index: true})
	}
	return ev
}
