package registry

import (
	"context"
	"errors"
	"sync"

	"github.com/ethereum/go-ethereum/common"

	"beaconraffle/internal/types"
)

var errSizeDisabled = errors.New("size query disabled")

// Memory is a map-backed registry. Either size capability can be switched off
// to model registries that only expose one of them.
type Memory struct {
	mu      sync.RWMutex
	holders map[uint64]common.Address
	minted  uint64
	lookups int

	DisableTotalSupply bool
	DisableTotalMinted bool
}

func NewMemory() *Memory {
	return &Memory{holders: map[uint64]common.Address{}}
}

func (m *Memory) Set(itemID uint64, holder common.Address) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.holders[itemID] = holder
	if itemID > m.minted {
		m.minted = itemID
	}
}

func (m *Memory) Delete(itemID uint64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.holders, itemID)
}

func (m *Memory) HolderOf(_ context.Context, itemID uint64) (common.Address, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.lookups++
	h, ok := m.holders[itemID]
	if !ok {
		return common.Address{}, types.ErrItemNotFound.Wrapf("item %d", itemID)
	}
	return h, nil
}

// Lookups counts HolderOf calls, including failed ones.
func (m *Memory) Lookups() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.lookups
}

// TotalSupply is the number of items currently held.
func (m *Memory) TotalSupply(_ context.Context) (uint64, error) {
	if m.DisableTotalSupply {
		return 0, errSizeDisabled
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	return uint64(len(m.holders)), nil
}

// TotalMinted is the highest item id ever set, counting burned ids.
func (m *Memory) TotalMinted(_ context.Context) (uint64, error) {
	if m.DisableTotalMinted {
		return 0, errSizeDisabled
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.minted, nil
}
