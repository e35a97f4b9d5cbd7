package beacon

import (
	"fmt"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"beaconraffle/internal/types"
)

const (
	// Defaults track the drand quicknet chain.
	DefaultGenesisUnix int64 = 1692803367
	DefaultPeriod            = 3 * time.Second

	DefaultPrimaryChainID      uint64 = 1
	DefaultPrimaryDelayPeriods uint64 = 4
	DefaultDelayPeriods        uint64 = 1

	// Upper bound on the finality margin, in periods.
	maxDelayPeriods uint64 = 1 << 16
)

// Config describes the exchange identity, the entropy operator, and the beacon
// schedule that maps wall-clock time to round numbers.
type Config struct {
	Identity common.Address
	ChainID  uint64
	Operator common.Address

	// PrimaryChainID names the network that gets the larger finality margin.
	PrimaryChainID uint64

	GenesisUnix         int64
	Period              time.Duration
	PrimaryDelayPeriods uint64
	DefaultDelayPeriods uint64
}

func DefaultConfig() Config {
	return Config{
		ChainID:             DefaultPrimaryChainID,
		PrimaryChainID:      DefaultPrimaryChainID,
		GenesisUnix:         DefaultGenesisUnix,
		Period:              DefaultPeriod,
		PrimaryDelayPeriods: DefaultPrimaryDelayPeriods,
		DefaultDelayPeriods: DefaultDelayPeriods,
	}
}

func (c Config) Validate() error {
	if c.Operator == (common.Address{}) {
		return fmt.Errorf("operator address must be set")
	}
	if c.Period < time.Second || c.Period%time.Second != 0 {
		return fmt.Errorf("period must be a positive whole number of seconds, got %s", c.Period)
	}
	if c.GenesisUnix < 0 {
		return fmt.Errorf("genesis must not be negative: %d", c.GenesisUnix)
	}
	if c.PrimaryDelayPeriods > maxDelayPeriods {
		return fmt.Errorf("primary delay too large: %d > %d", c.PrimaryDelayPeriods, maxDelayPeriods)
	}
	if c.DefaultDelayPeriods > maxDelayPeriods {
		return fmt.Errorf("default delay too large: %d > %d", c.DefaultDelayPeriods, maxDelayPeriods)
	}
	return nil
}

// IsPrimary reports whether the exchange runs on the primary network.
func (c Config) IsPrimary() bool {
	return c.ChainID == c.PrimaryChainID
}

func (c Config) delayPeriods() uint64 {
	if c.IsPrimary() {
		return c.PrimaryDelayPeriods
	}
	return c.DefaultDelayPeriods
}

// RoundAt returns the beacon round a request issued at now binds to:
// floor((now - genesis + delay) / period) + 1.
func (c Config) RoundAt(now time.Time) (uint64, error) {
	elapsed := now.Unix() - c.GenesisUnix
	if elapsed < 0 {
		return 0, types.ErrInvalidState.Wrapf("time %d precedes beacon genesis %d", now.Unix(), c.GenesisUnix)
	}
	period := uint64(c.Period / time.Second)
	if period == 0 {
		return 0, types.ErrInvalidRequest.Wrap("beacon period is zero")
	}
	delay := c.delayPeriods() * period
	return (uint64(elapsed)+delay)/period + 1, nil
}
