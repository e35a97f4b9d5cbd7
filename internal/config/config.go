package config

import (
	"fmt"
	"io"
	"strings"
	"time"

	"cosmossdk.io/log"
	"github.com/ethereum/go-ethereum/common"
	"github.com/rs/zerolog"
	"github.com/spf13/viper"

	"beaconraffle/internal/beacon"
	"beaconraffle/internal/raffle"
	"beaconraffle/internal/selector"
)

const EnvPrefix = "RAFFLED"

type BeaconConfig struct {
	GenesisUnix         int64  `mapstructure:"genesis_unix"`
	PeriodSeconds       uint64 `mapstructure:"period_seconds"`
	PrimaryDelayPeriods uint64 `mapstructure:"primary_delay_periods"`
	DefaultDelayPeriods uint64 `mapstructure:"default_delay_periods"`
}

type RaffleConfig struct {
	Name          string `mapstructure:"name"`
	WinnerCount   uint64 `mapstructure:"winner_count"`
	AttemptFactor uint64 `mapstructure:"attempt_factor"`
	Strict        bool   `mapstructure:"strict"`
}

type RegistryConfig struct {
	// DSN is a SQLite database path; empty selects the in-memory registry.
	DSN string `mapstructure:"dsn"`
}

type ABCIConfig struct {
	Addr      string `mapstructure:"addr"`
	Transport string `mapstructure:"transport"`
}

type HTTPConfig struct {
	Addr string `mapstructure:"addr"` // empty disables the HTTP API
}

type LogConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"` // plain | json
}

type Config struct {
	Home            string `mapstructure:"home"`
	ChainID         uint64 `mapstructure:"chain_id"`
	PrimaryChainID  uint64 `mapstructure:"primary_chain_id"`
	ExchangeAddress string `mapstructure:"exchange_address"`
	OperatorAddress string `mapstructure:"operator_address"`
	OwnerAddress    string `mapstructure:"owner_address"`

	Beacon   BeaconConfig   `mapstructure:"beacon"`
	Raffle   RaffleConfig   `mapstructure:"raffle"`
	Registry RegistryConfig `mapstructure:"registry"`
	ABCI     ABCIConfig     `mapstructure:"abci"`
	HTTP     HTTPConfig     `mapstructure:"http"`
	Log      LogConfig      `mapstructure:"log"`
}

// SetDefaults registers every key with its default so env overrides and
// Unmarshal see the full key set.
func SetDefaults(v *viper.Viper) {
	v.SetDefault("home", ".raffled")
	v.SetDefault("chain_id", beacon.DefaultPrimaryChainID)
	v.SetDefault("primary_chain_id", beacon.DefaultPrimaryChainID)
	v.SetDefault("exchange_address", "")
	v.SetDefault("operator_address", "")
	v.SetDefault("owner_address", "")

	v.SetDefault("beacon.genesis_unix", beacon.DefaultGenesisUnix)
	v.SetDefault("beacon.period_seconds", uint64(beacon.DefaultPeriod/time.Second))
	v.SetDefault("beacon.primary_delay_periods", beacon.DefaultPrimaryDelayPeriods)
	v.SetDefault("beacon.default_delay_periods", beacon.DefaultDelayPeriods)

	v.SetDefault("raffle.name", "raffle")
	v.SetDefault("raffle.winner_count", raffle.DefaultWinnerCount)
	v.SetDefault("raffle.attempt_factor", selector.DefaultAttemptFactor)
	v.SetDefault("raffle.strict", false)

	v.SetDefault("registry.dsn", "")
	v.SetDefault("abci.addr", "tcp://127.0.0.1:26658")
	v.SetDefault("abci.transport", "socket")
	v.SetDefault("http.addr", "")
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "plain")
}

// NewViper returns a viper instance with defaults and RAFFLED_* env binding.
func NewViper() *viper.Viper {
	v := viper.New()
	SetDefaults(v)
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	return v
}

// Decode reads an optional config file and decodes v without validating.
func Decode(v *viper.Viper, file string) (Config, error) {
	if file != "" {
		v.SetConfigFile(file)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config %s: %w", file, err)
		}
	}
	var c Config
	if err := v.Unmarshal(&c); err != nil {
		return Config{}, fmt.Errorf("decode config: %w", err)
	}
	return c, nil
}

// Load is Decode followed by Validate.
func Load(v *viper.Viper, file string) (Config, error) {
	c, err := Decode(v, file)
	if err != nil {
		return Config{}, err
	}
	if err := c.Validate(); err != nil {
		return Config{}, err
	}
	return c, nil
}

func parseAddress(key, s string, required bool) (common.Address, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		if required {
			return common.Address{}, fmt.Errorf("%s is required", key)
		}
		return common.Address{}, nil
	}
	if !common.IsHexAddress(s) {
		return common.Address{}, fmt.Errorf("%s is not a hex address: %q", key, s)
	}
	return common.HexToAddress(s), nil
}

func (c Config) Validate() error {
	if strings.TrimSpace(c.Home) == "" {
		return fmt.Errorf("home must be set")
	}
	if _, err := parseAddress("exchange_address", c.ExchangeAddress, false); err != nil {
		return err
	}
	if _, err := c.Owner(); err != nil {
		return err
	}
	rc, err := c.RaffleConfig()
	if err != nil {
		return err
	}
	if err := rc.Validate(); err != nil {
		return err
	}
	switch c.ABCI.Transport {
	case "socket", "grpc":
	default:
		return fmt.Errorf("abci.transport must be socket or grpc, got %q", c.ABCI.Transport)
	}
	if _, err := zerolog.ParseLevel(c.Log.Level); err != nil {
		return fmt.Errorf("log.level: %w", err)
	}
	switch c.Log.Format {
	case "plain", "json":
	default:
		return fmt.Errorf("log.format must be plain or json, got %q", c.Log.Format)
	}
	return nil
}

// Owner is the address allowed to start the raffle; zero means anyone.
func (c Config) Owner() (common.Address, error) {
	return parseAddress("owner_address", c.OwnerAddress, false)
}

func (c Config) RaffleConfig() (raffle.Config, error) {
	operator, err := parseAddress("operator_address", c.OperatorAddress, true)
	if err != nil {
		return raffle.Config{}, err
	}
	identity, err := parseAddress("exchange_address", c.ExchangeAddress, false)
	if err != nil {
		return raffle.Config{}, err
	}
	return raffle.Config{
		Name:        c.Raffle.Name,
		WinnerCount: c.Raffle.WinnerCount,
		Selection: selector.Options{
			AttemptFactor: c.Raffle.AttemptFactor,
			Strict:        c.Raffle.Strict,
		},
		Beacon: c.BeaconConfig(identity, operator),
	}, nil
}

func (c Config) BeaconConfig(identity, operator common.Address) beacon.Config {
	return beacon.Config{
		Identity:            identity,
		ChainID:             c.ChainID,
		Operator:            operator,
		PrimaryChainID:      c.PrimaryChainID,
		GenesisUnix:         c.Beacon.GenesisUnix,
		Period:              time.Duration(c.Beacon.PeriodSeconds) * time.Second,
		PrimaryDelayPeriods: c.Beacon.PrimaryDelayPeriods,
		DefaultDelayPeriods: c.Beacon.DefaultDelayPeriods,
	}
}

// NewLogger builds the process logger from the log section.
func (c Config) NewLogger(w io.Writer) (log.Logger, error) {
	lvl, err := zerolog.ParseLevel(c.Log.Level)
	if err != nil {
		return nil, fmt.Errorf("log.level: %w", err)
	}
	opts := []log.Option{log.LevelOption(lvl)}
	if c.Log.Format == "json" {
		opts = append(opts, log.OutputJSONOption())
	}
	return log.NewLogger(w, opts...), nil
}
