package cmd

import (
	"fmt"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

func roundCmd(v *viper.Viper) *cobra.Command {
	c := &cobra.Command{
		Use:   "round",
		Short: "Print the beacon round a request issued at the given time would target",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := decodeConfig(cmd, v)
			if err != nil {
				return err
			}
			at, _ := cmd.Flags().GetInt64("at")
			now := time.Now()
			if at > 0 {
				now = time.Unix(at, 0)
			}

			bc := cfg.BeaconConfig(common.Address{}, common.Address{})
			if bc.Period < time.Second {
				return fmt.Errorf("beacon.period_seconds must be > 0")
			}
			round, err := bc.RoundAt(now)
			if err != nil {
				return err
			}
			_, err = fmt.Fprintf(cmd.OutOrStdout(), "round=%d time=%d primary=%t\n", round, now.Unix(), bc.IsPrimary())
			return err
		},
	}
	c.Flags().Int64("at", 0, "unix seconds to evaluate (default: now)")
	return c
}
