package cmd

import (
	"fmt"
	"strconv"

	"github.com/ethereum/go-ethereum/common"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"beaconraffle/internal/registry"
)

func registryCmd(v *viper.Viper) *cobra.Command {
	c := &cobra.Command{
		Use:   "registry",
		Short: "Maintain the SQLite registry snapshot named by registry.dsn",
	}
	c.AddCommand(
		registrySetCmd(v),
		registryDeleteCmd(v),
		registrySupplyCmd(v),
		registrySizeCmd(v),
	)
	return c
}

func withStore(cmd *cobra.Command, v *viper.Viper, fn func(*registry.SQLStore) error) error {
	cfg, err := decodeConfig(cmd, v)
	if err != nil {
		return err
	}
	if cfg.Registry.DSN == "" {
		return fmt.Errorf("registry.dsn is not set")
	}
	store, err := registry.OpenSQLStore(cfg.Registry.DSN)
	if err != nil {
		return err
	}
	defer func() { _ = store.Close() }()
	return fn(store)
}

func parseItemID(s string) (uint64, error) {
	id, err := strconv.ParseUint(s, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid item id %q", s)
	}
	return id, nil
}

func registrySetCmd(v *viper.Viper) *cobra.Command {
	return &cobra.Command{
		Use:   "set <item-id> <holder>",
		Short: "Record the holder of an item",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseItemID(args[0])
			if err != nil {
				return err
			}
			if !common.IsHexAddress(args[1]) {
				return fmt.Errorf("invalid holder address %q", args[1])
			}
			return withStore(cmd, v, func(s *registry.SQLStore) error {
				return s.PutHolder(cmd.Context(), id, common.HexToAddress(args[1]))
			})
		},
	}
}

func registryDeleteCmd(v *viper.Viper) *cobra.Command {
	return &cobra.Command{
		Use:   "delete <item-id>",
		Short: "Remove an item (burned or never minted)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseItemID(args[0])
			if err != nil {
				return err
			}
			return withStore(cmd, v, func(s *registry.SQLStore) error {
				return s.DeleteHolder(cmd.Context(), id)
			})
		},
	}
}

func registrySupplyCmd(v *viper.Viper) *cobra.Command {
	return &cobra.Command{
		Use:   "supply <n>",
		Short: "Set the reported total supply",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			n, err := strconv.ParseUint(args[0], 10, 64)
			if err != nil {
				return fmt.Errorf("invalid supply %q", args[0])
			}
			return withStore(cmd, v, func(s *registry.SQLStore) error {
				return s.SetTotalSupply(cmd.Context(), n)
			})
		},
	}
}

func registrySizeCmd(v *viper.Viper) *cobra.Command {
	return &cobra.Command{
		Use:   "size",
		Short: "Print the population size the raffle would draw from",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withStore(cmd, v, func(s *registry.SQLStore) error {
				n, err := registry.PopulationSize(cmd.Context(), s)
				if err != nil {
					return err
				}
				_, err = fmt.Fprintln(cmd.OutOrStdout(), n)
				return err
			})
		},
	}
}
