package cmd

import (
	"crypto/ecdsa"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/crypto"
	"github.com/spf13/cobra"

	"beaconraffle/internal/codec"
)

const (
	flagKey   = "key"
	flagNonce = "nonce"
)

func txCmd() *cobra.Command {
	c := &cobra.Command{
		Use:   "tx",
		Short: "Build signed transactions (printed as JSON, ready for broadcast_tx)",
	}
	c.PersistentFlags().String(flagKey, "", "hex secp256k1 private key (default $RAFFLED_KEY)")
	c.PersistentFlags().Uint64(flagNonce, 0, "tx nonce; must exceed the signer's last accepted nonce (default: unix millis)")
	c.AddCommand(txStartCmd(), txDeliverCmd())
	return c
}

func signingKey(cmd *cobra.Command) (*ecdsa.PrivateKey, error) {
	raw, _ := cmd.Flags().GetString(flagKey)
	if raw == "" {
		raw = os.Getenv("RAFFLED_KEY")
	}
	if raw == "" {
		return nil, fmt.Errorf("--%s or RAFFLED_KEY is required", flagKey)
	}
	key, err := crypto.HexToECDSA(strings.TrimPrefix(strings.TrimSpace(raw), "0x"))
	if err != nil {
		return nil, fmt.Errorf("parse key: %w", err)
	}
	return key, nil
}

func txNonce(cmd *cobra.Command) uint64 {
	n, _ := cmd.Flags().GetUint64(flagNonce)
	if n == 0 {
		n = uint64(time.Now().UnixMilli())
	}
	return n
}

func printSigned(cmd *cobra.Command, typ string, value any) error {
	key, err := signingKey(cmd)
	if err != nil {
		return err
	}
	b, err := codec.SignTx(key, typ, value, txNonce(cmd))
	if err != nil {
		return err
	}
	_, err = fmt.Fprintln(cmd.OutOrStdout(), string(b))
	return err
}

func txStartCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "start",
		Short: "Build a raffle/start transaction",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return printSigned(cmd, codec.TxTypeRaffleStart, codec.RaffleStartTx{})
		},
	}
}

func txDeliverCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "deliver <randomness> <data>",
		Short: "Build a beacon/deliver transaction",
		Long:  "randomness is a decimal uint256; data is the 0x-hex abi.encode(round, abi.encode(requestId, extra)) payload.",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return printSigned(cmd, codec.TxTypeBeaconDeliver, codec.BeaconDeliverTx{
				Randomness: args[0],
				Data:       args[1],
			})
		},
	}
}
