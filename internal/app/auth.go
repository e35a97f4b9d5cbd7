package app

import (
	"strconv"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"

	"beaconraffle/internal/codec"
	"beaconraffle/internal/state"
	"beaconraffle/internal/types"
)

func requireSignedEnvelope(env codec.TxEnvelope) error {
	if env.Nonce == "" {
		return types.ErrUnauthorized.Wrap("missing tx.nonce")
	}
	if env.Signer == "" {
		return types.ErrUnauthorized.Wrap("missing tx.signer")
	}
	if len(env.Sig) == 0 {
		return types.ErrUnauthorized.Wrap("missing tx.sig")
	}
	if len(env.Sig) != crypto.SignatureLength {
		return types.ErrUnauthorized.Wrapf("invalid tx.sig length: got %d want %d", len(env.Sig), crypto.SignatureLength)
	}
	if !common.IsHexAddress(env.Signer) {
		return types.ErrUnauthorized.Wrapf("tx.signer is not an address: %q", env.Signer)
	}
	return nil
}

// authenticate recovers the caller from the envelope signature and advances
// the signer's nonce in st.
func authenticate(st *state.State, env codec.TxEnvelope) (common.Address, error) {
	if err := requireSignedEnvelope(env); err != nil {
		return common.Address{}, err
	}
	signer := common.HexToAddress(env.Signer)

	digest := crypto.Keccak256(codec.SignBytes(env.Type, env.Value, env.Nonce, env.Signer))
	pub, err := crypto.SigToPub(digest, env.Sig)
	if err != nil {
		return common.Address{}, types.ErrUnauthorized.Wrapf("invalid signature: %v", err)
	}
	if recovered := crypto.PubkeyToAddress(*pub); recovered != signer {
		return common.Address{}, types.ErrUnauthorized.Wrapf("tx signer mismatch: signer=%s recovered=%s", signer.Hex(), recovered.Hex())
	}

	nonce, err := strconv.ParseUint(env.Nonce, 10, 64)
	if err != nil {
		return common.Address{}, types.ErrUnauthorized.Wrapf("invalid tx.nonce %q", env.Nonce)
	}
	key := signer.Hex()
	if last, ok := st.NonceMax[key]; ok && nonce <= last {
		return common.Address{}, types.ErrUnauthorized.Wrapf("stale nonce: got %d want > %d", nonce, last)
	}
	st.NonceMax[key] = nonce
	return signer, nil
}
