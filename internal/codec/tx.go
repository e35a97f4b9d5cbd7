package codec

import (
	"crypto/ecdsa"
	"encoding/json"
	"fmt"
	"strconv"

	"github.com/ethereum/go-ethereum/crypto"
)

const (
	TxTypeRaffleStart   = "raffle/start"
	TxTypeBeaconDeliver = "beacon/deliver"
)

// TxEnvelope is the transaction container.
//
// CometBFT transactions are opaque bytes; envelopes are JSON. Signed txs carry:
// - Nonce: decimal u64, must increase per signer.
// - Signer: 0x-hex address of the signing key.
// - Sig: 65-byte secp256k1 signature over keccak256(SignBytes(...)).
type TxEnvelope struct {
	Type  string          `json:"type"`
	Value json.RawMessage `json:"value"`

	Nonce  string `json:"nonce,omitempty"`
	Signer string `json:"signer,omitempty"`
	Sig    []byte `json:"sig,omitempty"`
}

func DecodeTxEnvelope(txBytes []byte) (TxEnvelope, error) {
	var env TxEnvelope
	if err := json.Unmarshal(txBytes, &env); err != nil {
		return TxEnvelope{}, fmt.Errorf("invalid tx json: %w", err)
	}
	if env.Type == "" {
		return TxEnvelope{}, fmt.Errorf("missing tx.type")
	}
	return env, nil
}

// ---- Raffle ----

type RaffleStartTx struct{}

// ---- Beacon ----

type BeaconDeliverTx struct {
	Randomness string `json:"randomness"` // decimal uint256
	Data       string `json:"data"`       // 0x-hex abi.encode(round, abi.encode(requestId, extra))
}

// ---- Signing ----

const txAuthDomainV1 = "raffle/tx/v1"

// SignBytes = DOMAIN || 0x00 || type || 0x00 || nonce || 0x00 || signer || 0x00 || keccak256(value)
func SignBytes(typ string, value []byte, nonce string, signer string) []byte {
	sum := crypto.Keccak256(value)
	out := make([]byte, 0, len(txAuthDomainV1)+1+len(typ)+1+len(nonce)+1+len(signer)+1+len(sum))
	out = append(out, []byte(txAuthDomainV1)...)
	out = append(out, 0)
	out = append(out, []byte(typ)...)
	out = append(out, 0)
	out = append(out, []byte(nonce)...)
	out = append(out, 0)
	out = append(out, []byte(signer)...)
	out = append(out, 0)
	out = append(out, sum...)
	return out
}

// SignTx builds a signed envelope for value.
func SignTx(key *ecdsa.PrivateKey, typ string, value any, nonce uint64) ([]byte, error) {
	if key == nil {
		return nil, fmt.Errorf("signing key is nil")
	}
	raw, err := json.Marshal(value)
	if err != nil {
		return nil, fmt.Errorf("encode tx value: %w", err)
	}
	env := TxEnvelope{
		Type:   typ,
		Value:  raw,
		Nonce:  strconv.FormatUint(nonce, 10),
		Signer: crypto.PubkeyToAddress(key.PublicKey).Hex(),
	}
	digest := crypto.Keccak256(SignBytes(env.Type, env.Value, env.Nonce, env.Signer))
	env.Sig, err = crypto.Sign(digest, key)
	if err != nil {
		return nil, fmt.Errorf("sign tx: %w", err)
	}
	return json.Marshal(env)
}
