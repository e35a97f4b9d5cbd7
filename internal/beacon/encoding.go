package beacon

import (
	"math/big"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/holiman/uint256"

	"beaconraffle/internal/types"
)

var (
	uint256Ty = mustType("uint256")
	bytesTy   = mustType("bytes")
	addressTy = mustType("address")

	// (requestId, extraContext)
	innerArgs = abi.Arguments{{Type: uint256Ty}, {Type: bytesTy}}
	// (round, inner)
	outerArgs = abi.Arguments{{Type: uint256Ty}, {Type: bytesTy}}
	// (raw, exchange, chainId, requestId)
	valueArgs = abi.Arguments{{Type: uint256Ty}, {Type: addressTy}, {Type: uint256Ty}, {Type: uint256Ty}}
)

func mustType(t string) abi.Type {
	ty, err := abi.NewType(t, "", nil)
	if err != nil {
		panic(err)
	}
	return ty
}

func u64(x uint64) *big.Int { return new(big.Int).SetUint64(x) }

// EncodeRequest returns the inner encoding abi.encode(requestId, extra) and the
// round-bound payload abi.encode(round, inner) the beacon operator must echo.
func EncodeRequest(round, requestID uint64, extra []byte) (inner, dataWithRound []byte, err error) {
	if extra == nil {
		extra = []byte{}
	}
	inner, err = innerArgs.Pack(u64(requestID), extra)
	if err != nil {
		return nil, nil, types.ErrInvalidRequest.Wrapf("encode request: %v", err)
	}
	dataWithRound, err = outerArgs.Pack(u64(round), inner)
	if err != nil {
		return nil, nil, types.ErrInvalidRequest.Wrapf("encode round: %v", err)
	}
	return inner, dataWithRound, nil
}

// CommitHash is the binding digest stored at request time.
func CommitHash(dataWithRound []byte) common.Hash {
	return crypto.Keccak256Hash(dataWithRound)
}

// Payload is a decoded delivery payload.
type Payload struct {
	Round        uint64
	RequestID    uint64
	ExtraContext []byte
}

// DecodePayload parses abi.encode(round, abi.encode(requestId, extra)).
func DecodePayload(dataWithRound []byte) (Payload, error) {
	outer, err := outerArgs.Unpack(dataWithRound)
	if err != nil {
		return Payload{}, types.ErrMalformedPayload.Wrapf("outer: %v", err)
	}
	round, err := toUint64(outer[0], "round")
	if err != nil {
		return Payload{}, err
	}
	innerBytes, ok := outer[1].([]byte)
	if !ok {
		return Payload{}, types.ErrMalformedPayload.Wrap("inner encoding is not bytes")
	}

	inner, err := innerArgs.Unpack(innerBytes)
	if err != nil {
		return Payload{}, types.ErrMalformedPayload.Wrapf("inner: %v", err)
	}
	requestID, err := toUint64(inner[0], "requestId")
	if err != nil {
		return Payload{}, err
	}
	extra, ok := inner[1].([]byte)
	if !ok {
		return Payload{}, types.ErrMalformedPayload.Wrap("extra context is not bytes")
	}
	return Payload{Round: round, RequestID: requestID, ExtraContext: extra}, nil
}

func toUint64(v any, field string) (uint64, error) {
	b, ok := v.(*big.Int)
	if !ok || b == nil {
		return 0, types.ErrMalformedPayload.Wrapf("%s is not a uint256", field)
	}
	if !b.IsUint64() {
		return 0, types.ErrMalformedPayload.Wrapf("%s out of range: %s", field, b.String())
	}
	return b.Uint64(), nil
}

// VerifiedValue scopes raw beacon output to this exchange, network and
// request, so the same raw randomness yields unrelated values elsewhere.
func VerifiedValue(raw *uint256.Int, identity common.Address, chainID, requestID uint64) (common.Hash, error) {
	if raw == nil {
		return common.Hash{}, types.ErrInvalidRequest.Wrap("nil randomness")
	}
	enc, err := valueArgs.Pack(raw.ToBig(), identity, u64(chainID), u64(requestID))
	if err != nil {
		return common.Hash{}, types.ErrInvalidRequest.Wrapf("encode verified value: %v", err)
	}
	return crypto.Keccak256Hash(enc), nil
}
