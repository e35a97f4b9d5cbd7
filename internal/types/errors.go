package types

import errorsmod "cosmossdk.io/errors"

const ModuleName = "raffle"

// Sentinel errors. Codes are part of the ABCI surface; do not renumber.
var (
	ErrInvalidRequest        = errorsmod.Register(ModuleName, 1, "invalid request")
	ErrUnauthorized          = errorsmod.Register(ModuleName, 2, "unauthorized")
	ErrInvalidState          = errorsmod.Register(ModuleName, 3, "invalid state")
	ErrIntegrityMismatch     = errorsmod.Register(ModuleName, 4, "commit hash mismatch")
	ErrPopulationUnavailable = errorsmod.Register(ModuleName, 5, "population size unavailable")
	ErrEmptyPopulation       = errorsmod.Register(ModuleName, 6, "empty population")
	ErrNotYetExecuted        = errorsmod.Register(ModuleName, 7, "raffle not yet executed")
	ErrMalformedPayload      = errorsmod.Register(ModuleName, 8, "malformed randomness payload")
	ErrShortSelection        = errorsmod.Register(ModuleName, 9, "selection exhausted attempts")
	ErrItemNotFound          = errorsmod.Register(ModuleName, 10, "item not found")
)
