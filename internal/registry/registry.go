package registry

import (
	"context"

	"github.com/ethereum/go-ethereum/common"

	"beaconraffle/internal/types"
)

// HolderLookup resolves the current holder of an item. Lookups may fail per
// item; callers treat a failure as "skip this item".
type HolderLookup interface {
	HolderOf(ctx context.Context, itemID uint64) (common.Address, error)
}

// PrimarySizeAPI is the preferred population-size capability.
type PrimarySizeAPI interface {
	TotalSupply(ctx context.Context) (uint64, error)
}

// FallbackSizeAPI is consulted when the primary capability is missing or fails.
type FallbackSizeAPI interface {
	TotalMinted(ctx context.Context) (uint64, error)
}

// Registry is what the raffle needs from an item registry: holder lookups plus
// at least one of the size capabilities, discovered at runtime.
type Registry interface {
	HolderLookup
}

type sizeProbe struct {
	name  string
	query func(ctx context.Context, src any) (uint64, bool, error)
}

// probes are tried in order; the first implemented capability that answers wins.
var probes = []sizeProbe{
	{
		name: "totalSupply",
		query: func(ctx context.Context, src any) (uint64, bool, error) {
			api, ok := src.(PrimarySizeAPI)
			if !ok {
				return 0, false, nil
			}
			n, err := api.TotalSupply(ctx)
			return n, true, err
		},
	},
	{
		name: "totalMinted",
		query: func(ctx context.Context, src any) (uint64, bool, error) {
			api, ok := src.(FallbackSizeAPI)
			if !ok {
				return 0, false, nil
			}
			n, err := api.TotalMinted(ctx)
			return n, true, err
		},
	},
}

// PopulationSize asks src for its item count through the ordered probes.
func PopulationSize(ctx context.Context, src any) (uint64, error) {
	var tried []string
	for _, p := range probes {
		n, implemented, err := p.query(ctx, src)
		if !implemented {
			continue
		}
		if err == nil {
			return n, nil
		}
		tried = append(tried, p.name+": "+err.Error())
	}
	if len(tried) == 0 {
		return 0, types.ErrPopulationUnavailable.Wrap("registry exposes no size capability")
	}
	return 0, types.ErrPopulationUnavailable.Wrapf("%v", tried)
}
