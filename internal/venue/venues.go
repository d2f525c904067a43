package venue

import (
	"time"

	"github.com/aman-zulfiqar/dex-execution-engine/internal/constants"
	"github.com/aman-zulfiqar/dex-execution-engine/internal/models"
)

// VenueOptions are the per-venue knobs exposed through configuration.
type VenueOptions struct {
	FeeRate  float64
	DelayMin time.Duration
	DelayMax time.Duration
	Seed     int64
}

// NewRaydium returns the Raydium reference driver.
func NewRaydium(opts VenueOptions) Driver {
	fee := opts.FeeRate
	if fee <= 0 {
		fee = constants.RaydiumFee
	}
	return NewSimulated(SimulatedConfig{
		Name:     models.VenueRaydium,
		FeeRate:  fee,
		PriceMin: 148.0,
		PriceMax: 152.0,
		Depth:    800_000,
		DelayMin: opts.DelayMin,
		DelayMax: opts.DelayMax,
		Seed:     opts.Seed,
	})
}

// NewMeteora returns the Meteora reference driver. Slightly tighter band and
// lower fee, shallower depth than Raydium.
func NewMeteora(opts VenueOptions) Driver {
	fee := opts.FeeRate
	if fee <= 0 {
		fee = constants.MeteoraFee
	}
	return NewSimulated(SimulatedConfig{
		Name:     models.VenueMeteora,
		FeeRate:  fee,
		PriceMin: 148.5,
		PriceMax: 151.5,
		Depth:    400_000,
		DelayMin: opts.DelayMin,
		DelayMax: opts.DelayMax,
		Seed:     opts.Seed,
	})
}
