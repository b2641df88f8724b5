package analyst

import (
	"fmt"
	"log/slog"

	"github.com/google/uuid"

	"intradesk/pkg/types"
)

// SizeConfig carries the capital and risk knobs the sizer enforces.
type SizeConfig struct {
	Capital      float64
	PerTradeRisk float64 // fraction of capital risked per trade (default 0.01)
	MaxDailyLoss float64 // fraction of capital, total stop risk cap (default 0.02)
	MaxPositions int     // default 15
	ProductType  string  // venue product code for intraday
	MarketConf   float64 // confidence at which entries go in at market (default 0.85)
}

// Sizer turns candidates into risk-sized approved orders.
type Sizer struct {
	cfg    SizeConfig
	logger *slog.Logger
}

// NewSizer creates the risk sizer.
func NewSizer(cfg SizeConfig, logger *slog.Logger) *Sizer {
	if cfg.PerTradeRisk == 0 {
		cfg.PerTradeRisk = 0.01
	}
	if cfg.MaxDailyLoss == 0 {
		cfg.MaxDailyLoss = 0.02
	}
	if cfg.MaxPositions == 0 {
		cfg.MaxPositions = 15
	}
	if cfg.MarketConf == 0 {
		cfg.MarketConf = 0.85
	}
	return &Sizer{cfg: cfg, logger: logger.With("component", "analyst.sizer")}
}

// Size applies the regime multiplier and the capital caps. An empty order
// set is a valid outcome; every dropped candidate carries a reason.
func (s *Sizer) Size(cands *types.CandidateSet, regime *types.Regime, universe []types.Instrument) (*types.OrderSet, error) {
	out := &types.OrderSet{}
	if regime.State == types.RegimeHalt || regime.PositionMultiplier == 0 {
		for _, c := range cands.Candidates {
			out.Rejected = append(out.Rejected, c.Symbol+": regime halt")
		}
		return out, nil
	}

	lots := make(map[string]int, len(universe))
	for _, inst := range universe {
		lots[inst.Symbol] = inst.LotSize
	}

	budget := s.cfg.PerTradeRisk * s.cfg.Capital * regime.PositionMultiplier
	dailyCap := s.cfg.MaxDailyLoss * s.cfg.Capital
	var committed float64

	for _, c := range cands.Candidates {
		if len(out.Orders) >= s.cfg.MaxPositions {
			out.Rejected = append(out.Rejected, c.Symbol+": max positions reached")
			continue
		}

		// size from the near entry edge, the price the order actually works at
		entry := c.EntryLow
		if c.Direction == types.Short {
			entry = c.EntryHigh
		}
		rps := entry - c.StopLoss
		if c.Direction == types.Short {
			rps = c.StopLoss - entry
		}
		if rps <= 0 {
			out.Rejected = append(out.Rejected, c.Symbol+": no stop distance")
			continue
		}

		qty := int(budget / rps)
		lot := lots[c.Symbol]
		if lot > 1 {
			qty -= qty % lot
		}
		if qty < 1 {
			out.Rejected = append(out.Rejected, c.Symbol+": size rounds to zero")
			continue
		}

		risk := float64(qty) * rps
		if committed+risk > dailyCap {
			out.Rejected = append(out.Rejected, fmt.Sprintf("%s: daily risk budget exhausted (%.2f of %.2f)", c.Symbol, committed, dailyCap))
			continue
		}

		entryType := types.EntryLimit
		if c.Confidence >= s.cfg.MarketConf {
			entryType = types.EntryMarket
		}
		// the tag seeds every client order tag for this trade, so a
		// re-run of the same batch dedupes at the venue
		id := uuid.NewString()
		order := types.ApprovedOrder{
			ID:          id,
			Tag:         id[:8],
			Symbol:      c.Symbol,
			Sector:      c.Sector,
			Direction:   c.Direction,
			Quantity:    qty,
			EntryType:   entryType,
			EntryPrice:  entry,
			StopLoss:    c.StopLoss,
			TakeProfit:  c.TakeProfit,
			ProductType: s.cfg.ProductType,
		}
		if err := order.ValidateSized(lot, budget); err != nil {
			out.Rejected = append(out.Rejected, c.Symbol+": "+err.Error())
			continue
		}
		committed += risk
		out.Orders = append(out.Orders, order)
	}

	s.logger.Info("sizing complete",
		"candidates", len(cands.Candidates), "approved", len(out.Orders),
		"rejected", len(out.Rejected), "committed_risk", committed)
	return out, nil
}
