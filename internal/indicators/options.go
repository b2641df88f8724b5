package indicators

import "intradesk/pkg/types"

// PCR is the put/call ratio by open interest. ok is false when the chain
// carries no call open interest.
func PCR(strikes []types.OptionQuote) (float64, bool) {
	var putOI, callOI int64
	for _, s := range strikes {
		switch s.Type {
		case "PE":
			putOI += s.OpenInterest
		case "CE":
			callOI += s.OpenInterest
		}
	}
	if callOI == 0 {
		return 0, false
	}
	return float64(putOI) / float64(callOI), true
}

// MaxPain returns the strike at which the total value paid out to option
// holders is smallest. Ties resolve to the lower strike.
func MaxPain(strikes []types.OptionQuote) (float64, bool) {
	levels := make(map[float64]bool)
	for _, s := range strikes {
		levels[s.Strike] = true
	}
	if len(levels) == 0 {
		return 0, false
	}

	best, bestPain := 0.0, 0.0
	first := true
	for level := range levels {
		pain := 0.0
		for _, s := range strikes {
			switch s.Type {
			case "CE":
				if level > s.Strike {
					pain += float64(s.OpenInterest) * (level - s.Strike)
				}
			case "PE":
				if level < s.Strike {
					pain += float64(s.OpenInterest) * (s.Strike - level)
				}
			}
		}
		if first || pain < bestPain || (pain == bestPain && level < best) {
			best, bestPain = level, pain
			first = false
		}
	}
	return best, true
}

// IVRank places the current implied volatility inside its historical range,
// 0 at the low and 1 at the high.
func IVRank(current float64, history []float64) (float64, bool) {
	if len(history) == 0 {
		return 0, false
	}
	lo, hi := history[0], history[0]
	for _, v := range history[1:] {
		if v < lo {
			lo = v
		}
		if v > hi {
			hi = v
		}
	}
	if hi == lo {
		return 0, false
	}
	return (current - lo) / (hi - lo), true
}
