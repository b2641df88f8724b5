package indicators

import "math"

// Returns converts a close series into simple one-step returns.
func Returns(closes []float64) []float64 {
	if len(closes) < 2 {
		return nil
	}
	out := make([]float64, 0, len(closes)-1)
	for i := 1; i < len(closes); i++ {
		if closes[i-1] == 0 {
			out = append(out, 0)
			continue
		}
		out = append(out, closes[i]/closes[i-1]-1)
	}
	return out
}

// Correlation is the Pearson correlation of two equal-length series.
func Correlation(a, b []float64) (float64, bool) {
	n := len(a)
	if n < 2 || len(b) != n {
		return 0, false
	}
	meanA, meanB := mean(a), mean(b)
	var cov, varA, varB float64
	for i := 0; i < n; i++ {
		da, db := a[i]-meanA, b[i]-meanB
		cov += da * db
		varA += da * da
		varB += db * db
	}
	if varA == 0 || varB == 0 {
		return 0, false
	}
	return cov / math.Sqrt(varA*varB), true
}

// Beta is the OLS slope of asset returns on market returns.
func Beta(asset, market []float64) (float64, bool) {
	n := len(asset)
	if n < 2 || len(market) != n {
		return 0, false
	}
	meanA, meanM := mean(asset), mean(market)
	var cov, varM float64
	for i := 0; i < n; i++ {
		cov += (asset[i] - meanA) * (market[i] - meanM)
		varM += (market[i] - meanM) * (market[i] - meanM)
	}
	if varM == 0 {
		return 0, false
	}
	return cov / varM, true
}

// SpreadZScore is where the latest value of a spread series sits relative
// to its trailing window, in standard deviations. A flat window carries no
// scale and reports false.
func SpreadZScore(spread []float64, window int) (float64, bool) {
	if window < 2 || len(spread) < window {
		return 0, false
	}
	w := spread[len(spread)-window:]
	m := mean(w)
	var ss float64
	for _, v := range w {
		d := v - m
		ss += d * d
	}
	sd := math.Sqrt(ss / float64(window))
	if sd == 0 {
		return 0, false
	}
	return (w[len(w)-1] - m) / sd, true
}

// HalfLife estimates how many steps a mean-reverting series needs to close
// half its displacement, from the OLS slope of one-step deltas on lagged
// levels. A series that is not reverting (slope >= 0) or overshoots past
// the mean every step (slope <= -1) reports false.
func HalfLife(series []float64) (float64, bool) {
	if len(series) < 3 {
		return 0, false
	}
	lagged := series[:len(series)-1]
	deltas := make([]float64, len(series)-1)
	for i := 1; i < len(series); i++ {
		deltas[i-1] = series[i] - series[i-1]
	}
	slope, ok := Beta(deltas, lagged)
	if !ok || slope >= 0 || slope <= -1 {
		return 0, false
	}
	return -math.Ln2 / math.Log1p(slope), true
}

func mean(xs []float64) float64 {
	var sum float64
	for _, x := range xs {
		sum += x
	}
	return sum / float64(len(xs))
}
