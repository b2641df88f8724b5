// Package indicators implements the technical analysis kernel: pure
// functions over candle history with no I/O. Results either carry enough
// history to be meaningful or return ok=false; callers never receive a
// half-warmed value silently.
package indicators

import (
	"math"

	"intradesk/pkg/types"
)

// Closes extracts the close series from candles, oldest first.
func Closes(candles []types.Candle) []float64 {
	out := make([]float64, len(candles))
	for i, c := range candles {
		out[i] = c.Close
	}
	return out
}

// SMA is the simple moving average of the last period values.
func SMA(values []float64, period int) (float64, bool) {
	if period <= 0 || len(values) < period {
		return 0, false
	}
	sum := 0.0
	for _, v := range values[len(values)-period:] {
		sum += v
	}
	return sum / float64(period), true
}

// EMA is the exponential moving average, seeded with the SMA of the first
// period values and smoothed with k = 2/(period+1).
func EMA(values []float64, period int) (float64, bool) {
	if period <= 0 || len(values) < period {
		return 0, false
	}
	seed := 0.0
	for _, v := range values[:period] {
		seed += v
	}
	ema := seed / float64(period)
	k := 2.0 / float64(period+1)
	for _, v := range values[period:] {
		ema = v*k + ema*(1-k)
	}
	return ema, true
}

// emaSeries returns the full EMA series aligned to values[period-1:].
func emaSeries(values []float64, period int) []float64 {
	if period <= 0 || len(values) < period {
		return nil
	}
	out := make([]float64, 0, len(values)-period+1)
	seed := 0.0
	for _, v := range values[:period] {
		seed += v
	}
	ema := seed / float64(period)
	out = append(out, ema)
	k := 2.0 / float64(period+1)
	for _, v := range values[period:] {
		ema = v*k + ema*(1-k)
		out = append(out, ema)
	}
	return out
}

// RSI is Wilder's relative strength index over the close series.
func RSI(values []float64, period int) (float64, bool) {
	if period <= 0 || len(values) < period+1 {
		return 0, false
	}
	var gain, loss float64
	for i := 1; i <= period; i++ {
		d := values[i] - values[i-1]
		if d > 0 {
			gain += d
		} else {
			loss -= d
		}
	}
	avgGain := gain / float64(period)
	avgLoss := loss / float64(period)
	// Wilder smoothing over the remainder
	for i := period + 1; i < len(values); i++ {
		d := values[i] - values[i-1]
		g, l := 0.0, 0.0
		if d > 0 {
			g = d
		} else {
			l = -d
		}
		avgGain = (avgGain*float64(period-1) + g) / float64(period)
		avgLoss = (avgLoss*float64(period-1) + l) / float64(period)
	}
	if avgLoss == 0 {
		return 100, true
	}
	rs := avgGain / avgLoss
	return 100 - 100/(1+rs), true
}

// MACDResult carries the MACD line, its signal line, and the histogram.
type MACDResult struct {
	MACD      float64
	Signal    float64
	Histogram float64
}

// MACD computes the 12/26 EMA spread with a 9-period signal line by default;
// callers pass the standard periods explicitly.
func MACD(values []float64, fast, slow, signal int) (MACDResult, bool) {
	if fast <= 0 || slow <= fast || signal <= 0 {
		return MACDResult{}, false
	}
	if len(values) < slow+signal {
		return MACDResult{}, false
	}
	fastSeries := emaSeries(values, fast)
	slowSeries := emaSeries(values, slow)
	// align: slowSeries[i] corresponds to fastSeries[i+slow-fast]
	offset := slow - fast
	macdLine := make([]float64, len(slowSeries))
	for i := range slowSeries {
		macdLine[i] = fastSeries[i+offset] - slowSeries[i]
	}
	sig := emaSeries(macdLine, signal)
	if len(sig) == 0 {
		return MACDResult{}, false
	}
	m := macdLine[len(macdLine)-1]
	s := sig[len(sig)-1]
	return MACDResult{MACD: m, Signal: s, Histogram: m - s}, true
}

// Bands is a Bollinger band snapshot.
type Bands struct {
	Upper  float64
	Middle float64
	Lower  float64
}

// Bollinger computes period-SMA bands at stddev width over the close series.
func Bollinger(values []float64, period int, width float64) (Bands, bool) {
	mid, ok := SMA(values, period)
	if !ok {
		return Bands{}, false
	}
	window := values[len(values)-period:]
	var ss float64
	for _, v := range window {
		d := v - mid
		ss += d * d
	}
	sd := math.Sqrt(ss / float64(period))
	return Bands{Upper: mid + width*sd, Middle: mid, Lower: mid - width*sd}, true
}

// ATR is Wilder's average true range over the candle history.
func ATR(candles []types.Candle, period int) (float64, bool) {
	if period <= 0 || len(candles) < period+1 {
		return 0, false
	}
	trs := make([]float64, 0, len(candles)-1)
	for i := 1; i < len(candles); i++ {
		trs = append(trs, trueRange(candles[i], candles[i-1].Close))
	}
	atr := 0.0
	for _, tr := range trs[:period] {
		atr += tr
	}
	atr /= float64(period)
	for _, tr := range trs[period:] {
		atr = (atr*float64(period-1) + tr) / float64(period)
	}
	return atr, true
}

// ADX is Wilder's average directional index, 0 to 100. Readings above 25
// mark a trending market; the sign of the trend comes from elsewhere. The
// double smoothing needs 2*period+1 candles of warmup.
func ADX(candles []types.Candle, period int) (float64, bool) {
	if period <= 0 || len(candles) < 2*period+1 {
		return 0, false
	}
	n := len(candles) - 1
	plusDM := make([]float64, n)
	minusDM := make([]float64, n)
	trs := make([]float64, n)
	for i := 1; i < len(candles); i++ {
		up := candles[i].High - candles[i-1].High
		down := candles[i-1].Low - candles[i].Low
		if up > down && up > 0 {
			plusDM[i-1] = up
		}
		if down > up && down > 0 {
			minusDM[i-1] = down
		}
		trs[i-1] = trueRange(candles[i], candles[i-1].Close)
	}

	var smPlus, smMinus, smTR float64
	for i := 0; i < period; i++ {
		smPlus += plusDM[i]
		smMinus += minusDM[i]
		smTR += trs[i]
	}
	dx := func() float64 {
		if smTR == 0 {
			return 0
		}
		pdi := 100 * smPlus / smTR
		mdi := 100 * smMinus / smTR
		if pdi+mdi == 0 {
			return 0
		}
		return 100 * math.Abs(pdi-mdi) / (pdi + mdi)
	}

	adx := dx()
	seen := 1
	for i := period; i < n; i++ {
		smPlus = smPlus - smPlus/float64(period) + plusDM[i]
		smMinus = smMinus - smMinus/float64(period) + minusDM[i]
		smTR = smTR - smTR/float64(period) + trs[i]
		if seen < period {
			adx += dx()
			seen++
			if seen == period {
				adx /= float64(period)
			}
		} else {
			adx = (adx*float64(period-1) + dx()) / float64(period)
		}
	}
	return adx, true
}

func trueRange(c types.Candle, prevClose float64) float64 {
	tr := c.High - c.Low
	if d := abs(c.High - prevClose); d > tr {
		tr = d
	}
	if d := abs(c.Low - prevClose); d > tr {
		tr = d
	}
	return tr
}

func abs(x float64) float64 {
	if x < 0 {
		return -x
	}
	return x
}

// VWAP is the volume-weighted average of typical prices across the session's
// candles so far. Returns false on zero cumulative volume.
func VWAP(candles []types.Candle) (float64, bool) {
	var pv, vol float64
	for _, c := range candles {
		typical := (c.High + c.Low + c.Close) / 3
		pv += typical * float64(c.Volume)
		vol += float64(c.Volume)
	}
	if vol == 0 {
		return 0, false
	}
	return pv / vol, true
}

// Pivots are the classic floor-trader levels from the prior session's bar.
type Pivots struct {
	Pivot float64
	R1    float64
	R2    float64
	S1    float64
	S2    float64
}

// PivotPoints derives pivot levels from the previous day's OHLC.
func PivotPoints(prevDay types.Candle) Pivots {
	p := (prevDay.High + prevDay.Low + prevDay.Close) / 3
	return Pivots{
		Pivot: p,
		R1:    2*p - prevDay.Low,
		R2:    p + (prevDay.High - prevDay.Low),
		S1:    2*p - prevDay.High,
		S2:    p - (prevDay.High - prevDay.Low),
	}
}

// Stochastic returns %K for the lookback window: where the last close sits
// in the window's high-low range, 0 to 100.
func Stochastic(candles []types.Candle, period int) (float64, bool) {
	if period <= 0 || len(candles) < period {
		return 0, false
	}
	window := candles[len(candles)-period:]
	hi, lo := window[0].High, window[0].Low
	for _, c := range window[1:] {
		if c.High > hi {
			hi = c.High
		}
		if c.Low < lo {
			lo = c.Low
		}
	}
	if hi == lo {
		return 50, true
	}
	last := window[len(window)-1].Close
	return (last - lo) / (hi - lo) * 100, true
}

// OBV is on-balance volume: cumulative volume signed by close direction.
func OBV(candles []types.Candle) int64 {
	var obv int64
	for i := 1; i < len(candles); i++ {
		switch {
		case candles[i].Close > candles[i-1].Close:
			obv += candles[i].Volume
		case candles[i].Close < candles[i-1].Close:
			obv -= candles[i].Volume
		}
	}
	return obv
}

// SupportResistance picks the window's extremes as naive S/R levels.
func SupportResistance(candles []types.Candle, period int) (support, resistance float64, ok bool) {
	if period <= 0 || len(candles) < period {
		return 0, 0, false
	}
	window := candles[len(candles)-period:]
	support, resistance = window[0].Low, window[0].High
	for _, c := range window[1:] {
		if c.Low < support {
			support = c.Low
		}
		if c.High > resistance {
			resistance = c.High
		}
	}
	return support, resistance, true
}
