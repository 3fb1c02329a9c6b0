package feedsync

import "time"

// ClampJitterRatio bounds a jitter ratio to [0, 1].
func ClampJitterRatio(value float64) float64 {
	if value < 0 {
		return 0
	}
	if value > 1 {
		return 1
	}
	return value
}

// minJitterFactor keeps a jittered poll at least half the configured interval,
// so a ratio of 1 cannot collapse the loop into back-to-back fetches.
const minJitterFactor = 0.5

// jitteredIntervalWithSample spreads base by up to ±jitterRatio using a
// sample in [0, 1]. A sample of 0.5 yields base unchanged.
func jitteredIntervalWithSample(base time.Duration, jitterRatio, sample float64) time.Duration {
	if base <= 0 {
		return 0
	}
	jitterRatio = ClampJitterRatio(jitterRatio)
	if jitterRatio == 0 {
		return base
	}
	if sample < 0 {
		sample = 0
	} else if sample > 1 {
		sample = 1
	}
	factor := 1 + ((sample*2)-1)*jitterRatio
	if factor < minJitterFactor {
		factor = minJitterFactor
	}
	delay := time.Duration(float64(base) * factor)
	if delay < time.Millisecond {
		return time.Millisecond
	}
	return delay
}
