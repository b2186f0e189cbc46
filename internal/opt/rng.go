package opt

import "math/rand"

// defaultSeed replaces a zero seed so runs stay reproducible by default.
const defaultSeed int64 = 1

// deriveSeed mixes a base seed and a stream id (SplitMix64 finalizer) so
// every trial gets an independent, reproducible stream.
func deriveSeed(base int64, stream uint64) int64 {
	x := uint64(base) ^ (stream + 0x9e3779b97f4a7c15)
	x += 0x9e3779b97f4a7c15
	x = (x ^ (x >> 30)) * 0xbf58476d1ce4e5b9
	x = (x ^ (x >> 27)) * 0x94d049bb133111eb
	x ^= x >> 31
	return int64(x)
}

// trialRNG returns the RNG for trial i. Not safe for concurrent use; each
// trial owns its own.
func trialRNG(seed int64, i int) *rand.Rand {
	if seed == 0 {
		seed = defaultSeed
	}
	return rand.New(rand.NewSource(deriveSeed(seed, uint64(i))))
}
