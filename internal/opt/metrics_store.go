package opt

import (
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"sync"
)

type statsKey struct {
	Digest string
	Engine string
}

var (
	mu    sync.Mutex
	store = map[statsKey]Stats{}
)

// RecordStats keeps the latest stats of an engine for an instance digest.
func RecordStats(digest, engine string, s Stats) {
	mu.Lock()
	store[statsKey{Digest: digest, Engine: engine}] = s
	mu.Unlock()
}

// GetStats returns the recorded stats per engine for a digest.
func GetStats(digest string) map[string]Stats {
	mu.Lock()
	defer mu.Unlock()
	out := map[string]Stats{}
	for k, v := range store {
		if k.Digest == digest {
			out[k.Engine] = v
		}
	}
	return out
}

// Digest is a short stable fingerprint of the instance: places, demands,
// edges and both trip limits.
func (in *Instance) Digest() string {
	h := sha256.New()
	var buf [8]byte
	put := func(v int) {
		binary.LittleEndian.PutUint64(buf[:], uint64(v))
		h.Write(buf[:])
	}
	put(in.capacity)
	put(in.maxStops)
	for i, p := range in.places {
		put(p)
		put(in.demand[i])
		for j, ok := range in.has[i] {
			if ok {
				put(in.places[j])
				put(in.cost[i][j])
			}
		}
		put(-1)
	}
	return hex.EncodeToString(h.Sum(nil)[:8])
}
