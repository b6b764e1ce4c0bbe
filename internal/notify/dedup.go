package notify

import (
	"sync"
	"time"
)

// dedup suppresses repeats of the same alert key inside a cooldown window.
type dedup struct {
	mu   sync.Mutex
	seen map[string]time.Time
	ttl  time.Duration
	now  func() time.Time
}

func newDedup(ttl time.Duration) *dedup {
	return &dedup{seen: make(map[string]time.Time), ttl: ttl, now: time.Now}
}

// isDuplicate reports whether key fired within the window. A fresh key is
// recorded. Expired keys are swept on each call so the map stays small.
func (d *dedup) isDuplicate(key string) bool {
	if d.ttl <= 0 {
		return false
	}
	d.mu.Lock()
	defer d.mu.Unlock()

	now := d.now()
	for k, ts := range d.seen {
		if now.Sub(ts) >= d.ttl {
			delete(d.seen, k)
		}
	}
	if _, ok := d.seen[key]; ok {
		return true
	}
	d.seen[key] = now
	return false
}
