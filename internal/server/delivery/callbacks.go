package delivery

import (
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/dmitrijs2005/burrow/internal/server/models"
)

// Callback receives the final status of a message.
type Callback func(models.DeliveryStatus)

type callbackEntry struct {
	fn      Callback
	expires time.Time
}

// Callbacks holds completion callbacks keyed by message id. Each fires at
// most once; entries that never fire are dropped by Sweep after retention.
type Callbacks struct {
	mu        sync.Mutex
	entries   map[string]callbackEntry
	retention time.Duration
	clock     clock.Clock
}

func NewCallbacks(retention time.Duration, clk clock.Clock) *Callbacks {
	return &Callbacks{entries: make(map[string]callbackEntry), retention: retention, clock: clk}
}

func (c *Callbacks) Register(messageID string, fn Callback) {
	if fn == nil {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[messageID] = callbackEntry{fn: fn, expires: c.clock.Now().Add(c.retention)}
}

// Fire removes and invokes the callback for st.MessageID, outside the lock.
func (c *Callbacks) Fire(st models.DeliveryStatus) bool {
	c.mu.Lock()
	e, ok := c.entries[st.MessageID]
	delete(c.entries, st.MessageID)
	c.mu.Unlock()

	if !ok {
		return false
	}
	e.fn(st)
	return true
}

// Sweep drops expired entries and returns how many were removed.
func (c *Callbacks) Sweep(now time.Time) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	n := 0
	for id, e := range c.entries {
		if !now.Before(e.expires) {
			delete(c.entries, id)
			n++
		}
	}
	return n
}

func (c *Callbacks) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}
