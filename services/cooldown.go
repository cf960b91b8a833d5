package services

import (
	"sync"
	"time"

	"greentech/models"
)

// AlertCooldown is the minimum gap between two durable alerts of the same kind.
const AlertCooldown = 5 * time.Minute

// CooldownLedger remembers when each condition kind was last persisted.
// Process-local; it starts empty on every run.
type CooldownLedger struct {
	window time.Duration
	mu     sync.Mutex
	last   map[models.ConditionKind]time.Time
}

func NewCooldownLedger(window time.Duration) *CooldownLedger {
	return &CooldownLedger{
		window: window,
		last:   make(map[models.ConditionKind]time.Time),
	}
}

// Allow reports whether kind may be persisted at now and, if so, records now
// as its last persistence.
func (l *CooldownLedger) Allow(kind models.ConditionKind, now time.Time) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	if last, ok := l.last[kind]; ok && now.Sub(last) < l.window {
		return false
	}
	l.last[kind] = now
	return true
}

// LastPersisted returns the recorded time for kind, if any.
func (l *CooldownLedger) LastPersisted(kind models.ConditionKind) (time.Time, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	t, ok := l.last[kind]
	return t, ok
}
