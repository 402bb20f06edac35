package session

import (
	"sync"
	"time"
)

// msgIDGen allocates message ids: time-derived, strictly increasing even
// across clock adjustments, and ≡ 0 (mod 4) as required for
// client-originated messages.
type msgIDGen struct {
	mu   sync.Mutex
	last int64
	now  func() time.Time
}

func newMsgIDGen(now func() time.Time) *msgIDGen {
	if now == nil {
		now = time.Now
	}
	return &msgIDGen{now: now}
}

// Next returns a fresh message id. If the wall clock stands still or
// steps backwards, ids keep advancing from the last value issued.
func (g *msgIDGen) Next() int64 {
	t := g.now()
	id := t.Unix()<<32 | int64(t.Nanosecond())&^3

	g.mu.Lock()
	defer g.mu.Unlock()
	if id <= g.last {
		id = g.last + 4
	}
	g.last = id
	return id
}

// seqNoGen allocates sequence numbers. Content-related messages get
// 2n+1 and advance the counter; service messages get 2n and do not.
type seqNoGen struct {
	mu      sync.Mutex
	content int32
}

func (g *seqNoGen) Next(contentRelated bool) int32 {
	g.mu.Lock()
	defer g.mu.Unlock()
	if contentRelated {
		seq := g.content*2 + 1
		g.content++
		return seq
	}
	return g.content * 2
}
