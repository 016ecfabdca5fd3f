// Package clock implements the hybrid logical clock (HLC) that gives every
// Delta a globally unique, monotone, causally-consistent Timestamp.
package clock

import (
	"sync"
	"time"

	"aas-deltasync/src/domain/actor"
	pkgerrors "aas-deltasync/src/pkg/errors"
)

// Timestamp is the triple (wall_ms, logical, actor) from the spec's data
// model. Its total order is lexicographic on (wall_ms, logical, actor).
type Timestamp struct {
	WallMS  int64
	Logical uint32
	Actor   actor.ID
}

// Compare returns -1, 0, or 1 as t sorts before, equal to, or after other.
func (t Timestamp) Compare(other Timestamp) int {
	switch {
	case t.WallMS < other.WallMS:
		return -1
	case t.WallMS > other.WallMS:
		return 1
	}
	switch {
	case t.Logical < other.Logical:
		return -1
	case t.Logical > other.Logical:
		return 1
	}
	switch {
	case t.Actor.Less(other.Actor):
		return -1
	case other.Actor.Less(t.Actor):
		return 1
	}
	return 0
}

// Less reports whether t strictly precedes other in the total order.
func (t Timestamp) Less(other Timestamp) bool { return t.Compare(other) < 0 }

// Zero is the smallest possible Timestamp, used as "no prior knowledge".
var Zero = Timestamp{}

// DefaultSkewBound is the default maximum tolerated difference between a
// remote wall clock and the local physical clock (spec §3: "default 60s").
const DefaultSkewBound = 60 * time.Second

// Clock is a single guarded HLC instance. One Clock exists per agent
// process; it and the actor id are the only process-wide state (§9).
type Clock struct {
	mu        sync.Mutex
	actor     actor.ID
	prev      Timestamp
	skewBound time.Duration
	physical  func() time.Time
}

// New creates a Clock for the given actor with the default skew bound.
func New(a actor.ID) *Clock {
	return &Clock{
		actor:     a,
		skewBound: DefaultSkewBound,
		physical:  time.Now,
	}
}

// WithSkewBound overrides the configured clock skew tolerance.
func (c *Clock) WithSkewBound(d time.Duration) *Clock {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.skewBound = d
	return c
}

// Now advances the clock and returns a fresh Timestamp strictly greater
// than every Timestamp previously emitted or observed (spec §4.1).
func (c *Clock) Now() Timestamp {
	c.mu.Lock()
	defer c.mu.Unlock()

	physMS := c.physical().UnixMilli()
	wall := maxInt64(physMS, c.prev.WallMS)

	var logical uint32
	if wall == c.prev.WallMS {
		logical = c.prev.Logical + 1
	}

	ts := Timestamp{WallMS: wall, Logical: logical, Actor: c.actor}
	c.prev = ts
	return ts
}

// Observe folds a remote Timestamp into the clock so that any subsequent
// Now() strictly dominates it (spec §4.1). It rejects observations whose
// wall clock deviates from the local physical clock by more than the
// configured skew bound, surfacing ClockSkew (a Causality-category error,
// spec §7).
func (c *Clock) Observe(remote Timestamp) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	physMS := c.physical().UnixMilli()
	skew := remote.WallMS - physMS
	if skew < 0 {
		skew = -skew
	}
	if time.Duration(skew)*time.Millisecond > c.skewBound {
		return ClockSkew{Remote: remote.WallMS, Physical: physMS, Bound: c.skewBound}
	}

	wall := maxInt64(physMS, c.prev.WallMS, remote.WallMS)

	var logical uint32
	switch {
	case wall == c.prev.WallMS && wall == remote.WallMS:
		logical = maxUint32(c.prev.Logical, remote.Logical) + 1
	case wall == c.prev.WallMS:
		logical = c.prev.Logical + 1
	case wall == remote.WallMS:
		logical = remote.Logical + 1
	default:
		logical = 0
	}

	c.prev = Timestamp{WallMS: wall, Logical: logical, Actor: c.actor}
	return nil
}

// ClockSkew is returned by Observe when a remote timestamp's wall clock
// deviates from the local physical clock by more than the skew bound.
type ClockSkew struct {
	Remote   int64
	Physical int64
	Bound    time.Duration
}

func (e ClockSkew) Error() string {
	return pkgerrors.Newf("clock skew: remote wall_ms=%d physical_ms=%d bound=%s", e.Remote, e.Physical, e.Bound).Error()
}

// Category marks ClockSkew as a Causality error per the §7 taxonomy.
func (e ClockSkew) Category() pkgerrors.Category { return pkgerrors.CategoryCausality }

func maxInt64(vs ...int64) int64 {
	m := vs[0]
	for _, v := range vs[1:] {
		if v > m {
			m = v
		}
	}
	return m
}

func maxUint32(a, b uint32) uint32 {
	if a > b {
		return a
	}
	return b
}
