package store

import "sync/atomic"

// Sequence is the logical clock that assigns log seq numbers.
//
// Every entry is stamped with a strictly increasing value. Ordering never
// depends on wall time, so replay produces identical order.
//
// Thread-safety: Sequence is safe for concurrent use (atomic operations).
type Sequence struct {
	seq atomic.Int64
}

// NewSequence creates a sequence whose first value is 1.
func NewSequence() *Sequence {
	return &Sequence{}
}

// NewSequenceAt creates a sequence positioned at start.
// Used when reopening a log to resume from its last seq.
func NewSequenceAt(start int64) *Sequence {
	s := &Sequence{}
	s.seq.Store(start)
	return s
}

// Next returns the next seq and advances the sequence.
func (s *Sequence) Next() int64 {
	return s.seq.Add(1)
}

// Current returns the last assigned seq without advancing.
func (s *Sequence) Current() int64 {
	return s.seq.Load()
}
