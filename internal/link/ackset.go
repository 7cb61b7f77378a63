// Package link tracks acknowledgment state and link quality for the
// telemetry channel. Both structures are shared between the send-with-retry
// goroutines and the single receive loop, so all access is mutex-guarded.
package link

import "sync"

// ackPruneWindow is how far behind the highest acknowledged sequence an
// entry may fall before it is evicted. Pruning on insert bounds memory
// without needing wall-clock expiry.
const ackPruneWindow = 100

// AckSet is the set of acknowledged report sequences.
type AckSet struct {
	mu   sync.Mutex
	seqs map[uint64]struct{}
	max  uint64
}

// NewAckSet returns an empty AckSet.
func NewAckSet() *AckSet {
	return &AckSet{seqs: make(map[uint64]struct{})}
}

// Insert records seq as acknowledged and prunes entries more than the prune
// window behind the highest sequence seen. Inserting the same sequence twice
// is harmless.
func (s *AckSet) Insert(seq uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.seqs[seq] = struct{}{}
	if seq > s.max {
		s.max = seq
	}
	if s.max > ackPruneWindow {
		floor := s.max - ackPruneWindow
		for k := range s.seqs {
			if k < floor {
				delete(s.seqs, k)
			}
		}
	}
}

// Contains reports whether seq has been acknowledged.
func (s *AckSet) Contains(seq uint64) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.seqs[seq]
	return ok
}

// Len returns the current cardinality.
func (s *AckSet) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.seqs)
}
