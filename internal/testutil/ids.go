package testutil

import (
	"fmt"
	"sync"
)

// SequentialIDs yields readable 16-character identifiers: a prefix padded
// with zeros and a running counter ("RUN0000000000001").
//
// Thread-safety: SequentialIDs is safe for concurrent use via internal mutex.
type SequentialIDs struct {
	mu     sync.Mutex
	prefix string
	n      int
}

// NewSequentialIDs creates a source whose ids start with prefix.
// Prefixes longer than 8 characters are truncated.
func NewSequentialIDs(prefix string) *SequentialIDs {
	if len(prefix) > 8 {
		prefix = prefix[:8]
	}
	return &SequentialIDs{prefix: prefix}
}

// Draw returns the next identifier.
func (s *SequentialIDs) Draw() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.n++
	return fmt.Sprintf("%s%0*d", s.prefix, 16-len(s.prefix), s.n)
}
