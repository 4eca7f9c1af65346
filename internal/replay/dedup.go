package replay

// SentSet is the run-scoped, append-only record of payloads already admitted
// for dispatch.
type SentSet struct {
	index map[string]struct{}
}

// NewSentSet returns an empty SentSet.
func NewSentSet() *SentSet {
	return &SentSet{index: make(map[string]struct{})}
}

// Contains reports whether payload was already admitted. Equality is
// byte-exact.
func (s *SentSet) Contains(payload []byte) bool {
	_, ok := s.index[string(payload)]
	return ok
}

// add records payload. The string conversion copies it, so later changes to
// the caller's slice do not affect the set.
func (s *SentSet) add(payload []byte) {
	s.index[string(payload)] = struct{}{}
}

// Len returns the number of admitted payloads.
func (s *SentSet) Len() int { return len(s.index) }

// Deduplicator is the send/skip gate of a run. It does not look at delivery
// outcomes: a payload is recorded the moment it is admitted.
type Deduplicator struct {
	sent *SentSet
}

// NewDeduplicator creates a gate over sent. A nil set starts empty.
func NewDeduplicator(sent *SentSet) *Deduplicator {
	if sent == nil {
		sent = NewSentSet()
	}
	return &Deduplicator{sent: sent}
}

// ShouldSend returns true and records payload when it has not been seen in
// this run, false otherwise.
func (d *Deduplicator) ShouldSend(payload []byte) bool {
	if d.sent.Contains(payload) {
		return false
	}
	d.sent.add(payload)
	return true
}

// Sent exposes the underlying set. The engine reports its size when a run
// finishes.
func (d *Deduplicator) Sent() *SentSet { return d.sent }
