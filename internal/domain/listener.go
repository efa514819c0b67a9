package domain

// ProcessedStatus records which notifications a market has already produced.
// Resolved is terminal.
type ProcessedStatus struct {
	Created  bool `json:"created"`
	Resolved bool `json:"resolved"`
}

// ListenerSnapshot is the durable image of the listener's process-wide sets.
type ListenerSnapshot struct {
	Subscribers []int64                    `json:"subscribers"`
	Processed   map[uint64]ProcessedStatus `json:"processed"`
	Suggested   []uint64                   `json:"suggested"`
}

// Empty reports whether nothing was ever persisted.
func (s ListenerSnapshot) Empty() bool {
	return len(s.Subscribers) == 0 && len(s.Processed) == 0 && len(s.Suggested) == 0
}
