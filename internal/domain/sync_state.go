package domain

// SyncState is the persisted single-row coordination record shared by every
// process that may start a synchronization run.
type SyncState struct {
	// LastSync is the unix ms time of the last successful run. Zero means never.
	LastSync int64 `json:"lastSync"`

	// IsSyncing is set while a run holds the flag.
	IsSyncing bool `json:"isSyncing"`

	// SyncStartTime is the unix ms time the current run acquired the flag.
	// Must be set whenever IsSyncing is true.
	SyncStartTime *int64 `json:"syncStartTime,omitempty"`

	// RunID identifies the run holding the flag.
	RunID string `json:"runId,omitempty"`

	// Version is incremented on every write and used for compare-and-set.
	Version int64 `json:"version"`
}

// Clone returns a deep copy of the state.
func (s *SyncState) Clone() *SyncState {
	if s == nil {
		return &SyncState{}
	}
	c := *s
	if s.SyncStartTime != nil {
		t := *s.SyncStartTime
		c.SyncStartTime = &t
	}
	return &c
}
