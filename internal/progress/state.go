package progress

import "sync"

// Snapshot is a copy of a State at one point in time.
type Snapshot struct {
	Message string
	Total   int64
	Done    int64
}

// Percent returns Done as a percentage of Total, or 0 when Total is unknown.
func (s Snapshot) Percent() float64 {
	if s.Total <= 0 {
		return 0
	}
	return float64(s.Done) / float64(s.Total) * 100
}

// Active reports whether the batch is still running.
func (s Snapshot) Active() bool {
	return s.Message != ""
}

// State is the progress shared between a fetch batch and its reporter.
// It lives for exactly one batch.
type State struct {
	mu sync.Mutex

	message string
	total   int64
	done    int64

	// Notification channel: close-and-replace pattern.
	// Listeners call Wait() to get the current channel, then block on it.
	// Any update closes the old channel and replaces it with a new one.
	notify chan struct{}
}

// NewState creates the state for a batch expected to transfer total bytes.
func NewState(message string, total int64) *State {
	return &State{
		message: message,
		total:   total,
		notify:  make(chan struct{}),
	}
}

// Add records n more bytes copied. A negative n rolls back bytes from a
// failed attempt. Safe to call on a nil State.
func (s *State) Add(n int64) {
	if s == nil {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.done += n
	if s.done < 0 {
		s.done = 0
	}
	s.signal()
}

// SetMessage replaces the status message.
func (s *State) SetMessage(msg string) {
	if s == nil {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.message = msg
	s.signal()
}

// Clear ends the batch. The reporter exits after its next wake-up.
func (s *State) Clear() {
	s.SetMessage("")
}

// Snapshot returns a copy of the current state.
func (s *State) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return Snapshot{Message: s.message, Total: s.total, Done: s.done}
}

// Wait returns a channel that will be closed when the next update occurs.
// Callers should select on this channel alongside a timeout.
func (s *State) Wait() <-chan struct{} {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.notify
}

// signal closes the current notify channel and replaces it with a new one.
// Must be called with s.mu held.
func (s *State) signal() {
	close(s.notify)
	s.notify = make(chan struct{})
}
