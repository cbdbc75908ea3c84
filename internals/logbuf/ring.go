package logbuf

import (
	"bytes"
	"sync"
)

// Ring keeps the most recent complete lines written to it. It is used as a
// log sink when the terminal is owned by the TUI.
type Ring struct {
	mu      sync.Mutex
	lines   []string
	max     int
	partial []byte
	updates chan struct{}
}

func NewRing(max int) *Ring {
	if max <= 0 {
		max = 500
	}
	return &Ring{max: max, updates: make(chan struct{}, 1)}
}

func (r *Ring) Write(p []byte) (int, error) {
	r.mu.Lock()
	data := append(r.partial, p...)
	added := false
	for {
		idx := bytes.IndexByte(data, '\n')
		if idx < 0 {
			break
		}
		r.lines = append(r.lines, string(bytes.TrimRight(data[:idx], "\r")))
		data = data[idx+1:]
		added = true
	}
	r.partial = append([]byte(nil), data...)
	if over := len(r.lines) - r.max; over > 0 {
		r.lines = append([]string(nil), r.lines[over:]...)
	}
	r.mu.Unlock()

	if added {
		select {
		case r.updates <- struct{}{}:
		default:
		}
	}
	return len(p), nil
}

func (r *Ring) Lines() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	lines := make([]string, len(r.lines))
	copy(lines, r.lines)
	return lines
}

// Updates signals, coalesced, that new lines are available.
func (r *Ring) Updates() <-chan struct{} {
	return r.updates
}
