package permission

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"sync"
)

// RepetitionMonitor tracks consecutive identical tool calls within one reply.
// A zero limit disables it.
type RepetitionMonitor struct {
	mu    sync.Mutex
	limit int
	last  string
	count int
}

// NewRepetitionMonitor creates a monitor allowing at most limit identical
// calls in a row.
func NewRepetitionMonitor(limit int) *RepetitionMonitor {
	return &RepetitionMonitor{limit: limit}
}

// Check records a call and reports whether it is still within the limit.
func (m *RepetitionMonitor) Check(tool string, args map[string]any) bool {
	hash := hashCall(tool, args)

	m.mu.Lock()
	defer m.mu.Unlock()

	if hash == m.last {
		m.count++
	} else {
		m.last = hash
		m.count = 1
	}
	return m.limit <= 0 || m.count <= m.limit
}

// Reset forgets the call history.
func (m *RepetitionMonitor) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.last = ""
	m.count = 0
}

func hashCall(tool string, args map[string]any) string {
	data, _ := json.Marshal(map[string]any{
		"tool":  tool,
		"input": args,
	})
	h := sha256.Sum256(data)
	return hex.EncodeToString(h[:])
}
