package telemetry

import (
	"encoding/json"
	"errors"
	"time"

	orderedmap "github.com/wk8/go-ordered-map/v2"
)

// Result is the outcome of a tracked execution.
type Result string

const (
	ResultSuccess Result = "success"
	ResultFailed  Result = "failed"
)

// ErrAlreadyFinished is returned when an execution is finished twice.
var ErrAlreadyFinished = errors.New("telemetry: execution already finished")

// Metadata keys written by the session transport.
const (
	KeyExecutionMode = "execution_mode"
	KeySessionType   = "session_type"
	KeyInterface     = "interface"
	KeySessionMode   = "session_mode"
	KeyRecipeName    = "recipe_name"
	KeyRecipeVersion = "recipe_version"
	KeyModel         = "model"
	KeyProvider      = "provider"
)

// SessionExecution describes one reply invocation.
type SessionExecution struct {
	SessionID    string
	SessionType  string
	StartedAt    time.Time
	MessageCount int
	TurnCount    int
	Error        string
	Result       Result
	Duration     time.Duration

	metadata *orderedmap.OrderedMap[string, string]
	finished bool
}

// NewSessionExecution starts a record for a session invocation.
func NewSessionExecution(sessionID, sessionType string) *SessionExecution {
	return &SessionExecution{
		SessionID:   sessionID,
		SessionType: sessionType,
		StartedAt:   time.Now(),
		metadata:    orderedmap.New[string, string](),
	}
}

// WithMetadata sets a metadata entry. Overwriting a key keeps its position.
func (e *SessionExecution) WithMetadata(key, value string) *SessionExecution {
	e.metadata.Set(key, value)
	return e
}

// Metadata returns the value for key.
func (e *SessionExecution) Metadata(key string) (string, bool) {
	return e.metadata.Get(key)
}

// MetadataKeys returns metadata keys in insertion order.
func (e *SessionExecution) MetadataKeys() []string {
	keys := make([]string, 0, e.metadata.Len())
	for pair := e.metadata.Oldest(); pair != nil; pair = pair.Next() {
		keys = append(keys, pair.Key)
	}
	return keys
}

func (e *SessionExecution) WithMessageCount(n int) *SessionExecution {
	e.MessageCount = n
	return e
}

func (e *SessionExecution) WithTurnCount(n int) *SessionExecution {
	e.TurnCount = n
	return e
}

// WithError records the failure reason.
func (e *SessionExecution) WithError(err error) *SessionExecution {
	if err != nil {
		e.Error = err.Error()
	}
	return e
}

// Finish finalizes the record.
func (e *SessionExecution) Finish(result Result, duration time.Duration) error {
	if e.finished {
		return ErrAlreadyFinished
	}
	e.Result = result
	e.Duration = duration
	e.finished = true
	return nil
}

// Finished reports whether Finish was called.
func (e *SessionExecution) Finished() bool { return e.finished }

func (e *SessionExecution) MarshalJSON() ([]byte, error) {
	return json.Marshal(struct {
		SessionID    string                                 `json:"session_id"`
		SessionType  string                                 `json:"session_type"`
		StartedAt    time.Time                              `json:"started_at"`
		DurationMS   int64                                  `json:"duration_ms"`
		Result       Result                                 `json:"result"`
		Error        string                                 `json:"error,omitempty"`
		MessageCount int                                    `json:"message_count"`
		TurnCount    int                                    `json:"turn_count"`
		Metadata     *orderedmap.OrderedMap[string, string] `json:"metadata"`
	}{
		SessionID:    e.SessionID,
		SessionType:  e.SessionType,
		StartedAt:    e.StartedAt,
		DurationMS:   e.Duration.Milliseconds(),
		Result:       e.Result,
		Error:        e.Error,
		MessageCount: e.MessageCount,
		TurnCount:    e.TurnCount,
		Metadata:     e.metadata,
	})
}

// RecipeExecution describes an invocation that ran a named recipe.
type RecipeExecution struct {
	Name        string        `json:"name"`
	Version     string        `json:"version"`
	SessionType string        `json:"session_type"`
	Result      Result        `json:"result"`
	Duration    time.Duration `json:"-"`
	DurationMS  int64         `json:"duration_ms"`
}
