package session

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/opencode-ai/agentd/pkg/types"
)

var (
	// ErrSessionNotFound is returned for an unknown session id.
	ErrSessionNotFound = errors.New("session not found")
	// ErrInvalidSessionID is returned for ids that are not safe file names.
	ErrInvalidSessionID = errors.New("invalid session id")
)

// Metadata describes a persisted session.
type Metadata struct {
	ID           string      `json:"id"`
	Description  string      `json:"description"`
	WorkingDir   string      `json:"working_dir"`
	ScheduleID   string      `json:"schedule_id,omitempty"`
	Provider     string      `json:"provider,omitempty"`
	Model        string      `json:"model,omitempty"`
	MessageCount int         `json:"message_count"`
	Usage        types.Usage `json:"usage"`
	Created      int64       `json:"created"`
	Updated      int64       `json:"updated"`
}

// Store persists transcripts and their metadata.
type Store interface {
	// Persist stores the full transcript. Messages already stored are kept;
	// only the new tail is written. A shorter transcript replaces the stored one.
	Persist(ctx context.Context, meta Metadata, messages []types.Message) error
	Load(ctx context.Context, id string) ([]types.Message, error)
	Metadata(ctx context.Context, id string) (Metadata, error)
	// List returns every session, most recently updated first.
	List(ctx context.Context) ([]Metadata, error)
	Delete(ctx context.Context, id string) error
}

var sessionIDPattern = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9_-]{0,127}$`)

// ValidateID rejects ids that are not safe to use as file names.
func ValidateID(id string) error {
	if !sessionIDPattern.MatchString(id) {
		return fmt.Errorf("%w %q", ErrInvalidSessionID, id)
	}
	return nil
}

// NewSessionID returns an id of the form YYYYMMDD_HHMMSS_<suffix>.
func NewSessionID() string {
	id := ulid.Make().String()
	return time.Now().Format("20060102_150405") + "_" + strings.ToLower(id[len(id)-8:])
}

const descriptionLimit = 60

// describe derives a description from the first user text.
func describe(messages []types.Message) string {
	for _, m := range messages {
		if m.Role != types.RoleUser {
			continue
		}
		text := strings.Join(strings.Fields(m.Text()), " ")
		if text == "" {
			continue
		}
		if r := []rune(text); len(r) > descriptionLimit {
			return string(r[:descriptionLimit-3]) + "..."
		}
		return text
	}
	return ""
}

// prepare fills the derived metadata fields before a write.
func prepare(meta Metadata, prior *Metadata, messages []types.Message) Metadata {
	now := time.Now().Unix()
	meta.MessageCount = len(messages)
	meta.Updated = now
	if prior != nil {
		meta.Created = prior.Created
		if meta.Description == "" {
			meta.Description = prior.Description
		}
	}
	if meta.Created == 0 {
		meta.Created = now
	}
	if meta.Description == "" {
		meta.Description = describe(messages)
	}
	return meta
}
