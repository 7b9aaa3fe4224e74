package session

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"

	"github.com/opencode-ai/agentd/internal/storage"
	"github.com/opencode-ai/agentd/pkg/types"
)

const sessionsDir = "sessions"

// FileStore keeps sessions/<id>.jsonl transcripts and sessions/<id>.json
// metadata under a data directory.
type FileStore struct {
	storage *storage.Storage
}

// NewFileStore creates a store rooted at dir.
func NewFileStore(dir string) *FileStore {
	return &FileStore{storage: storage.New(dir)}
}

func sessionPath(id string) []string {
	return []string{sessionsDir, id}
}

func (s *FileStore) Persist(ctx context.Context, meta Metadata, messages []types.Message) error {
	if err := ValidateID(meta.ID); err != nil {
		return err
	}
	path := sessionPath(meta.ID)

	stored, err := s.storedPrefix(ctx, path, messages)
	if err != nil {
		return err
	}
	if stored < 0 {
		if err := s.storage.RewriteLines(ctx, path, toAny(messages)...); err != nil {
			return fmt.Errorf("rewrite transcript: %w", err)
		}
	} else if stored < len(messages) {
		if err := s.storage.AppendLines(ctx, path, toAny(messages[stored:])...); err != nil {
			return fmt.Errorf("append transcript: %w", err)
		}
	}

	var prior *Metadata
	if existing, err := s.Metadata(ctx, meta.ID); err == nil {
		prior = &existing
	}
	if err := s.storage.Put(ctx, path, prepare(meta, prior, messages)); err != nil {
		return fmt.Errorf("write metadata: %w", err)
	}
	return nil
}

// storedPrefix returns how many stored lines match the head of messages, or
// -1 when the stored transcript is not a prefix of messages and has to be
// rewritten.
func (s *FileStore) storedPrefix(ctx context.Context, path []string, messages []types.Message) (int, error) {
	n := 0
	diverged := false
	err := s.storage.ReadLines(ctx, path, func(line json.RawMessage) error {
		if diverged {
			return nil
		}
		if n >= len(messages) {
			diverged = true
			return nil
		}
		want, err := json.Marshal(messages[n])
		if err != nil {
			return fmt.Errorf("marshal message %d: %w", n, err)
		}
		if !bytes.Equal(line, want) {
			diverged = true
			return nil
		}
		n++
		return nil
	})
	if errors.Is(err, storage.ErrNotFound) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("read transcript: %w", err)
	}
	if diverged {
		return -1, nil
	}
	return n, nil
}

func toAny(messages []types.Message) []any {
	out := make([]any, len(messages))
	for i, m := range messages {
		out[i] = m
	}
	return out
}

func (s *FileStore) Load(ctx context.Context, id string) ([]types.Message, error) {
	if err := ValidateID(id); err != nil {
		return nil, err
	}
	messages := []types.Message{}
	err := s.storage.ReadLines(ctx, sessionPath(id), func(line json.RawMessage) error {
		var m types.Message
		if err := json.Unmarshal(line, &m); err != nil {
			return fmt.Errorf("decode message %d: %w", len(messages)+1, err)
		}
		messages = append(messages, m)
		return nil
	})
	if errors.Is(err, storage.ErrNotFound) {
		if s.storage.Exists(ctx, sessionPath(id)) {
			return messages, nil
		}
		return nil, ErrSessionNotFound
	}
	if err != nil {
		return nil, err
	}
	return messages, nil
}

func (s *FileStore) Metadata(ctx context.Context, id string) (Metadata, error) {
	if err := ValidateID(id); err != nil {
		return Metadata{}, err
	}
	var meta Metadata
	if err := s.storage.Get(ctx, sessionPath(id), &meta); err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return Metadata{}, ErrSessionNotFound
		}
		return Metadata{}, err
	}
	return meta, nil
}

func (s *FileStore) List(ctx context.Context) ([]Metadata, error) {
	ids, err := s.storage.List(ctx, []string{sessionsDir})
	if err != nil {
		return nil, err
	}
	out := make([]Metadata, 0, len(ids))
	for _, id := range ids {
		if ValidateID(id) != nil {
			continue
		}
		meta, err := s.Metadata(ctx, id)
		if err != nil {
			continue
		}
		out = append(out, meta)
	}
	sortByUpdated(out)
	return out, nil
}

func sortByUpdated(list []Metadata) {
	sort.SliceStable(list, func(i, j int) bool {
		if list[i].Updated != list[j].Updated {
			return list[i].Updated > list[j].Updated
		}
		return list[i].ID > list[j].ID
	})
}

func (s *FileStore) Delete(ctx context.Context, id string) error {
	if err := ValidateID(id); err != nil {
		return err
	}
	if !s.storage.Exists(ctx, sessionPath(id)) {
		return ErrSessionNotFound
	}
	return s.storage.Delete(ctx, sessionPath(id))
}
