package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"go.uber.org/zap"

	"example.com/eventstore/internal/domain"
)

// Sequences are grouped into three directory levels so no directory holds
// more than a few hundred entries: g1 = seq/1e6, g2 = seq/1e4 %100,
// g3 = seq/1e2 %100. A group directory therefore spans 100 sequences.
const groupSpan = 100

// FSStore persists each event as one JSON file under
// <root>[/<tenant>/<namespace>]/<topic>/<g1>/<g2>/<g3>/<topic>-<seq>.json.
// The default scope writes directly under the root, which keeps trees from
// single-tenant deployments readable in place.
type FSStore struct {
	root     string
	settings settings
}

// NewFSStore constructs a filesystem store rooted at dir.
func NewFSStore(dir string, opts ...Option) *FSStore {
	return &FSStore{root: dir, settings: applyOptions(opts)}
}

// StoreEvent writes one event file via a temp file and rename.
func (s *FSStore) StoreEvent(ctx context.Context, scope domain.Scope, event domain.Event) error {
	path := s.eventPath(scope, event.ID)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		recordWriteFailure("fs")
		return fmt.Errorf("%w: create event directory: %v", domain.ErrEventStorage, err)
	}
	if _, err := os.Stat(path); err == nil {
		recordWriteFailure("fs")
		return fmt.Errorf("%w: %s already stored", domain.ErrEventStorage, event.ID.Value())
	}
	data, err := json.Marshal(event)
	if err != nil {
		recordWriteFailure("fs")
		return fmt.Errorf("%w: encode %s: %v", domain.ErrEventStorage, event.ID.Value(), err)
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		recordWriteFailure("fs")
		return fmt.Errorf("%w: write %s: %v", domain.ErrEventStorage, event.ID.Value(), err)
	}
	if err := os.Rename(tmp, path); err != nil {
		_ = os.Remove(tmp)
		recordWriteFailure("fs")
		return fmt.Errorf("%w: write %s: %v", domain.ErrEventStorage, event.ID.Value(), err)
	}
	recordWrite("fs")
	return nil
}

// StoreEvents writes a batch. A failure removes the files already written so
// a rejected batch does not leave a partial prefix behind.
func (s *FSStore) StoreEvents(ctx context.Context, scope domain.Scope, events []domain.Event) error {
	if len(events) == 0 {
		return fmt.Errorf("%w: empty event batch", domain.ErrInvalidArgument)
	}
	written := make([]string, 0, len(events))
	for _, event := range events {
		if err := s.StoreEvent(ctx, scope, event); err != nil {
			for _, path := range written {
				_ = os.Remove(path)
			}
			return err
		}
		written = append(written, s.eventPath(scope, event.ID))
	}
	return nil
}

// GetEvent reads one event by id. A missing file yields nil; a file that
// cannot be decoded is logged and also yields nil.
func (s *FSStore) GetEvent(ctx context.Context, scope domain.Scope, id domain.EventID) (*domain.Event, error) {
	path := s.eventPath(scope, id)
	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("%w: read %s: %v", domain.ErrEventStorage, id.Value(), err)
	}
	var event domain.Event
	if err := json.Unmarshal(data, &event); err != nil {
		s.settings.logger.Warn("skipping malformed event file", zap.String("path", path), zap.Error(err))
		recordMalformedSkip("fs")
		return nil, nil
	}
	event.ID.Tenant = scope.Tenant
	event.ID.Namespace = scope.Namespace
	return &event, nil
}

// GetEvents walks the topic's group directories in ascending order, pruning
// whole subtrees below the since cursor by their maximum covered sequence.
func (s *FSStore) GetEvents(ctx context.Context, scope domain.Scope, topic string, filter domain.EventFilter) ([]domain.Event, error) {
	m, err := newMatcher(topic, filter, s.settings.loc)
	if err != nil {
		return nil, err
	}
	c := newCollector(filter)
	if m.none {
		return c.result(), nil
	}

	topicDir := s.topicDir(scope, topic)
	g1s, err := numericSubdirs(topicDir)
	if err != nil {
		return nil, err
	}
	for _, g1 := range g1s {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if (g1+1)*1_000_000-1 <= m.floor {
			continue
		}
		g1Dir := filepath.Join(topicDir, fmt.Sprintf("%03d", g1))
		g2s, err := numericSubdirs(g1Dir)
		if err != nil {
			return nil, err
		}
		for _, g2 := range g2s {
			if g1*1_000_000+(g2+1)*10_000-1 <= m.floor {
				continue
			}
			g2Dir := filepath.Join(g1Dir, fmt.Sprintf("%02d", g2))
			g3s, err := numericSubdirs(g2Dir)
			if err != nil {
				return nil, err
			}
			for _, g3 := range g3s {
				base := g1*1_000_000 + g2*10_000 + g3*groupSpan
				if base+groupSpan-1 <= m.floor {
					continue
				}
				for _, ref := range s.listGroup(filepath.Join(g2Dir, fmt.Sprintf("%02d", g3)), topic) {
					if !m.matchSequence(ref.sequence) {
						continue
					}
					event, ok := s.readEvent(ref.path)
					if !ok {
						continue
					}
					if !m.matchDate(event.Timestamp) {
						continue
					}
					event.ID.Tenant = scope.Tenant
					event.ID.Namespace = scope.Namespace
					if c.add(event) {
						return c.result(), nil
					}
				}
			}
		}
	}
	return c.result(), nil
}

// GetLatestEventID walks the group tree from the high end and returns the id
// of the newest event that still decodes.
func (s *FSStore) GetLatestEventID(ctx context.Context, scope domain.Scope, topic string) (*domain.EventID, error) {
	topicDir := s.topicDir(scope, topic)
	g1s, err := numericSubdirs(topicDir)
	if err != nil {
		return nil, err
	}
	for i := len(g1s) - 1; i >= 0; i-- {
		g1Dir := filepath.Join(topicDir, fmt.Sprintf("%03d", g1s[i]))
		g2s, err := numericSubdirs(g1Dir)
		if err != nil {
			return nil, err
		}
		for j := len(g2s) - 1; j >= 0; j-- {
			g2Dir := filepath.Join(g1Dir, fmt.Sprintf("%02d", g2s[j]))
			g3s, err := numericSubdirs(g2Dir)
			if err != nil {
				return nil, err
			}
			for k := len(g3s) - 1; k >= 0; k-- {
				refs := s.listGroup(filepath.Join(g2Dir, fmt.Sprintf("%02d", g3s[k])), topic)
				for r := len(refs) - 1; r >= 0; r-- {
					event, ok := s.readEvent(refs[r].path)
					if !ok {
						continue
					}
					id := event.ID
					id.Tenant = scope.Tenant
					id.Namespace = scope.Namespace
					return &id, nil
				}
			}
		}
	}
	return nil, nil
}

func (s *FSStore) topicDir(scope domain.Scope, topic string) string {
	if scope.IsDefault() {
		return filepath.Join(s.root, topic)
	}
	return filepath.Join(s.root, scope.Tenant, scope.Namespace, topic)
}

func (s *FSStore) eventPath(scope domain.Scope, id domain.EventID) string {
	group := filepath.Join(
		fmt.Sprintf("%03d", id.Sequence/1_000_000),
		fmt.Sprintf("%02d", id.Sequence/10_000%100),
		fmt.Sprintf("%02d", id.Sequence/groupSpan%100),
	)
	return filepath.Join(s.topicDir(scope, id.Topic), group, id.Value()+".json")
}

type fileRef struct {
	sequence int64
	path     string
}

// listGroup returns the group directory's event files sorted by sequence.
// Files that do not carry a parseable "<topic>-<seq>.json" name are logged
// and skipped.
func (s *FSStore) listGroup(dir, topic string) []fileRef {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if !errors.Is(err, fs.ErrNotExist) {
			s.settings.logger.Warn("skipping unreadable event directory", zap.String("path", dir), zap.Error(err))
		}
		return nil
	}
	refs := make([]fileRef, 0, len(entries))
	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() || !strings.HasSuffix(name, ".json") {
			continue
		}
		id, err := domain.ParseEventID(strings.TrimSuffix(name, ".json"))
		if err != nil || id.Topic != topic {
			s.settings.logger.Warn("skipping unrecognised event file", zap.String("path", filepath.Join(dir, name)))
			continue
		}
		refs = append(refs, fileRef{sequence: id.Sequence, path: filepath.Join(dir, name)})
	}
	sort.Slice(refs, func(i, j int) bool { return refs[i].sequence < refs[j].sequence })
	return refs
}

func (s *FSStore) readEvent(path string) (domain.Event, bool) {
	data, err := os.ReadFile(path)
	if err != nil {
		s.settings.logger.Warn("skipping unreadable event file", zap.String("path", path), zap.Error(err))
		recordMalformedSkip("fs")
		return domain.Event{}, false
	}
	var event domain.Event
	if err := json.Unmarshal(data, &event); err != nil {
		s.settings.logger.Warn("skipping malformed event file", zap.String("path", path), zap.Error(err))
		recordMalformedSkip("fs")
		return domain.Event{}, false
	}
	return event, true
}

// numericSubdirs lists a directory's numerically named children in ascending
// order. A missing directory is an empty stream, not an error.
func numericSubdirs(dir string) ([]int64, error) {
	entries, err := os.ReadDir(dir)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("%w: read %s: %v", domain.ErrEventStorage, dir, err)
	}
	groups := make([]int64, 0, len(entries))
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		n, err := strconv.ParseInt(entry.Name(), 10, 64)
		if err != nil {
			continue
		}
		groups = append(groups, n)
	}
	sort.Slice(groups, func(i, j int) bool { return groups[i] < groups[j] })
	return groups, nil
}
