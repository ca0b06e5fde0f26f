package topics

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"example.com/eventstore/internal/domain"
)

// ConfigStore persists topic configuration so sequences and schemas survive
// restarts.
type ConfigStore interface {
	LoadAll() ([]domain.Topic, error)
	Save(topic domain.Topic) error
}

// topicConfig is the on-disk form of a topic. The tenantId and namespaceId
// fields carry the scope names; older deployments wrote flat files without
// them.
type topicConfig struct {
	ResourceID          string          `json:"resourceId"`
	TenantResourceID    string          `json:"tenantResourceId,omitempty"`
	NamespaceResourceID string          `json:"namespaceResourceId,omitempty"`
	Name                string          `json:"name"`
	Sequence            int64           `json:"sequence"`
	Schemas             []domain.Schema `json:"schemas"`
	TenantID            string          `json:"tenantId,omitempty"`
	NamespaceID         string          `json:"namespaceId,omitempty"`
}

// FSConfigStore writes one JSON file per topic under the config root. Scoped
// topics live at <root>/<tenant>/<namespace>/<topic>.json; default-scope
// topics keep the legacy flat <root>/<topic>.json path.
type FSConfigStore struct {
	root string
}

// NewFSConfigStore constructs a store rooted at dir.
func NewFSConfigStore(dir string) *FSConfigStore {
	return &FSConfigStore{root: dir}
}

// Save writes the topic's config file atomically.
func (s *FSConfigStore) Save(topic domain.Topic) error {
	path := s.pathFor(topic.Scope(), topic.Name)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("%w: create config dir for %s: %v", domain.ErrTopicConfig, topic.QualifiedName(), err)
	}

	cfg := topicConfig{
		ResourceID:          topic.ResourceID,
		TenantResourceID:    topic.TenantResourceID,
		NamespaceResourceID: topic.NamespaceResourceID,
		Name:                topic.Name,
		Sequence:            topic.Sequence,
		Schemas:             topic.Schemas,
		TenantID:            topic.TenantName,
		NamespaceID:         topic.NamespaceName,
	}
	raw, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return fmt.Errorf("%w: encode config for %s: %v", domain.ErrTopicConfig, topic.QualifiedName(), err)
	}

	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, raw, 0o644); err != nil {
		return fmt.Errorf("%w: write config for %s: %v", domain.ErrTopicConfig, topic.QualifiedName(), err)
	}
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("%w: commit config for %s: %v", domain.ErrTopicConfig, topic.QualifiedName(), err)
	}
	return nil
}

// LoadAll reads every topic config under the root, covering both the nested
// scoped layout and legacy flat files. A missing root means a fresh install.
func (s *FSConfigStore) LoadAll() ([]domain.Topic, error) {
	entries, err := os.ReadDir(s.root)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("%w: read config root: %v", domain.ErrTopicConfig, err)
	}

	var topics []domain.Topic
	for _, entry := range entries {
		if entry.IsDir() {
			scoped, err := s.loadTenantDir(entry.Name())
			if err != nil {
				return nil, err
			}
			topics = append(topics, scoped...)
			continue
		}
		if !strings.HasSuffix(entry.Name(), ".json") {
			continue
		}
		topic, err := s.loadFile(filepath.Join(s.root, entry.Name()), domain.Scope{})
		if err != nil {
			return nil, err
		}
		topics = append(topics, topic)
	}
	return topics, nil
}

func (s *FSConfigStore) loadTenantDir(tenant string) ([]domain.Topic, error) {
	tenantDir := filepath.Join(s.root, tenant)
	namespaces, err := os.ReadDir(tenantDir)
	if err != nil {
		return nil, fmt.Errorf("%w: read tenant dir %s: %v", domain.ErrTopicConfig, tenant, err)
	}

	var topics []domain.Topic
	for _, ns := range namespaces {
		if !ns.IsDir() {
			continue
		}
		scope := domain.Scope{Tenant: tenant, Namespace: ns.Name()}
		files, err := os.ReadDir(filepath.Join(tenantDir, ns.Name()))
		if err != nil {
			return nil, fmt.Errorf("%w: read namespace dir %s: %v", domain.ErrTopicConfig, scope, err)
		}
		for _, file := range files {
			if file.IsDir() || !strings.HasSuffix(file.Name(), ".json") {
				continue
			}
			topic, err := s.loadFile(filepath.Join(tenantDir, ns.Name(), file.Name()), scope)
			if err != nil {
				return nil, err
			}
			topics = append(topics, topic)
		}
	}
	return topics, nil
}

func (s *FSConfigStore) loadFile(path string, scope domain.Scope) (domain.Topic, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return domain.Topic{}, fmt.Errorf("%w: read %s: %v", domain.ErrTopicConfig, path, err)
	}
	var cfg topicConfig
	if err := json.Unmarshal(raw, &cfg); err != nil {
		return domain.Topic{}, fmt.Errorf("%w: parse %s: %v", domain.ErrTopicConfig, path, err)
	}

	topic := domain.Topic{
		ResourceID:          cfg.ResourceID,
		TenantResourceID:    cfg.TenantResourceID,
		NamespaceResourceID: cfg.NamespaceResourceID,
		TenantName:          cfg.TenantID,
		NamespaceName:       cfg.NamespaceID,
		Name:                cfg.Name,
		Sequence:            cfg.Sequence,
		Schemas:             cfg.Schemas,
	}
	if topic.Name == "" {
		topic.Name = strings.TrimSuffix(filepath.Base(path), ".json")
	}
	// Flat legacy files carry no scope fields; the directory decides.
	if topic.TenantName == "" && topic.NamespaceName == "" {
		topic.TenantName = scope.Tenant
		topic.NamespaceName = scope.Namespace
	}
	return topic, nil
}

func (s *FSConfigStore) pathFor(scope domain.Scope, name string) string {
	if scope.IsDefault() {
		return filepath.Join(s.root, name+".json")
	}
	return filepath.Join(s.root, scope.Tenant, scope.Namespace, name+".json")
}
