// Package clientstore holds client configurations served by the gateway's
// configuration endpoint.
package clientstore

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sort"
	"sync"

	"gopkg.in/yaml.v3"

	"github.com/gaspardpetit/detpay/internal/clientcfg"
)

// ErrNotFound is returned when no configuration exists for a client id.
var ErrNotFound = errors.New("client not found")

// Store persists client configurations keyed by id.
type Store interface {
	Get(ctx context.Context, id string) (*clientcfg.ClientConfiguration, error)
	Put(ctx context.Context, cfg *clientcfg.ClientConfiguration) error
}

// MemoryStore is an in-process Store.
type MemoryStore struct {
	mu      sync.RWMutex
	clients map[string]*clientcfg.ClientConfiguration
}

// NewMemoryStore returns an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{clients: map[string]*clientcfg.ClientConfiguration{}}
}

func (m *MemoryStore) Get(_ context.Context, id string) (*clientcfg.ClientConfiguration, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	cfg, ok := m.clients[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return cfg.Clone(), nil
}

func (m *MemoryStore) Put(_ context.Context, cfg *clientcfg.ClientConfiguration) error {
	if cfg == nil || cfg.ID == "" {
		return errors.New("client configuration requires an id")
	}
	m.mu.Lock()
	m.clients[cfg.ID] = cfg.Clone()
	m.mu.Unlock()
	return nil
}

// IDs returns the stored client ids, sorted.
func (m *MemoryStore) IDs() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]string, 0, len(m.clients))
	for id := range m.clients {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}

type clientsFile struct {
	Clients []*clientcfg.ClientConfiguration `yaml:"clients"`
}

// LoadFile seeds s from a YAML file of the form:
//
//	clients:
//	  - id: c1
//	    redirect_urls: [https://app.example/done]
//	    data_key: ctx
//	    allowed_origins: [https://pay.det.co]
func LoadFile(ctx context.Context, s Store, path string) (int, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return 0, err
	}
	var f clientsFile
	if err := yaml.Unmarshal(b, &f); err != nil {
		return 0, fmt.Errorf("parse %s: %w", path, err)
	}
	for i, cfg := range f.Clients {
		if err := s.Put(ctx, cfg); err != nil {
			return i, fmt.Errorf("client %d: %w", i, err)
		}
	}
	return len(f.Clients), nil
}
