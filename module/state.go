package module

import (
	"context"
	"sort"

	"github.com/oklahomer/go-sarah-discord-modules/kvstore"
)

// StateKey is the well-known key the loaded-module snapshot is stored under.
const StateKey = "loaded-modules"

// StateStore persists which modules are loaded for which guild.
type StateStore interface {
	LoadState(ctx context.Context) (map[string][]string, error)
	SaveState(ctx context.Context, state map[string][]string) error
}

// KVStateStore is a StateStore backed by kvstore.
type KVStateStore struct {
	config *kvstore.Config
}

var _ StateStore = (*KVStateStore)(nil)

// NewKVStateStore stores the snapshot under StateKey of config.
func NewKVStateStore(config *kvstore.Config) *KVStateStore {
	return &KVStateStore{config: config}
}

// LoadState returns the last saved snapshot, or an empty one when nothing was saved yet.
func (s *KVStateStore) LoadState(ctx context.Context) (map[string][]string, error) {
	state := map[string][]string{}
	if _, err := s.config.TryGet(ctx, StateKey, &state); err != nil {
		return nil, err
	}
	return state, nil
}

// SaveState replaces the stored snapshot.
func (s *KVStateStore) SaveState(ctx context.Context, state map[string][]string) error {
	normalized := make(map[string][]string, len(state))
	for guildID, ids := range state {
		sorted := append([]string(nil), ids...)
		sort.Strings(sorted)
		normalized[guildID] = sorted
	}
	return s.config.Set(ctx, StateKey, normalized)
}
