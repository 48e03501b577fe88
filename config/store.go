package config

import (
	"encoding/json"
	"log"
	"os"
	"path/filepath"
	"sync"
)

// Store persists dashboard-saved settings as a JSON overlay next to the
// generated media. It is re-read on every access so changes saved at runtime
// take effect without a restart.
type Store struct {
	mu   sync.Mutex
	path string
}

func NewStore(storagePath string) *Store {
	return &Store{path: filepath.Join(storagePath, "app_settings.json")}
}

func (s *Store) Load() map[string]string {
	s.mu.Lock()
	defer s.mu.Unlock()

	data, err := os.ReadFile(s.path)
	if err != nil {
		if !os.IsNotExist(err) {
			log.Printf("Failed to read %s: %v", s.path, err)
		}
		return map[string]string{}
	}

	out := map[string]string{}
	if err := json.Unmarshal(data, &out); err != nil {
		log.Printf("Failed to parse %s: %v", s.path, err)
		return map[string]string{}
	}
	return out
}

// Save merges the given fields into the stored settings.
func (s *Store) Save(update map[string]string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	current := map[string]string{}
	if data, err := os.ReadFile(s.path); err == nil {
		_ = json.Unmarshal(data, &current)
	}
	for k, v := range update {
		current[k] = v
	}

	data, err := json.MarshalIndent(current, "", "  ")
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(s.path), 0o755); err != nil {
		return err
	}
	return os.WriteFile(s.path, data, 0o644)
}

// Resolver answers configuration questions at call time, preferring values
// from the environment/config file over the saved overlay.
type Resolver struct {
	Cfg   *Config
	Store *Store
}

func (r *Resolver) pick(fromCfg, storeKey string) string {
	if fromCfg != "" {
		return fromCfg
	}
	return r.Store.Load()[storeKey]
}

func (r *Resolver) ReplicateToken() string { return r.pick(r.Cfg.ReplicateToken, "replicateKey") }
func (r *Resolver) ImageModel() string     { return r.pick(r.Cfg.ImageModel, "imageModel") }
func (r *Resolver) VideoModel() string     { return r.pick(r.Cfg.VideoModel, "videoModel") }
func (r *Resolver) VideoFallbackModel() string {
	return r.pick(r.Cfg.VideoFallbackModel, "videoFallbackModel")
}
func (r *Resolver) LipsyncProvider() string { return r.pick(r.Cfg.LipsyncProvider, "lipsyncProvider") }
func (r *Resolver) ElevenLabsKey() string   { return r.pick(r.Cfg.ElevenLabsKey, "elevenLabsKey") }
func (r *Resolver) SyncLabsKey() string     { return r.pick(r.Cfg.SyncLabsKey, "syncLabsKey") }
func (r *Resolver) DIDKey() string          { return r.pick(r.Cfg.DIDKey, "didKey") }
