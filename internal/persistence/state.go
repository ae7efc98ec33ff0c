// Package persistence durably saves topology state to a JSON file and an
// append-only JSONL history log, and hot-reloads device role overrides from
// a small JSON file. Grounded on the teacher's internal/storage/local.go
// atomic temp-file-then-rename write and internal/ingest/watcher.go's
// fsnotify usage.
package persistence

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"time"

	"github.com/rs/zerolog"

	"github.com/yellowcooln/meshmap-engine/internal/topology"
)

// stateVersion is the on-disk schema version written into every state file.
const stateVersion = 1

// State is the durable snapshot written to STATE_FILE (spec.md §4.I).
type State struct {
	Version           int                              `json:"version"`
	SavedAt           int64                             `json:"saved_at"`
	Devices           []topology.Device                 `json:"devices"`
	Trails            map[string][]topology.TrailPoint  `json:"trails"`
	SeenDevices       map[string]int64                  `json:"seen_devices"`
	DeviceNames       map[string]string                 `json:"device_names"`
	DeviceRoles       map[string]topology.Role           `json:"device_roles"`
	DeviceRoleSources map[string]topology.RoleSource     `json:"device_role_sources"`
}

// StateSaver periodically rewrites STATE_FILE when the store is dirty.
type StateSaver struct {
	store    *topology.Store
	path     string
	interval time.Duration
	log      zerolog.Logger
}

// NewStateSaver builds a StateSaver writing to path every interval.
func NewStateSaver(store *topology.Store, path string, interval time.Duration, log zerolog.Logger) *StateSaver {
	return &StateSaver{store: store, path: path, interval: interval, log: log.With().Str("component", "persistence").Logger()}
}

// Run ticks every s.interval until ctx is canceled, saving only when the
// store has changed since the last tick (spec.md §4.I). A save failure is
// logged and retried next tick — it never terminates the process (spec.md
// §7.3 "Persistence-fault").
func (s *StateSaver) Run(ctx context.Context) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			s.saveIfDirty() // best-effort final save on shutdown
			return
		case <-ticker.C:
			s.saveIfDirty()
		}
	}
}

func (s *StateSaver) saveIfDirty() {
	if !s.store.ConsumeDirty() {
		return
	}
	if err := s.Save(); err != nil {
		s.log.Error().Err(err).Msg("failed to save state, will retry next tick")
	}
}

// Save writes the current store state to s.path atomically (write to a
// temp file in the same directory, then rename).
func (s *StateSaver) Save() error {
	snap := s.store.Snapshot()

	st := State{
		Version:           stateVersion,
		SavedAt:           snap.ServerTime,
		Devices:           snap.Devices,
		Trails:            snap.Trails,
		SeenDevices:       make(map[string]int64, len(snap.Devices)),
		DeviceNames:       make(map[string]string),
		DeviceRoles:       make(map[string]topology.Role),
		DeviceRoleSources: make(map[string]topology.RoleSource),
	}
	for _, d := range snap.Devices {
		if seen, ok := s.store.LastSeen(d.ID); ok {
			st.SeenDevices[d.ID] = seen.Unix()
		}
		if d.Name != "" {
			st.DeviceNames[d.ID] = d.Name
		}
		if d.Role != "" {
			st.DeviceRoles[d.ID] = d.Role
		}
	}

	data, err := json.MarshalIndent(st, "", "  ")
	if err != nil {
		return err
	}
	return atomicWriteFile(s.path, data, 0o644)
}

// LoadState reads path (if present) and restores valid devices/trails/
// presence/name/role data into store. Startup load failures are logged and
// the process proceeds with empty state (spec.md §7 "Startup state-load
// failures log and proceed with empty state").
func LoadState(path string, store *topology.Store, log zerolog.Logger) {
	data, err := os.ReadFile(path)
	if err != nil {
		if !os.IsNotExist(err) {
			log.Warn().Err(err).Str("path", path).Msg("failed to read state file, starting empty")
		}
		return
	}

	var st State
	if err := json.Unmarshal(data, &st); err != nil {
		log.Warn().Err(err).Str("path", path).Msg("state file corrupt, starting empty")
		return
	}

	for _, d := range st.Devices {
		trail := st.Trails[d.ID]
		store.RestoreDevice(d, trail)
	}
	for id, ts := range st.SeenDevices {
		store.RestoreSeen(id, ts)
	}
	for id, name := range st.DeviceNames {
		store.RestoreName(id, name)
	}
	for id, role := range st.DeviceRoles {
		src := st.DeviceRoleSources[id]
		if src == "" {
			src = topology.RoleSourceExplicit
		}
		store.RestoreRole(id, role, src)
	}

	log.Info().Int("devices", len(st.Devices)).Str("path", path).Msg("loaded persisted state")
}

// atomicWriteFile writes data to a temp file in dir's directory and renames
// it over path, so a crash mid-write never corrupts the previous copy.
func atomicWriteFile(path string, data []byte, perm os.FileMode) error {
	dir := filepath.Dir(path)
	tmp, err := os.CreateTemp(dir, ".tmp-*")
	if err != nil {
		return err
	}
	tmpPath := tmp.Name()
	defer os.Remove(tmpPath)

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	if err := os.Chmod(tmpPath, perm); err != nil {
		return err
	}
	return os.Rename(tmpPath, path)
}
