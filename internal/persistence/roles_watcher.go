package persistence

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog"

	"github.com/yellowcooln/meshmap-engine/internal/topology"
)

// RolesWatcher hot-reloads DEVICE_ROLES_FILE, a small JSON map of
// device_id -> role, applying every entry as a RoleSourceOverride so it is
// never downgraded by later observed traffic (spec.md §3, §4.I). Grounded
// on the teacher's internal/ingest/watcher.go fsnotify usage, narrowed from
// watching a directory tree of recordings to watching one config file's
// parent directory (editors commonly replace a file via rename-over, which
// a direct file watch can miss).
type RolesWatcher struct {
	path  string
	store *topology.Store
	log   zerolog.Logger
}

// NewRolesWatcher builds a RolesWatcher for path.
func NewRolesWatcher(path string, store *topology.Store, log zerolog.Logger) *RolesWatcher {
	return &RolesWatcher{path: path, store: store, log: log.With().Str("component", "persistence").Logger()}
}

// LoadOnce applies the roles file's current contents immediately (called at
// startup, in addition to Run watching for subsequent changes).
func (w *RolesWatcher) LoadOnce() {
	w.reload()
}

func (w *RolesWatcher) reload() {
	if w.path == "" {
		return
	}
	data, err := os.ReadFile(w.path)
	if err != nil {
		if !os.IsNotExist(err) {
			w.log.Warn().Err(err).Str("path", w.path).Msg("failed to read device roles file")
		}
		return
	}
	var roles map[string]string
	if err := json.Unmarshal(data, &roles); err != nil {
		w.log.Warn().Err(err).Str("path", w.path).Msg("device roles file is not valid JSON")
		return
	}
	applied := 0
	for id, roleStr := range roles {
		role, ok := normalizeRoleValue(roleStr)
		if !ok {
			w.log.Warn().Str("device_id", id).Str("role", roleStr).Msg("unrecognized role in device roles file, skipping")
			continue
		}
		w.store.RestoreRole(id, role, topology.RoleSourceOverride)
		applied++
	}
	w.log.Info().Int("count", applied).Str("path", w.path).Msg("applied device role overrides")
}

func normalizeRoleValue(s string) (topology.Role, bool) {
	switch s {
	case string(topology.RoleCompanion), string(topology.RoleRepeater), string(topology.RoleRoom):
		return topology.Role(s), true
	default:
		return "", false
	}
}

// Run watches the roles file's parent directory and reloads on any create,
// write, or rename event naming that file, until ctx is canceled.
func (w *RolesWatcher) Run(ctx context.Context) error {
	if w.path == "" {
		<-ctx.Done()
		return nil
	}
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer watcher.Close()

	dir := filepath.Dir(w.path)
	if err := watcher.Add(dir); err != nil {
		return err
	}
	target := filepath.Base(w.path)

	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if filepath.Base(ev.Name) != target {
				continue
			}
			if ev.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) != 0 {
				w.reload()
			}
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			w.log.Warn().Err(err).Msg("roles file watcher error")
		}
	}
}
