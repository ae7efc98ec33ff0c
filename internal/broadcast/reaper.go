package broadcast

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"github.com/yellowcooln/meshmap-engine/internal/topology"
)

// reapInterval is the Reaper's fixed sweep period (spec.md §4.G).
const reapInterval = 5 * time.Second

// Reaper periodically sweeps every TTL-bound collection in the Topology
// Store. Stale devices are evicted through the Broadcaster's queue; route,
// history, heat, message-origin and presence pruning call the store
// directly from the Reaper's own goroutine, each under the store's lock,
// and the Broadcaster is then used only to send the removal messages.
type Reaper struct {
	store *topology.Store
	bcast *Broadcaster
	log   zerolog.Logger
	now   func() int64
}

// NewReaper builds a Reaper bound to store and bcast.
func NewReaper(store *topology.Store, bcast *Broadcaster, log zerolog.Logger) *Reaper {
	return &Reaper{
		store: store,
		bcast: bcast,
		log:   log.With().Str("component", "reaper").Logger(),
		now:   func() int64 { return time.Now().Unix() },
	}
}

// Run ticks every 5 seconds until ctx is canceled, performing one sweep per
// tick in the fixed order spec.md §4.G specifies.
func (r *Reaper) Run(ctx context.Context) {
	ticker := time.NewTicker(reapInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			r.sweep()
		}
	}
}

func (r *Reaper) sweep() {
	now := r.now()
	limits := r.store.Limits()

	r.reapStaleDevices(now, limits)
	r.reapInvalidRoutes()
	r.reapExpiredRoutes(now)
	r.reapHistory(now, limits)
	r.store.PruneHeat(now, limits.HeatTTLSeconds)
	r.store.PruneMessageOrigins(now, limits.MessageOriginTTLSeconds)
	r.reapStalePresence(now, limits)
}

func (r *Reaper) reapStaleDevices(now int64, limits topology.Limits) {
	if limits.DeviceTTLSeconds <= 0 {
		return
	}
	stale := r.store.StaleDeviceIDs(now, limits.DeviceTTLSeconds)
	for _, id := range stale {
		r.bcast.Enqueue(topology.Event{Kind: topology.EventDeviceRemove, DeviceID: id})
	}
}

func (r *Reaper) reapInvalidRoutes() {
	ids := r.store.RoutesWithZeroPoints()
	if len(ids) == 0 {
		return
	}
	r.store.RemoveRoutes(ids)
	r.bcast.BroadcastRouteRemove(ids)
}

func (r *Reaper) reapExpiredRoutes(now int64) {
	ids := r.store.ExpiredRouteIDs(now)
	if len(ids) == 0 {
		return
	}
	r.store.RemoveRoutes(ids)
	r.bcast.BroadcastRouteRemove(ids)
}

func (r *Reaper) reapHistory(now int64, limits topology.Limits) {
	if !limits.RouteHistoryEnabled {
		return
	}
	removedKeys := r.store.PruneHistoryEdges(now)
	if len(removedKeys) == 0 {
		return
	}
	ids := make([]string, 0, len(removedKeys))
	for _, k := range removedKeys {
		ids = append(ids, edgeID(k))
	}
	r.bcast.BroadcastHistoryEdgesRemove(ids)
}

func (r *Reaper) reapStalePresence(now int64, limits topology.Limits) {
	window := limits.DeviceTTLSeconds * 3
	if window < 900 {
		window = 900
	}
	r.store.ForgetStalePresence(now, window)
}
