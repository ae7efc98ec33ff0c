package broadcast

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/yellowcooln/meshmap-engine/internal/metrics"
	"github.com/yellowcooln/meshmap-engine/internal/topology"
)

// Broadcaster is the single-writer task draining the event queue: it applies
// every device, route and history update to the Topology Store (spec.md
// §4.F); the Ingest Dispatcher's message-origin cache and the Reaper's
// pruning write to the store directly under its lock. The
// MQTT client's callback thread is the only producer crossing a goroutine
// boundary into it, via Enqueue.
type Broadcaster struct {
	store *topology.Store
	hub   *Hub
	queue chan topology.Event
	log   zerolog.Logger

	dropped uint64

	// OnHistorySegments, if set, is invoked with every batch of segments
	// accepted into history, so the persistence layer can mirror them to
	// the append-only JSONL file without the broadcaster knowing anything
	// about disk I/O.
	OnHistorySegments func([]topology.HistorySegment)
}

// NewBroadcaster builds a Broadcaster with a bounded event queue of the
// given capacity.
func NewBroadcaster(store *topology.Store, hub *Hub, queueSize int, log zerolog.Logger) *Broadcaster {
	return &Broadcaster{
		store: store,
		hub:   hub,
		queue: make(chan topology.Event, queueSize),
		log:   log.With().Str("component", "broadcaster").Logger(),
	}
}

// Enqueue submits an event from any goroutine (in particular, the MQTT
// client's own callback thread). It never blocks: a full queue drops the
// event and counts it, since the Ingest Dispatcher must not be held up by a
// slow broadcaster (spec.md §5 "the callback is the only producer crossing
// thread boundaries and must enqueue ... via a thread-safe enqueue
// primitive").
func (b *Broadcaster) Enqueue(e topology.Event) {
	select {
	case b.queue <- e:
	default:
		b.dropped++
		metrics.BroadcastQueueDroppedTotal.Inc()
		b.log.Warn().Str("kind", string(e.Kind)).Msg("broadcaster queue full, dropping event")
	}
}

// DroppedCount returns how many events have been dropped due to a full
// queue, exposed on /stats.
func (b *Broadcaster) DroppedCount() uint64 {
	return b.dropped
}

// Run drains the queue until ctx is canceled. Every iteration recovers from
// unexpected panics so one bad event can never kill the service (spec.md §7
// "the broadcaster never terminates on a single bad event").
func (b *Broadcaster) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case e := <-b.queue:
			b.applyOne(e)
		}
	}
}

func (b *Broadcaster) applyOne(e topology.Event) {
	defer func() {
		if r := recover(); r != nil {
			b.log.Error().Interface("panic", r).Str("kind", string(e.Kind)).Msg("recovered from panic applying event")
		}
	}()

	switch e.Kind {
	case topology.EventDevice:
		b.applyDevice(e)
	case topology.EventDeviceSeen:
		b.applyDeviceSeen(e)
	case topology.EventDeviceName:
		b.applyDeviceName(e)
	case topology.EventDeviceRole:
		b.applyDeviceRole(e)
	case topology.EventDeviceRemove:
		b.applyDeviceRemove(e)
	case topology.EventRoute:
		b.applyRoute(e)
	default:
		b.log.Warn().Str("kind", string(e.Kind)).Msg("unknown event kind")
	}
}

func (b *Broadcaster) applyDevice(e topology.Event) {
	if e.Device == nil {
		return
	}
	if !b.store.UpsertDevice(*e.Device) {
		return
	}
	b.sendDeviceUpdate(e.Device.DeviceID)
}

func (b *Broadcaster) sendDeviceUpdate(id string) {
	dev, ok := b.store.Device(id)
	if !ok {
		return
	}
	b.broadcastJSON(map[string]any{
		"type":   "update",
		"device": dev,
		"trail":  b.store.Trail(id),
	})
}

func (b *Broadcaster) applyDeviceSeen(e topology.Event) {
	ts := nowFromEventOrZero(e)
	if !b.store.MarkSeen(e.DeviceID, ts) {
		return // device already evicted: silently dropped per spec.md §5
	}
	last, _ := b.store.LastSeen(e.DeviceID)
	b.broadcastJSON(map[string]any{
		"type":         "device_seen",
		"device_id":    e.DeviceID,
		"last_seen_ts": last.Unix(),
		"mqtt_seen_ts": ts,
	})
}

func nowFromEventOrZero(e topology.Event) int64 {
	if e.Device != nil {
		return e.Device.TS
	}
	return 0
}

func (b *Broadcaster) applyDeviceName(e topology.Event) {
	if !b.store.DeviceExists(e.DeviceID) {
		return
	}
	b.store.SetName(e.DeviceID, e.Name)
	b.sendDeviceUpdate(e.DeviceID)
}

func (b *Broadcaster) applyDeviceRole(e topology.Event) {
	if !b.store.DeviceExists(e.DeviceID) {
		return
	}
	b.store.SetRole(e.DeviceID, e.Role, e.RoleSrc)
	b.sendDeviceUpdate(e.DeviceID)
}

func (b *Broadcaster) applyDeviceRemove(e topology.Event) {
	if !b.store.EvictDevice(e.DeviceID) {
		return
	}
	b.broadcastJSON(map[string]any{
		"type":       "stale",
		"device_ids": []string{e.DeviceID},
	})
}

func (b *Broadcaster) applyRoute(e topology.Event) {
	if e.Route == nil {
		return
	}
	cand := e.Route
	points, pointIDs, mode, ok := ResolveRoutePoints(b.store, *cand)
	if !ok {
		return
	}

	route := topology.Route{
		ID:          cand.ID,
		Points:      points,
		Mode:        mode,
		TS:          cand.TS,
		ExpiresAt:   cand.TS + b.store.Limits().RouteTTLSeconds,
		OriginID:    cand.OriginID,
		ReceiverID:  cand.ReceiverID,
		PayloadType: cand.PayloadType,
		MessageHash: cand.MessageHash,
		SNRValues:   cand.SNRValues,
		NodeHashes:  cand.PathHashes,
		PointIDs:    pointIDs,
	}
	b.store.RecordRoute(route)
	b.broadcastJSON(map[string]any{"type": "route", "route": route})

	limits := b.store.Limits()
	if limits.RouteHistoryEnabled && mode == topology.RouteModePath {
		segs := segmentsFromPointIDs(pointIDs, cand.TS, mode, cand.MessageHash, b.store)
		if len(segs) > 0 {
			b.store.RecordHistorySegments(segs, cand.PayloadType)
			b.broadcastAffectedEdges(segs)
			if b.OnHistorySegments != nil {
				b.OnHistorySegments(segs)
			}
		}
	}
}

func (b *Broadcaster) broadcastAffectedEdges(segs []topology.HistorySegment) {
	seen := make(map[topology.EdgeKey]struct{}, len(segs))
	edges := make([]topology.HistoryEdge, 0, len(segs))
	for _, seg := range segs {
		key := topology.NewEdgeKey(seg.AID, seg.BID)
		if _, ok := seen[key]; ok {
			continue
		}
		seen[key] = struct{}{}
		if edge, ok := b.store.HistoryEdge(key); ok {
			edges = append(edges, edge)
		}
	}
	if len(edges) > 0 {
		b.broadcastJSON(map[string]any{"type": "history_edges", "edges": edges})
	}
}

// segmentsFromPointIDs decomposes a resolved route's per-point device ids
// into consecutive-pair segments, discarding pairs with a missing, equal,
// or out-of-radius endpoint (spec.md §4.D).
func segmentsFromPointIDs(pointIDs []string, ts int64, mode topology.RouteMode, msgHash string, store *topology.Store) []topology.HistorySegment {
	var segs []topology.HistorySegment
	for i := 0; i+1 < len(pointIDs); i++ {
		a, bID := pointIDs[i], pointIDs[i+1]
		if a == "" || bID == "" || a == bID {
			continue
		}
		alat, alon, aok := store.DeviceCoords(a)
		blat, blon, bok := store.DeviceCoords(bID)
		if !aok || !bok || !store.ValidLocation(alat, alon) || !store.ValidLocation(blat, blon) {
			continue
		}
		segs = append(segs, topology.HistorySegment{AID: a, BID: bID, TS: ts, Mode: mode, MessageHash: msgHash})
	}
	return segs
}

func (b *Broadcaster) broadcastJSON(v any) {
	data, err := json.Marshal(v)
	if err != nil {
		b.log.Error().Err(err).Msg("failed to marshal outbound message")
		return
	}
	b.hub.Broadcast(data)
}

// BroadcastRouteRemove and BroadcastHistoryEdgesRemove are called by the
// Reaper after it has already removed the routes or edges from the store
// itself; they only send the removal messages to subscribers.
func (b *Broadcaster) BroadcastRouteRemove(ids []string) {
	if len(ids) == 0 {
		return
	}
	b.broadcastJSON(map[string]any{"type": "route_remove", "route_ids": ids})
}

func (b *Broadcaster) BroadcastHistoryEdgesRemove(ids []string) {
	if len(ids) == 0 {
		return
	}
	b.broadcastJSON(map[string]any{"type": "history_edges_remove", "edge_ids": ids})
}

func edgeID(key topology.EdgeKey) string {
	return fmt.Sprintf("%s|%s", key.A, key.B)
}
