// Package ingest is the entry point the MQTT client's own callback thread
// calls for every message: classify it, gate it against current topology
// state, and hand normalized events to the Broadcaster's queue. Grounded on
// the teacher's internal/ingest/pipeline.go HandleMessage/dispatch shape,
// narrowed to one classify-then-route cascade instead of a topic-to-handler
// table (this protocol has one message shape, not a dozen feed types).
package ingest

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"github.com/yellowcooln/meshmap-engine/internal/broadcast"
	"github.com/yellowcooln/meshmap-engine/internal/classifier"
	"github.com/yellowcooln/meshmap-engine/internal/decoder"
	"github.com/yellowcooln/meshmap-engine/internal/metrics"
	"github.com/yellowcooln/meshmap-engine/internal/topology"
)

// Trace is one entry of the bounded /debug/last ring buffer: enough of a
// classified message to diagnose a bad decode without replaying traffic.
type Trace struct {
	ReceivedAt int64
	Topic      string
	Tag        classifier.ResultTag
	OriginID   string
	ParseError string
	Preview    string
}

// Dispatcher is the Ingest Dispatcher of spec.md §4.E: it runs synchronously
// on the MQTT client's callback thread. Device, name/role and route changes
// go through bcast.Enqueue; the only store state it writes directly is the
// message-origin cache (RecordMessageOrigin, under the store's own lock).
type Dispatcher struct {
	store *topology.Store
	bcast *broadcast.Broadcaster
	dec   *decoder.Adapter
	log   zerolog.Logger

	classifierCfg     classifier.Config
	onlineSuffixes    map[string]struct{}
	seenBroadcastMin  int64
	routePayloadTypes map[int]struct{}

	received atomic.Int64

	parseResultsMu sync.Mutex
	parseResults   map[classifier.ResultTag]int64

	topicsMu sync.Mutex
	topics   map[string]int64

	presenceMu   sync.Mutex
	presenceLast map[string]int64 // device_id -> unix ts of last device_seen broadcast

	traceLimit int
	traceMu    sync.Mutex
	trace      []Trace // ring buffer, oldest-first, capped at traceLimit
}

// Options bundles a Dispatcher's dependencies.
type Options struct {
	Store             *topology.Store
	Broadcaster       *broadcast.Broadcaster
	Decoder           *decoder.Adapter
	ClassifierConfig  classifier.Config
	OnlineSuffixes    []string // topic suffixes that mark presence, e.g. "status", "internal"
	SeenBroadcastMin  int64    // MQTT_SEEN_BROADCAST_MIN_SECONDS
	RoutePayloadTypes []int    // ROUTE_PAYLOAD_TYPES
	DebugTraceLimit   int      // DEBUG_TRACE_LIMIT; 0 disables the /debug/last ring buffer
	Log               zerolog.Logger
}

// New builds a Dispatcher.
func New(opts Options) *Dispatcher {
	suffixes := make(map[string]struct{}, len(opts.OnlineSuffixes))
	for _, s := range opts.OnlineSuffixes {
		suffixes[s] = struct{}{}
	}
	payloadTypes := make(map[int]struct{}, len(opts.RoutePayloadTypes))
	for _, t := range opts.RoutePayloadTypes {
		payloadTypes[t] = struct{}{}
	}
	return &Dispatcher{
		store:             opts.Store,
		bcast:             opts.Broadcaster,
		dec:               opts.Decoder,
		log:               opts.Log.With().Str("component", "ingest").Logger(),
		classifierCfg:     opts.ClassifierConfig,
		onlineSuffixes:    suffixes,
		seenBroadcastMin:  opts.SeenBroadcastMin,
		routePayloadTypes: payloadTypes,
		parseResults:      make(map[classifier.ResultTag]int64),
		topics:            make(map[string]int64),
		presenceLast:      make(map[string]int64),
		traceLimit:        opts.DebugTraceLimit,
	}
}

// HandleMessage is the MQTT client's on-message callback (spec.md §4.E).
func (d *Dispatcher) HandleMessage(topic string, payload []byte) {
	now := time.Now().Unix()
	d.received.Add(1)
	d.countTopic(topic)
	metrics.MQTTMessagesTotal.Inc()

	var obj map[string]any
	_ = json.Unmarshal(payload, &obj) // best-effort; used only for routing hints

	d.markPresence(topic, now)

	result := classifier.Classify(context.Background(), topic, payload, now, d.classifierCfg, d.dec)
	d.countResult(result.Tag)
	d.recordTrace(topic, now, result)

	receiverID := deviceIDForRouting(result)
	if receiverID == "" {
		receiverID = topicDeviceID(topic)
	}

	if result.Update != nil {
		if !d.acceptLocation(result.Update) {
			return
		}
		d.emitNameRoleDeltas(result.Update)
	}

	d.route(result, obj, topic, now, receiverID)

	if result.Update != nil {
		d.bcast.Enqueue(topology.Event{Kind: topology.EventDevice, Device: toDeviceUpdate(result.Update, topic)})
	}
}

// markPresence implements step 1: presence bookkeeping gated to a
// configured set of topic suffixes, broadcasting device_seen no more often
// than MQTT_SEEN_BROADCAST_MIN_SECONDS per device.
func (d *Dispatcher) markPresence(topic string, now int64) {
	suffix := lastTopicSegment(topic)
	if _, ok := d.onlineSuffixes[suffix]; !ok {
		return
	}
	id := topicDeviceID(topic)
	if id == "" || !d.store.DeviceExists(id) {
		return
	}

	d.presenceMu.Lock()
	last, seen := d.presenceLast[id]
	due := !seen || now-last >= d.seenBroadcastMin
	if due {
		d.presenceLast[id] = now
	}
	d.presenceMu.Unlock()

	if due {
		d.bcast.Enqueue(topology.Event{
			Kind:     topology.EventDeviceSeen,
			DeviceID: id,
			Device:   &topology.DeviceUpdate{TS: now},
		})
	}
}

// acceptLocation implements step 3: zero-coordinate and out-of-radius
// rejection. A pre-existing device whose new location falls outside the map
// radius is evicted rather than silently ignored.
func (d *Dispatcher) acceptLocation(upd *classifier.Update) bool {
	if upd.Lat == 0 && upd.Lon == 0 {
		return false
	}
	if d.store.ValidLocation(upd.Lat, upd.Lon) {
		return true
	}
	if d.store.DeviceExists(upd.DeviceID) {
		d.bcast.Enqueue(topology.Event{Kind: topology.EventDeviceRemove, DeviceID: upd.DeviceID})
	}
	return false
}

// emitNameRoleDeltas implements step 4: emit device_name/device_role events
// only when the classified value actually differs from current state.
func (d *Dispatcher) emitNameRoleDeltas(upd *classifier.Update) {
	dev, exists := d.store.Device(upd.DeviceID)
	if !exists {
		return
	}
	if upd.Name != "" && upd.Name != dev.Name {
		d.bcast.Enqueue(topology.Event{Kind: topology.EventDeviceName, DeviceID: upd.DeviceID, Name: upd.Name})
	}
	if upd.Role != "" && upd.Role != dev.Role {
		d.bcast.Enqueue(topology.Event{
			Kind:     topology.EventDeviceRole,
			DeviceID: upd.DeviceID,
			Role:     upd.Role,
			RoleSrc:  topology.RoleSourceExplicit,
		})
	}
}

// route implements step 5: derive a route candidate from decoder metadata
// or, failing that, from the tx/rx message-origin cache on the /packets
// topic convention.
func (d *Dispatcher) route(result classifier.Result, obj map[string]any, topic string, now int64, receiverID string) {
	dres := result.Decoder

	if dres.OK && len(dres.PathHashes) > 0 && d.routeAllowsPayloadType(dres.PayloadType) {
		d.emitRouteCandidate(topology.RouteModePath, dres.PathHashes, now, "", receiverID, dres.PayloadType, dres.MessageHash, dres.SNRValues)
		return
	}

	if dres.OK && dres.Path != "" && (dres.RouteType == 0 || dres.RouteType == 1) &&
		dres.PayloadType != topology.PayloadTypeAdvert2 && dres.PayloadType != topology.PayloadTypeTrace {
		if hashes := splitPathHeader(dres.Path); len(hashes) > 0 {
			d.emitRouteCandidate(topology.RouteModePath, hashes, now, "", receiverID, dres.PayloadType, dres.MessageHash, dres.SNRValues)
			return
		}
	}

	if !strings.HasSuffix(topic, "/packets") {
		return
	}
	direction, _ := stringField(obj, "direction")
	msgHash, _ := stringField(obj, "message_hash")
	if msgHash == "" {
		msgHash = dres.MessageHash
	}
	if msgHash == "" || receiverID == "" {
		return
	}

	switch direction {
	case "tx":
		d.store.RecordMessageOrigin(msgHash, "tx", receiverID, "", now)
	case "rx":
		before, _ := d.store.MessageOrigin(msgHash)
		hadOneReceiver := len(before.Receivers) == 1
		originID := d.resolveOrigin(msgHash, obj, before)
		d.store.RecordMessageOrigin(msgHash, "rx", "", receiverID, now)
		if originID == "" || originID == receiverID {
			return
		}
		mo, _ := d.store.MessageOrigin(msgHash)
		mode := topology.RouteModeDirect
		if len(mo.Receivers) > 1 {
			mode = topology.RouteModeFanout
		}
		d.emitRouteCandidateDirect(mode, originID, receiverID, now, msgHash)

		// The receiver that seeded FirstRX never got its own route, since no
		// origin was resolvable yet when its message arrived. Now that a
		// second distinct receiver has turned this into a fanout, backfill
		// that route using the new receiver as the counterpart origin.
		if mode == topology.RouteModeFanout && mo.OriginID == "" && hadOneReceiver && len(mo.Receivers) == 2 {
			d.emitRouteCandidateDirect(mode, receiverID, originID, now, msgHash)
		}
	}
}

// resolveOrigin implements spec.md §3's origin precedence for an rx frame:
// an explicit JSON origin_id, then a tx frame already seen for this hash,
// then FirstRX — the earliest receiver of this hash — so that a fanout with
// no tx ever observed still has a plausible origin to route from.
func (d *Dispatcher) resolveOrigin(msgHash string, obj map[string]any, mo topology.MessageOrigin) string {
	if v, ok := stringField(obj, "origin_id"); ok && v != "" {
		return v
	}
	if mo.OriginID != "" {
		return mo.OriginID
	}
	return mo.FirstRX
}

func (d *Dispatcher) routeAllowsPayloadType(t int) bool {
	if len(d.routePayloadTypes) == 0 {
		return true
	}
	_, ok := d.routePayloadTypes[t]
	return ok
}

func (d *Dispatcher) emitRouteCandidate(mode topology.RouteMode, pathHashes []string, ts int64, originID, receiverID string, payloadType int, msgHash string, snr []float64) {
	d.bcast.Enqueue(topology.Event{
		Kind: topology.EventRoute,
		Route: &topology.RouteCandidate{
			ID:          routeID(msgHash, receiverID, ts),
			PathHashes:  pathHashes,
			Mode:        mode,
			TS:          ts,
			OriginID:    originID,
			ReceiverID:  receiverID,
			PayloadType: payloadType,
			MessageHash: msgHash,
			SNRValues:   snr,
		},
	})
}

func (d *Dispatcher) emitRouteCandidateDirect(mode topology.RouteMode, originID, receiverID string, ts int64, msgHash string) {
	d.bcast.Enqueue(topology.Event{
		Kind: topology.EventRoute,
		Route: &topology.RouteCandidate{
			ID:         routeID(msgHash, receiverID, ts),
			Mode:       mode,
			TS:         ts,
			OriginID:   originID,
			ReceiverID: receiverID,
			MessageHash: msgHash,
		},
	})
}

func routeID(msgHash, receiverID string, ts int64) string {
	if msgHash != "" && receiverID != "" {
		return fmt.Sprintf("%s-%s", msgHash, receiverID)
	}
	return fmt.Sprintf("route-%d", ts)
}

func toDeviceUpdate(upd *classifier.Update, topic string) *topology.DeviceUpdate {
	return &topology.DeviceUpdate{
		DeviceID: upd.DeviceID,
		Lat:      upd.Lat,
		Lon:      upd.Lon,
		TS:       upd.TS,
		Heading:  upd.Heading,
		Speed:    upd.Speed,
		RSSI:     upd.RSSI,
		SNR:      upd.SNR,
		Name:     upd.Name,
		Role:     upd.Role,
		RawTopic: topic,
	}
}

func deviceIDForRouting(result classifier.Result) string {
	if result.Update != nil {
		return result.Update.DeviceID
	}
	return result.Debug.OriginID
}

// Stats is a point-in-time snapshot of ingest counters for /stats.
type Stats struct {
	Received     int64
	ParseResults map[classifier.ResultTag]int64
	TopTopics    map[string]int64
	DecoderReady bool
	Dropped      uint64
}

func (d *Dispatcher) countResult(tag classifier.ResultTag) {
	d.parseResultsMu.Lock()
	d.parseResults[tag]++
	d.parseResultsMu.Unlock()
	metrics.ParseResultTotal.WithLabelValues(string(tag)).Inc()
}

// recordTrace appends a Trace to the bounded ring buffer backing
// /debug/last. A no-op when DebugTraceLimit is 0.
func (d *Dispatcher) recordTrace(topic string, now int64, result classifier.Result) {
	if d.traceLimit <= 0 {
		return
	}
	t := Trace{
		ReceivedAt: now,
		Topic:      topic,
		Tag:        result.Tag,
		OriginID:   result.Debug.OriginID,
		ParseError: result.Debug.ParseError,
		Preview:    result.Debug.Preview,
	}

	d.traceMu.Lock()
	d.trace = append(d.trace, t)
	if len(d.trace) > d.traceLimit {
		d.trace = d.trace[len(d.trace)-d.traceLimit:]
	}
	d.traceMu.Unlock()
}

// RecentTraces returns the most recent traces, newest last, for /debug/last.
func (d *Dispatcher) RecentTraces() []Trace {
	d.traceMu.Lock()
	defer d.traceMu.Unlock()
	out := make([]Trace, len(d.trace))
	copy(out, d.trace)
	return out
}

func (d *Dispatcher) countTopic(topic string) {
	d.topicsMu.Lock()
	d.topics[topic]++
	d.topicsMu.Unlock()
}

// Snapshot reports current ingest counters.
func (d *Dispatcher) Snapshot() Stats {
	d.parseResultsMu.Lock()
	parseResults := make(map[classifier.ResultTag]int64, len(d.parseResults))
	for k, v := range d.parseResults {
		parseResults[k] = v
	}
	d.parseResultsMu.Unlock()

	d.topicsMu.Lock()
	topTopics := make(map[string]int64, len(d.topics))
	for k, v := range d.topics {
		topTopics[k] = v
	}
	d.topicsMu.Unlock()

	ready := d.dec != nil && d.dec.Available()
	return Stats{
		Received:     d.received.Load(),
		ParseResults: parseResults,
		TopTopics:    topTopics,
		DecoderReady: ready,
		Dropped:      d.bcast.DroppedCount(),
	}
}
