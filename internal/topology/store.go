package topology

import (
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/yellowcooln/meshmap-engine/internal/geo"
)

// Store is the single authoritative owner of all mesh state. Every method
// takes mu, so any goroutine may call it: the broadcaster's loop applies
// device/route/history events, while the reaper, the ingest dispatcher's
// message-origin cache and the persistence loaders also write directly.
type Store struct {
	mu sync.RWMutex

	devices map[string]*Device
	trails  map[string][]TrailPoint
	routes  map[string]*Route

	historyEdges    map[EdgeKey]*HistoryEdge
	historySegments []HistorySegment

	heatEvents []HeatEvent

	messageOrigins map[string]*MessageOrigin

	nodeHashIndex      map[string]string   // 2-hex prefix -> live device id
	nodeHashCandidates map[string][]string // 2-hex prefix -> every device id ever seen with it

	names       map[string]string
	roles       map[string]Role
	roleSources map[string]RoleSource

	seenDevices map[string]time.Time

	limits Limits

	dirty atomic.Bool
}

// ConsumeDirty reports whether the store has been mutated since the last
// call, clearing the flag atomically. The Persistence state-saver uses this
// to skip a disk write when nothing changed (spec.md §4.I "if the dirty
// flag is set").
func (s *Store) ConsumeDirty() bool {
	return s.dirty.CompareAndSwap(true, false)
}

// New creates an empty Store governed by the given Limits.
func New(limits Limits) *Store {
	return &Store{
		devices:            make(map[string]*Device),
		trails:             make(map[string][]TrailPoint),
		routes:             make(map[string]*Route),
		historyEdges:       make(map[EdgeKey]*HistoryEdge),
		messageOrigins:     make(map[string]*MessageOrigin),
		nodeHashIndex:      make(map[string]string),
		nodeHashCandidates: make(map[string][]string),
		names:              make(map[string]string),
		roles:              make(map[string]Role),
		roleSources:        make(map[string]RoleSource),
		seenDevices:        make(map[string]time.Time),
		limits:             limits,
	}
}

// Limits returns the store's configured TTL/size policy.
func (s *Store) Limits() Limits {
	return s.limits
}

func nodeHashPrefix(deviceID string) string {
	if len(deviceID) < 2 {
		return ""
	}
	return deviceID[:2]
}

// rebuildNodeHashIndexLocked recomputes nodeHashIndex from the live device
// set. Per spec.md §4.C the index must resolve to a currently-live device;
// the full candidate list is retained alongside this most-recent mapping so
// ResolveNodeHashNear can disambiguate a prefix collision using receiver
// context (spec.md §9).
func (s *Store) rebuildNodeHashIndexLocked() {
	s.nodeHashIndex = make(map[string]string, len(s.nodeHashIndex))
	for id, dev := range s.devices {
		prefix := nodeHashPrefix(id)
		if prefix == "" {
			continue
		}
		if existing, ok := s.nodeHashIndex[prefix]; !ok || s.devices[existing].TS <= dev.TS {
			s.nodeHashIndex[prefix] = id
		}
	}
}

func (s *Store) recordNodeHashCandidateLocked(deviceID string) {
	prefix := nodeHashPrefix(deviceID)
	if prefix == "" {
		return
	}
	for _, id := range s.nodeHashCandidates[prefix] {
		if id == deviceID {
			return
		}
	}
	s.nodeHashCandidates[prefix] = append(s.nodeHashCandidates[prefix], deviceID)
}

// validLocation reports whether (lat,lon) passes every Device/Route
// coordinate invariant from spec.md §3/§8: non-zero, in range, and within
// the configured map radius when one is set.
func (s *Store) validLocation(lat, lon float64) bool {
	if geo.IsZero(lat, lon) {
		return false
	}
	if !geo.ValidLatLon(lat, lon) {
		return false
	}
	return geo.WithinRadiusKM(lat, lon, s.limits.MapStartLat, s.limits.MapStartLon, s.limits.MapRadiusKM)
}

// UpsertDevice inserts or replaces device state, appends a trail sample, and
// refreshes name/role and node-hash indexes. Returns false (no-op) if the
// coordinates fail the store's invariants.
func (s *Store) UpsertDevice(u DeviceUpdate) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.validLocation(u.Lat, u.Lon) {
		return false
	}

	_, existed := s.devices[u.DeviceID]

	dev := &Device{
		ID:       u.DeviceID,
		Lat:      u.Lat,
		Lon:      u.Lon,
		TS:       u.TS,
		Heading:  u.Heading,
		Speed:    u.Speed,
		RSSI:     u.RSSI,
		SNR:      u.SNR,
		RawTopic: u.RawTopic,
	}
	if name, ok := s.names[u.DeviceID]; ok {
		dev.Name = name
	}
	if u.Name != "" {
		s.names[u.DeviceID] = u.Name
		dev.Name = u.Name
	}
	if role, ok := s.roles[u.DeviceID]; ok {
		dev.Role = role
	}
	if u.Role != "" && s.roleSources[u.DeviceID] != RoleSourceOverride {
		s.roles[u.DeviceID] = u.Role
		s.roleSources[u.DeviceID] = RoleSourceExplicit
		dev.Role = u.Role
	}

	s.devices[u.DeviceID] = dev

	if s.limits.TrailLen > 0 {
		trail := s.trails[u.DeviceID]
		trail = append(trail, TrailPoint{Lat: u.Lat, Lon: u.Lon, TS: u.TS})
		if len(trail) > s.limits.TrailLen {
			trail = trail[len(trail)-s.limits.TrailLen:]
		}
		s.trails[u.DeviceID] = trail
	}

	if !existed {
		s.recordNodeHashCandidateLocked(u.DeviceID)
	}
	s.rebuildNodeHashIndexLocked()
	s.dirty.Store(true)

	return true
}

// EvictDevice removes a device, its trail, and its presence timestamp, then
// rebuilds the node-hash index.
func (s *Store) EvictDevice(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.devices[id]; !ok {
		return false
	}
	delete(s.devices, id)
	delete(s.trails, id)
	delete(s.seenDevices, id)
	s.rebuildNodeHashIndexLocked()
	s.dirty.Store(true)
	return true
}

// DeviceExists reports whether a device is currently live.
func (s *Store) DeviceExists(id string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.devices[id]
	return ok
}

// Device returns a copy of the device's current state, if live.
func (s *Store) Device(id string) (Device, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	d, ok := s.devices[id]
	if !ok {
		return Device{}, false
	}
	return *d, true
}

// DeviceCoords returns a device's current coordinates, if live.
func (s *Store) DeviceCoords(id string) (lat, lon float64, ok bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	d, found := s.devices[id]
	if !found {
		return 0, 0, false
	}
	return d.Lat, d.Lon, true
}

// ResolveNodeHash returns the currently-live device id for a 2-hex prefix.
func (s *Store) ResolveNodeHash(prefix string) (string, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	id, ok := s.nodeHashIndex[prefix]
	return id, ok
}

// ResolveNodeHashNear returns the live device id for a 2-hex prefix,
// preferring a candidate from nodeHashCandidates whose current position is
// closest to (nearLat, nearLon) over the plain most-recent mapping in
// nodeHashIndex. This disambiguates a prefix collision using the receiver's
// position as context (spec.md §9), falling back to ResolveNodeHash when no
// candidate beats it or none are live.
func (s *Store) ResolveNodeHashNear(prefix string, nearLat, nearLon float64) (string, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	best, bestOK := s.nodeHashIndex[prefix]
	bestDist := -1.0
	if bestOK {
		if dev, ok := s.devices[best]; ok {
			bestDist = geo.HaversineKM(dev.Lat, dev.Lon, nearLat, nearLon)
		}
	}

	for _, id := range s.nodeHashCandidates[prefix] {
		dev, ok := s.devices[id]
		if !ok {
			continue
		}
		d := geo.HaversineKM(dev.Lat, dev.Lon, nearLat, nearLon)
		if bestDist < 0 || d < bestDist {
			best, bestOK, bestDist = id, true, d
		}
	}
	return best, bestOK
}

// SetName applies a name-table update and mirrors it onto the live device
// if present.
func (s *Store) SetName(id, name string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.names[id] = name
	if d, ok := s.devices[id]; ok {
		d.Name = name
	}
	s.dirty.Store(true)
}

// SetRole applies a role-table update, honoring the override-never-
// downgraded invariant from spec.md §3.
func (s *Store) SetRole(id string, role Role, src RoleSource) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.roleSources[id] == RoleSourceOverride && src != RoleSourceOverride {
		return
	}
	s.roles[id] = role
	s.roleSources[id] = src
	if d, ok := s.devices[id]; ok {
		d.Role = role
	}
	s.dirty.Store(true)
}

// MarkSeen records a presence timestamp for a device. Returns false if the
// device does not exist (spec.md §5: "a device_seen event for a device that
// was just evicted is silently dropped").
func (s *Store) MarkSeen(id string, ts int64) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.devices[id]; !ok {
		return false
	}
	s.seenDevices[id] = timeFromUnix(ts)
	s.dirty.Store(true)
	return true
}

// LastSeen returns a device's presence timestamp.
func (s *Store) LastSeen(id string) (time.Time, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	t, ok := s.seenDevices[id]
	return t, ok
}

// RecordRoute inserts a transient route and appends heat points (skipping
// advert payload types per spec.md §3).
func (s *Store) RecordRoute(r Route) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, p := range r.Points {
		if !s.validLocation(p.Lat, p.Lon) {
			return
		}
	}
	s.routes[r.ID] = &r
	if r.PayloadType == PayloadTypeAdvert1 {
		return
	}
	for _, p := range r.Points {
		s.heatEvents = append(s.heatEvents, HeatEvent{Lat: p.Lat, Lon: p.Lon, TS: r.TS, Weight: 1})
	}
}

// Route returns a copy of a transient route by id.
func (s *Store) Route(id string) (Route, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	r, ok := s.routes[id]
	if !ok {
		return Route{}, false
	}
	return *r, true
}

// MessageOrigin returns the cached origin entry for a message hash.
func (s *Store) MessageOrigin(hash string) (MessageOrigin, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	mo, ok := s.messageOrigins[hash]
	if !ok {
		return MessageOrigin{}, false
	}
	cp := *mo
	cp.Receivers = make(map[string]struct{}, len(mo.Receivers))
	for k := range mo.Receivers {
		cp.Receivers[k] = struct{}{}
	}
	return cp, true
}

// RecordMessageOrigin seeds or extends the message-origin cache entry for a
// hash, per spec.md §3's tx/rx correlation rules.
func (s *Store) RecordMessageOrigin(hash, direction, originID, receiverID string, ts int64) {
	if hash == "" {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	mo, ok := s.messageOrigins[hash]
	if !ok {
		mo = &MessageOrigin{MessageHash: hash, Receivers: make(map[string]struct{}), TS: ts}
		s.messageOrigins[hash] = mo
	}
	mo.TS = ts
	if direction == "tx" && originID != "" && mo.OriginID == "" {
		mo.OriginID = originID
	}
	if direction == "rx" && receiverID != "" {
		if mo.FirstRX == "" {
			mo.FirstRX = receiverID
		}
		mo.Receivers[receiverID] = struct{}{}
	}
}

// Snapshot is a deep, JSON-ready copy of the store's full state, the payload
// sent to a newly connected WebSocket client (spec.md §4.H).
type Snapshot struct {
	Devices             []Device                  `json:"devices"`
	Trails              map[string][]TrailPoint   `json:"trails"`
	Routes              []Route                   `json:"routes"`
	HistoryEdges        []HistoryEdge             `json:"history_edges"`
	HistoryWindowSeconds float64                  `json:"history_window_seconds"`
	Heat                []HeatEvent               `json:"heat"`
	ServerTime          int64                     `json:"server_time"`
}

// Snapshot returns a deep copy of the store suitable for serializing to a
// new subscriber.
func (s *Store) Snapshot() Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()

	devices := make([]Device, 0, len(s.devices))
	for _, d := range s.devices {
		devices = append(devices, *d)
	}
	sort.Slice(devices, func(i, j int) bool { return devices[i].ID < devices[j].ID })

	trails := make(map[string][]TrailPoint, len(s.trails))
	for id, t := range s.trails {
		cp := make([]TrailPoint, len(t))
		copy(cp, t)
		trails[id] = cp
	}

	routes := make([]Route, 0, len(s.routes))
	for _, r := range s.routes {
		routes = append(routes, *r)
	}

	edges := make([]HistoryEdge, 0, len(s.historyEdges))
	for _, e := range s.historyEdges {
		cp := *e
		cp.Recent = append([]HistorySample(nil), e.Recent...)
		edges = append(edges, cp)
	}

	heat := make([]HeatEvent, len(s.heatEvents))
	copy(heat, s.heatEvents)

	return Snapshot{
		Devices:              devices,
		Trails:               trails,
		Routes:               routes,
		HistoryEdges:         edges,
		HistoryWindowSeconds: s.limits.RouteHistoryHours * 3600,
		Heat:                 heat,
		ServerTime:           nowUnix(),
	}
}

// Trail returns a copy of a device's current trail.
func (s *Store) Trail(id string) []TrailPoint {
	s.mu.RLock()
	defer s.mu.RUnlock()
	t := s.trails[id]
	out := make([]TrailPoint, len(t))
	copy(out, t)
	return out
}

// ValidLocation reports whether (lat,lon) passes the store's zero/range/
// radius invariants, exported for route point resolution in the
// broadcaster.
func (s *Store) ValidLocation(lat, lon float64) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.validLocation(lat, lon)
}

// HistoryEdge returns a copy of one edge by key, if present.
func (s *Store) HistoryEdge(key EdgeKey) (HistoryEdge, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	e, ok := s.historyEdges[key]
	if !ok {
		return HistoryEdge{}, false
	}
	return *e, true
}

// DeviceIDs returns every currently-live device id (used by tests and the
// snapshot/delta equivalence check in spec.md §8).
func (s *Store) DeviceIDs() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	ids := make([]string, 0, len(s.devices))
	for id := range s.devices {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}
