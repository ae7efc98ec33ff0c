package topology

// EventKind tags an inbound mutation request processed by the broadcaster's
// single-writer loop (spec.md §4.F).
type EventKind string

const (
	EventDevice       EventKind = "device"
	EventDeviceSeen   EventKind = "device_seen"
	EventDeviceName   EventKind = "device_name"
	EventDeviceRole   EventKind = "device_role"
	EventDeviceRemove EventKind = "device_remove"
	EventRoute        EventKind = "route"
)

// DeviceUpdate is the normalized output of the classifier, queued as a
// Event and applied by the broadcaster via Store.UpsertDevice.
type DeviceUpdate struct {
	DeviceID string
	Lat      float64
	Lon      float64
	TS       int64
	Heading  *float64
	Speed    *float64
	RSSI     *float64
	SNR      *float64
	Name     string
	Role     Role
	RawTopic string
}

// RouteCandidate is a route before point resolution, as emitted by the
// ingest dispatcher; the broadcaster resolves Points from PathHashes/
// OriginID/ReceiverID per spec.md §4.F "Route point resolution".
type RouteCandidate struct {
	ID          string
	PathHashes  []string
	Mode        RouteMode
	TS          int64
	OriginID    string
	ReceiverID  string
	PayloadType int
	MessageHash string
	SNRValues   []float64
}

// Event is one unit of work placed on the broadcaster's queue by the
// ingest dispatcher (MQTT callback thread) or the reaper.
type Event struct {
	Kind EventKind

	Device *DeviceUpdate

	DeviceID string // device_seen, device_name/role lookups, device_remove
	Name     string // device_name
	Role     Role   // device_role
	RoleSrc  RoleSource

	Route *RouteCandidate
}
