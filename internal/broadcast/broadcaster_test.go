package broadcast

import (
	"context"
	"testing"
	"time"

	"github.com/yellowcooln/meshmap-engine/internal/topology"
)

func testStore() *topology.Store {
	return topology.New(topology.Limits{
		TrailLen:                10,
		DeviceTTLSeconds:        3600,
		RouteTTLSeconds:         3600,
		MapRadiusKM:             50,
		MapStartLat:             1,
		MapStartLon:             1,
		RouteHistoryEnabled:     true,
		RouteHistoryHours:       24,
		RouteHistoryMaxSegments: 100,
	})
}

func runBroadcaster(t *testing.T, b *Broadcaster) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	go b.Run(ctx)
}

func TestBroadcasterAppliesDeviceEvent(t *testing.T) {
	store := testStore()
	hub := NewHub(testLogger())
	b := NewBroadcaster(store, hub, 16, testLogger())
	runBroadcaster(t, b)

	b.Enqueue(topology.Event{
		Kind:   topology.EventDevice,
		Device: &topology.DeviceUpdate{DeviceID: "n1", Lat: 1.001, Lon: 1.001, TS: 1},
	})

	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		if store.DeviceExists("n1") {
			return
		}
		time.Sleep(time.Millisecond)
	}
	t.Fatal("device never appeared after EventDevice")
}

func TestBroadcasterDeviceSeenDroppedForEvictedDevice(t *testing.T) {
	store := testStore()
	hub := NewHub(testLogger())
	b := NewBroadcaster(store, hub, 16, testLogger())
	runBroadcaster(t, b)

	b.Enqueue(topology.Event{Kind: topology.EventDeviceSeen, DeviceID: "ghost", Device: &topology.DeviceUpdate{TS: 1}})

	time.Sleep(20 * time.Millisecond)
	if _, ok := store.LastSeen("ghost"); ok {
		t.Error("device_seen for a nonexistent device must be silently dropped")
	}
}

func TestBroadcasterNameAndRoleDeltas(t *testing.T) {
	store := testStore()
	store.UpsertDevice(topology.DeviceUpdate{DeviceID: "n1", Lat: 1.001, Lon: 1.001, TS: 1})
	hub := NewHub(testLogger())
	b := NewBroadcaster(store, hub, 16, testLogger())
	runBroadcaster(t, b)

	b.Enqueue(topology.Event{Kind: topology.EventDeviceName, DeviceID: "n1", Name: "Tower"})
	b.Enqueue(topology.Event{Kind: topology.EventDeviceRole, DeviceID: "n1", Role: topology.RoleRepeater, RoleSrc: topology.RoleSourceExplicit})

	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		dev, _ := store.Device("n1")
		if dev.Name == "Tower" && dev.Role == topology.RoleRepeater {
			return
		}
		time.Sleep(time.Millisecond)
	}
	t.Fatal("name/role deltas were not applied")
}

func TestBroadcasterDeviceRemoveEvicts(t *testing.T) {
	store := testStore()
	store.UpsertDevice(topology.DeviceUpdate{DeviceID: "n1", Lat: 1.001, Lon: 1.001, TS: 1})
	hub := NewHub(testLogger())
	b := NewBroadcaster(store, hub, 16, testLogger())
	runBroadcaster(t, b)

	b.Enqueue(topology.Event{Kind: topology.EventDeviceRemove, DeviceID: "n1"})

	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		if !store.DeviceExists("n1") {
			return
		}
		time.Sleep(time.Millisecond)
	}
	t.Fatal("device was never evicted")
}

func TestBroadcasterRoutePathModeRecordsHistorySegment(t *testing.T) {
	store := testStore()
	store.UpsertDevice(topology.DeviceUpdate{DeviceID: "aa1", Lat: 1.001, Lon: 1.001, TS: 1})
	store.UpsertDevice(topology.DeviceUpdate{DeviceID: "bb1", Lat: 1.002, Lon: 1.002, TS: 1})
	hub := NewHub(testLogger())
	b := NewBroadcaster(store, hub, 16, testLogger())

	var captured []topology.HistorySegment
	b.OnHistorySegments = func(segs []topology.HistorySegment) { captured = append(captured, segs...) }
	runBroadcaster(t, b)

	// A path-mode route over two resolvable node-hash prefixes, so
	// applyRoute folds it into the history-edge aggregation.
	b.Enqueue(topology.Event{
		Kind: topology.EventRoute,
		Route: &topology.RouteCandidate{
			ID:          "route1",
			PathHashes:  []string{"aa", "bb"},
			Mode:        topology.RouteModePath,
			TS:          1,
			MessageHash: "hash1",
		},
	})

	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		if _, ok := store.Route("route1"); ok {
			break
		}
		time.Sleep(time.Millisecond)
	}
	if _, ok := store.Route("route1"); !ok {
		t.Fatal("route was never recorded")
	}
	if _, ok := store.HistoryEdge(topology.NewEdgeKey("aa1", "bb1")); !ok {
		t.Error("expected a history edge between aa1 and bb1")
	}
	if len(captured) == 0 {
		t.Error("expected OnHistorySegments to be invoked for a path-mode route")
	}
}

func TestBroadcasterEnqueueDropsOnFullQueue(t *testing.T) {
	store := testStore()
	hub := NewHub(testLogger())
	b := NewBroadcaster(store, hub, 0, testLogger())
	// Queue capacity 0 with no Run draining it: every Enqueue drops.

	b.Enqueue(topology.Event{Kind: topology.EventDeviceSeen, DeviceID: "x"})
	b.Enqueue(topology.Event{Kind: topology.EventDeviceSeen, DeviceID: "y"})

	if got := b.DroppedCount(); got != 2 {
		t.Errorf("DroppedCount() = %d, want 2", got)
	}
}

func TestBroadcastRouteRemoveAndHistoryEdgesRemoveNoopOnEmpty(t *testing.T) {
	store := testStore()
	hub := NewHub(testLogger())
	b := NewBroadcaster(store, hub, 16, testLogger())

	// Empty id lists must be a no-op (no broadcast attempted), which in
	// particular must not panic with zero subscribers registered.
	b.BroadcastRouteRemove(nil)
	b.BroadcastHistoryEdgesRemove(nil)
}
