package broadcast

import (
	"testing"
	"time"

	"github.com/yellowcooln/meshmap-engine/internal/topology"
)

func TestReaperEvictsStaleDevices(t *testing.T) {
	store := topology.New(topology.Limits{
		DeviceTTLSeconds: 100,
		MapRadiusKM:      50,
		MapStartLat:      1,
		MapStartLon:      1,
	})
	store.UpsertDevice(topology.DeviceUpdate{DeviceID: "n1", Lat: 1.001, Lon: 1.001, TS: 1})

	hub := NewHub(testLogger())
	bcast := NewBroadcaster(store, hub, 16, testLogger())
	runBroadcaster(t, bcast)

	r := NewReaper(store, bcast, testLogger())
	r.now = func() int64 { return 1000 } // far past TS=1 + DeviceTTLSeconds=100
	r.sweep()

	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		if !store.DeviceExists("n1") {
			return
		}
		time.Sleep(time.Millisecond)
	}
	t.Fatal("stale device was never evicted")
}

func TestReaperKeepsFreshDevices(t *testing.T) {
	store := topology.New(topology.Limits{
		DeviceTTLSeconds: 1000,
		MapRadiusKM:      50,
		MapStartLat:      1,
		MapStartLon:      1,
	})
	store.UpsertDevice(topology.DeviceUpdate{DeviceID: "n1", Lat: 1.001, Lon: 1.001, TS: 900})

	hub := NewHub(testLogger())
	bcast := NewBroadcaster(store, hub, 16, testLogger())
	runBroadcaster(t, bcast)

	r := NewReaper(store, bcast, testLogger())
	r.now = func() int64 { return 1000 }
	r.sweep()

	time.Sleep(20 * time.Millisecond)
	if !store.DeviceExists("n1") {
		t.Error("device within TTL should not be evicted")
	}
}

func TestReaperRemovesExpiredRoutes(t *testing.T) {
	store := topology.New(topology.Limits{MapRadiusKM: 50, MapStartLat: 1, MapStartLon: 1})
	store.RecordRoute(topology.Route{
		ID:        "r1",
		Points:    []topology.RoutePoint{{Lat: 1.001, Lon: 1.001}, {Lat: 1.002, Lon: 1.002}},
		TS:        1,
		ExpiresAt: 10,
	})

	hub := NewHub(testLogger())
	bcast := NewBroadcaster(store, hub, 16, testLogger())

	r := NewReaper(store, bcast, testLogger())
	r.now = func() int64 { return 11 }
	r.sweep()

	if _, ok := store.Route("r1"); ok {
		t.Error("expired route should have been removed")
	}
}

func TestReaperPrunesHistoryEdgesWhenEnabled(t *testing.T) {
	store := topology.New(topology.Limits{
		MapRadiusKM:         50,
		MapStartLat:         1,
		MapStartLon:         1,
		RouteHistoryEnabled: true,
		RouteHistoryHours:   1,
	})
	store.RecordHistorySegments([]topology.HistorySegment{{AID: "a", BID: "b", TS: 1000, Mode: topology.RouteModePath}}, 0)

	hub := NewHub(testLogger())
	bcast := NewBroadcaster(store, hub, 16, testLogger())

	r := NewReaper(store, bcast, testLogger())
	r.now = func() int64 { return 1000 + 3600 + 1 }
	r.sweep()

	if _, ok := store.HistoryEdge(topology.NewEdgeKey("a", "b")); ok {
		t.Error("expired history edge should have been pruned")
	}
}
