package broadcast

import (
	"testing"

	"github.com/yellowcooln/meshmap-engine/internal/topology"
)

func TestResolveFromPathHashesPrefersCandidateNearReceiver(t *testing.T) {
	store := testStore()
	// aa1 and aa2 collide on the "aa" node-hash prefix. aa2 reported most
	// recently, so the plain index would resolve "aa" to aa2 -- but the
	// receiver sits right next to aa1, so the receiver-aware lookup should
	// prefer aa1 instead.
	store.UpsertDevice(topology.DeviceUpdate{DeviceID: "aa1", Lat: 1.000, Lon: 1.000, TS: 1})
	store.UpsertDevice(topology.DeviceUpdate{DeviceID: "aa2", Lat: 1.200, Lon: 1.200, TS: 2})
	store.UpsertDevice(topology.DeviceUpdate{DeviceID: "rx1", Lat: 1.001, Lon: 1.001, TS: 3})

	if id, ok := store.ResolveNodeHash("aa"); !ok || id != "aa2" {
		t.Fatalf("ResolveNodeHash(aa) = (%q,%v), want (aa2,true) as the most-recent mapping", id, ok)
	}

	points, ids, mode, ok := ResolveRoutePoints(store, topology.RouteCandidate{
		PathHashes: []string{"aa"},
		ReceiverID: "rx1",
	})
	if !ok {
		t.Fatal("ResolveRoutePoints returned ok=false")
	}
	if mode != topology.RouteModePath {
		t.Errorf("mode = %q, want path", mode)
	}
	if len(ids) == 0 || ids[0] != "aa1" {
		t.Fatalf("ids = %v, want aa1 preferred over aa2 by receiver proximity", ids)
	}
	if len(points) != 2 || points[1].DeviceID != "rx1" {
		t.Fatalf("points = %+v, want aa1 followed by the receiver rx1", points)
	}
}

func TestResolveFromPathHashesFallsBackWithoutReceiverContext(t *testing.T) {
	store := testStore()
	store.UpsertDevice(topology.DeviceUpdate{DeviceID: "bb1", Lat: 1.000, Lon: 1.000, TS: 1})
	store.UpsertDevice(topology.DeviceUpdate{DeviceID: "bb2", Lat: 1.001, Lon: 1.001, TS: 2})

	_, ids := resolveFromPathHashes(store, []string{"bb"}, "unknown-device")
	if len(ids) == 0 || ids[0] != "bb2" {
		t.Fatalf("ids = %v, want the most-recent mapping bb2 when the receiver has no known coords", ids)
	}
}
