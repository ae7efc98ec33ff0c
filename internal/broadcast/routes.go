package broadcast

import "github.com/yellowcooln/meshmap-engine/internal/topology"

// ResolveRoutePoints implements spec.md §4.F's three-step route point
// resolution. It never mutates the store; it only reads current device
// coordinates and the node-hash index.
func ResolveRoutePoints(store *topology.Store, cand topology.RouteCandidate) (points []topology.RoutePoint, pointIDs []string, mode topology.RouteMode, ok bool) {
	if len(cand.PathHashes) > 0 {
		pts, ids := resolveFromPathHashes(store, cand.PathHashes, cand.ReceiverID)
		if len(pts) == 1 && cand.ReceiverID != "" {
			if rlat, rlon, rok := store.DeviceCoords(cand.ReceiverID); rok {
				rp := topology.RoutePoint{Lat: rlat, Lon: rlon, DeviceID: cand.ReceiverID}
				if !samePoint(pts[0], rp) {
					pts = append(pts, rp)
					ids = append(ids, rp.DeviceID)
				}
			}
		}
		if len(pts) >= 2 {
			if !allWithinRadius(store, pts) {
				return nil, nil, "", false
			}
			return pts, ids, topology.RouteModePath, true
		}
	}

	if cand.Mode == topology.RouteModeFanout && cand.OriginID != "" && cand.ReceiverID != "" && cand.OriginID != cand.ReceiverID {
		if pts, ids, ok := twoPointRoute(store, cand.OriginID, cand.ReceiverID); ok {
			return pts, ids, topology.RouteModeFanout, true
		}
	}

	if cand.OriginID != "" && cand.ReceiverID != "" {
		if pts, ids, ok := twoPointRoute(store, cand.OriginID, cand.ReceiverID); ok {
			return pts, ids, topology.RouteModeDirect, true
		}
	}

	return nil, nil, "", false
}

// resolveFromPathHashes resolves each 2-hex hash to a live device id. When
// receiverID is known and live, a hash that collides across multiple
// candidate devices is resolved to the candidate closest to the receiver's
// current position rather than whichever device most recently reported
// under that prefix (spec.md §9).
func resolveFromPathHashes(store *topology.Store, hashes []string, receiverID string) (points []topology.RoutePoint, ids []string) {
	nearLat, nearLon, hasNear := store.DeviceCoords(receiverID)

	for _, h := range hashes {
		var id string
		var ok bool
		if hasNear {
			id, ok = store.ResolveNodeHashNear(h, nearLat, nearLon)
		} else {
			id, ok = store.ResolveNodeHash(h)
		}
		if !ok {
			continue
		}
		lat, lon, ok := store.DeviceCoords(id)
		if !ok {
			continue
		}
		p := topology.RoutePoint{Lat: lat, Lon: lon, DeviceID: id}
		if len(points) > 0 && samePoint(points[len(points)-1], p) {
			continue
		}
		points = append(points, p)
		ids = append(ids, id)
	}
	return points, ids
}

func twoPointRoute(store *topology.Store, originID, receiverID string) ([]topology.RoutePoint, []string, bool) {
	olat, olon, ook := store.DeviceCoords(originID)
	rlat, rlon, rok := store.DeviceCoords(receiverID)
	if !ook || !rok {
		return nil, nil, false
	}
	pts := []topology.RoutePoint{
		{Lat: olat, Lon: olon, DeviceID: originID},
		{Lat: rlat, Lon: rlon, DeviceID: receiverID},
	}
	if !allWithinRadius(store, pts) {
		return nil, nil, false
	}
	return pts, []string{originID, receiverID}, true
}

func samePoint(a, b topology.RoutePoint) bool {
	return a.Lat == b.Lat && a.Lon == b.Lon
}

func allWithinRadius(store *topology.Store, points []topology.RoutePoint) bool {
	for _, p := range points {
		if !store.ValidLocation(p.Lat, p.Lon) {
			return false
		}
	}
	return true
}
