package api

import (
	"sort"

	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/yellowcooln/meshmap-engine/internal/topology"
)

// SnapshotHandler serves the same full-state payload the WebSocket feed
// sends on connect, for clients that just want a one-shot poll.
func SnapshotHandler(store *topology.Store) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		WriteJSON(w, http.StatusOK, store.Snapshot())
	}
}

// nodeLastSeen is last_seen_ts for the updated_since delta filter: the most
// recent of the device's position timestamp and its last presence ping,
// since a presence-only packet ("online/offline") moves last-seen without
// touching the device's position (spec.md §6, §3).
func nodeLastSeen(store *topology.Store, d topology.Device) int64 {
	ts := d.TS
	if seen, ok := store.LastSeen(d.ID); ok {
		if su := seen.Unix(); su > ts {
			ts = su
		}
	}
	return ts
}

// NodesHandler lists every known device, sorted by device id. ?mode=delta
// combined with ?updated_since=<RFC3339> restricts the list to nodes whose
// last_seen_ts is at or after that time. ?format=flat returns {"data":[...]}
// instead of the default {"data":{"nodes":[...]}} envelope (spec.md §6).
func NodesHandler(store *topology.Store) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		snap := store.Snapshot()
		nodes := snap.Devices

		mode, _ := QueryString(r, "mode")
		if mode == "delta" {
			if since, ok := QueryTime(r, "updated_since"); ok {
				cutoff := since.Unix()
				filtered := make([]topology.Device, 0, len(nodes))
				for _, d := range nodes {
					if nodeLastSeen(store, d) >= cutoff {
						filtered = append(filtered, d)
					}
				}
				nodes = filtered
			}
		}

		sort.Slice(nodes, func(i, j int) bool { return nodes[i].ID < nodes[j].ID })

		format, _ := QueryString(r, "format")
		if format == "flat" {
			WriteJSON(w, http.StatusOK, map[string]any{"data": nodes})
			return
		}
		WriteJSON(w, http.StatusOK, map[string]any{"data": map[string]any{"nodes": nodes}})
	}
}

// PeerEntry is one peer's incoming/outgoing tally in a device's histogram.
type PeerEntry struct {
	PeerID   string `json:"peer_id"`
	PeerName string `json:"peer_name,omitempty"`
	Incoming int    `json:"incoming"`
	Outgoing int    `json:"outgoing"`
	Total    int    `json:"total"`
}

// PeerHandler returns {device_id}'s incoming/outgoing peer histogram,
// derived from the store's history segments (spec.md §6): a segment whose
// AID is the requested device counts as outgoing to its BID, a segment
// whose BID is the requested device counts as incoming from its AID.
// Peers whose current name matches forcedOnlineNames are excluded, since
// those nodes are synthetically always-on and would otherwise dominate the
// histogram. ?limit=N caps the number of peers returned, highest total
// first.
func PeerHandler(store *topology.Store, forcedOnlineNames []string) http.HandlerFunc {
	excluded := make(map[string]struct{}, len(forcedOnlineNames))
	for _, name := range forcedOnlineNames {
		excluded[name] = struct{}{}
	}

	return func(w http.ResponseWriter, r *http.Request) {
		id := chi.URLParam(r, "device_id")
		if !store.DeviceExists(id) {
			WriteError(w, http.StatusNotFound, "device not found")
			return
		}

		tallies := make(map[string]*PeerEntry)
		get := func(peerID string) *PeerEntry {
			e, ok := tallies[peerID]
			if !ok {
				e = &PeerEntry{PeerID: peerID}
				if d, ok := store.Device(peerID); ok {
					e.PeerName = d.Name
				}
				tallies[peerID] = e
			}
			return e
		}

		for _, seg := range store.HistorySegments() {
			switch {
			case seg.AID == id && seg.BID != id:
				get(seg.BID).Outgoing++
			case seg.BID == id && seg.AID != id:
				get(seg.AID).Incoming++
			}
		}

		peers := make([]PeerEntry, 0, len(tallies))
		for _, e := range tallies {
			if _, blocked := excluded[e.PeerName]; blocked {
				continue
			}
			e.Total = e.Incoming + e.Outgoing
			peers = append(peers, *e)
		}
		sort.Slice(peers, func(i, j int) bool {
			if peers[i].Total != peers[j].Total {
				return peers[i].Total > peers[j].Total
			}
			return peers[i].PeerID < peers[j].PeerID
		})

		if limit, ok := QueryInt(r, "limit"); ok && limit >= 0 && limit < len(peers) {
			peers = peers[:limit]
		}

		WriteJSON(w, http.StatusOK, map[string]any{
			"device_id": id,
			"peers":     peers,
		})
	}
}
