package topology

// RecordHistorySegments folds a set of (a,b) observations into the store's
// long-lived history edges and appends them to the bounded segment log.
// Segments whose mode or payload type are not in the configured allowlist
// are dropped before aggregation (spec.md §4.D).
func (s *Store) RecordHistorySegments(segs []HistorySegment, payloadType int) {
	if !s.limits.RouteHistoryEnabled || len(segs) == 0 {
		return
	}
	if len(s.limits.RouteHistoryPayloadTypes) > 0 {
		if _, ok := s.limits.RouteHistoryPayloadTypes[payloadType]; !ok {
			return
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	for _, seg := range segs {
		if len(s.limits.RouteHistoryAllowedModes) > 0 {
			if _, ok := s.limits.RouteHistoryAllowedModes[seg.Mode]; !ok {
				continue
			}
		}
		s.appendSegmentLocked(seg)
	}
}

func (s *Store) appendSegmentLocked(seg HistorySegment) {
	s.historySegments = append(s.historySegments, seg)
	if max := s.limits.RouteHistoryMaxSegments; max > 0 && len(s.historySegments) > max {
		drop := len(s.historySegments) - max
		s.historySegments = s.historySegments[drop:]
	}

	key := NewEdgeKey(seg.AID, seg.BID)
	edge, ok := s.historyEdges[key]
	if !ok {
		edge = &HistoryEdge{Key: key, AID: key.A, BID: key.B}
		if d, found := s.devices[key.A]; found {
			edge.A = RoutePoint{Lat: d.Lat, Lon: d.Lon, DeviceID: key.A}
		}
		if d, found := s.devices[key.B]; found {
			edge.B = RoutePoint{Lat: d.Lat, Lon: d.Lon, DeviceID: key.B}
		}
		s.historyEdges[key] = edge
	}

	edge.Count++
	if seg.TS > edge.LastTS {
		edge.LastTS = seg.TS
	}
	// a/b are fixed at edge creation time and never updated by later segments,
	// even if the device has since moved — count is a durable aggregate
	// independent of current position.

	sample := HistorySample{TS: seg.TS, Mode: seg.Mode, MessageHash: seg.MessageHash}
	limit := s.limits.HistoryEdgeSampleLimit
	if limit <= 0 {
		edge.Recent = append(edge.Recent, sample)
		return
	}
	if len(edge.Recent) < limit {
		edge.Recent = append(edge.Recent, sample)
		return
	}
	// Fixed-capacity ring: drop the oldest sample, append the newest, same
	// idiom as the bounded slice trimming used for trails.
	copy(edge.Recent, edge.Recent[1:])
	edge.Recent[limit-1] = sample
}

// PruneHistoryEdges drops history segments and edges older than the
// configured window, per spec.md §4.D's "prune by age" rule. Called from
// the Reaper's sweep; returns the keys of edges removed so the caller can
// broadcast history_edges_remove.
func (s *Store) PruneHistoryEdges(nowTS int64) []EdgeKey {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.limits.RouteHistoryHours <= 0 {
		return nil
	}
	cutoff := nowTS - int64(s.limits.RouteHistoryHours*3600)

	kept := s.historySegments[:0]
	for _, seg := range s.historySegments {
		if seg.TS >= cutoff {
			kept = append(kept, seg)
		}
	}
	s.historySegments = kept

	var removed []EdgeKey
	for key, edge := range s.historyEdges {
		if edge.LastTS < cutoff {
			delete(s.historyEdges, key)
			removed = append(removed, key)
		}
	}
	return removed
}

// HistorySegments returns a copy of the current bounded segment log, the
// unit persisted to the append-only JSONL history file.
func (s *Store) HistorySegments() []HistorySegment {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]HistorySegment, len(s.historySegments))
	copy(out, s.historySegments)
	return out
}

// LoadHistorySegments replays persisted segments back into the store at
// startup, rebuilding the edge aggregation without re-deriving payload-type
// or mode filters (those already applied when the segments were written).
func (s *Store) LoadHistorySegments(segs []HistorySegment) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, seg := range segs {
		s.appendSegmentLocked(seg)
	}
}
