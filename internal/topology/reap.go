package topology

import "github.com/yellowcooln/meshmap-engine/internal/geo"

// StaleDeviceIDs returns every device id whose TS is older than ttlSeconds,
// without removing them — the broadcaster performs the actual eviction via
// its normal device_remove event path (spec.md §4.G step 1).
func (s *Store) StaleDeviceIDs(now, ttlSeconds int64) []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var ids []string
	for id, d := range s.devices {
		if now-d.TS > ttlSeconds {
			ids = append(ids, id)
		}
	}
	return ids
}

// RoutesWithZeroPoints returns route ids containing a (0,0) point, a
// defensive check the Reaper performs even though RecordRoute should never
// admit one (spec.md §4.G step 2).
func (s *Store) RoutesWithZeroPoints() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var ids []string
	for id, r := range s.routes {
		for _, p := range r.Points {
			if geo.IsZero(p.Lat, p.Lon) {
				ids = append(ids, id)
				break
			}
		}
	}
	return ids
}

// ExpiredRouteIDs returns route ids whose ExpiresAt has passed.
func (s *Store) ExpiredRouteIDs(now int64) []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var ids []string
	for id, r := range s.routes {
		if now >= r.ExpiresAt {
			ids = append(ids, id)
		}
	}
	return ids
}

// RemoveRoutes deletes the given route ids.
func (s *Store) RemoveRoutes(ids []string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, id := range ids {
		delete(s.routes, id)
	}
}

// PruneHeat truncates the heat-event list to the ttlSeconds window
// (spec.md §4.G step 5). ttlSeconds<=0 disables pruning.
func (s *Store) PruneHeat(now, ttlSeconds int64) {
	if ttlSeconds <= 0 {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	cutoff := now - ttlSeconds
	kept := s.heatEvents[:0]
	for _, h := range s.heatEvents {
		if h.TS >= cutoff {
			kept = append(kept, h)
		}
	}
	s.heatEvents = kept
}

// PruneMessageOrigins expires cache entries past ttlSeconds (spec.md §4.G
// step 6). ttlSeconds<=0 disables pruning.
func (s *Store) PruneMessageOrigins(now, ttlSeconds int64) {
	if ttlSeconds <= 0 {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	cutoff := now - ttlSeconds
	for hash, mo := range s.messageOrigins {
		if mo.TS < cutoff {
			delete(s.messageOrigins, hash)
		}
	}
}

// ForgetStalePresence drops presence timestamps unseen for windowSeconds
// (spec.md §4.G step 7).
func (s *Store) ForgetStalePresence(now, windowSeconds int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for id, seen := range s.seenDevices {
		if now-seen.Unix() > windowSeconds {
			delete(s.seenDevices, id)
		}
	}
}
