package topology

// RestoreDevice installs a persisted device and its trail verbatim at
// startup, after the caller has already validated coordinates. Unlike
// UpsertDevice it does not append to the trail — it replaces it outright —
// and does not mark the store dirty, since the data just came from disk.
// Returns false (skipped) if the device's coordinates fail the store's
// invariants.
func (s *Store) RestoreDevice(d Device, trail []TrailPoint) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.validLocation(d.Lat, d.Lon) {
		return false
	}

	cp := d
	s.devices[d.ID] = &cp
	s.recordNodeHashCandidateLocked(d.ID)

	if s.limits.TrailLen > 0 && len(trail) > 0 {
		valid := make([]TrailPoint, 0, len(trail))
		for _, p := range trail {
			if s.validLocation(p.Lat, p.Lon) {
				valid = append(valid, p)
			}
		}
		if len(valid) > s.limits.TrailLen {
			valid = valid[len(valid)-s.limits.TrailLen:]
		}
		s.trails[d.ID] = valid
	}

	s.rebuildNodeHashIndexLocked()
	return true
}

// RestoreSeen installs a persisted presence timestamp.
func (s *Store) RestoreSeen(id string, ts int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.devices[id]; !ok {
		return
	}
	s.seenDevices[id] = timeFromUnix(ts)
}

// RestoreName installs a persisted device name, independent of whether the
// device itself was restored (names/roles tables outlive any one device).
func (s *Store) RestoreName(id, name string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.names[id] = name
	if d, ok := s.devices[id]; ok {
		d.Name = name
	}
}

// RestoreRole installs a persisted role and its source.
func (s *Store) RestoreRole(id string, role Role, src RoleSource) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.roles[id] = role
	s.roleSources[id] = src
	if d, ok := s.devices[id]; ok {
		d.Role = role
	}
}
