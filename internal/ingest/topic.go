package ingest

import "strings"

// topicDeviceID extracts the device id from position 3 of a
// meshcore/<group>/<device_id>/<suffix> topic, per spec.md §6's topic
// structure convention. Returns "" for topics that don't fit the shape.
func topicDeviceID(topic string) string {
	parts := strings.Split(topic, "/")
	if len(parts) >= 3 && parts[0] == "meshcore" {
		return parts[2]
	}
	return ""
}

// lastTopicSegment returns the final "/"-delimited segment of topic, used to
// test against the configured online-marking suffix set.
func lastTopicSegment(topic string) string {
	parts := strings.Split(topic, "/")
	return parts[len(parts)-1]
}

// splitPathHeader breaks a decoder-reported path header string into
// two-hex-digit node-hash chunks, the same addressing unit path_hashes
// already uses (spec.md §4.E "header-based route").
func splitPathHeader(path string) []string {
	clean := strings.ReplaceAll(path, ":", "")
	clean = strings.ReplaceAll(clean, "-", "")
	clean = strings.ReplaceAll(clean, " ", "")
	if len(clean) < 2 {
		return nil
	}
	var hashes []string
	for i := 0; i+2 <= len(clean); i += 2 {
		hashes = append(hashes, clean[i:i+2])
	}
	return hashes
}

// stringField reads a string-valued key from a decoded JSON object,
// case-sensitively (the wire convention for "direction"/"message_hash"/
// "origin_id" wrapper fields is lowercase snake_case).
func stringField(obj map[string]any, key string) (string, bool) {
	if obj == nil {
		return "", false
	}
	v, ok := obj[key]
	if !ok {
		return "", false
	}
	s, ok := v.(string)
	return s, ok
}
