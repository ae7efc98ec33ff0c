package classifier

import (
	"regexp"
	"strconv"
	"strings"

	"github.com/yellowcooln/meshmap-engine/internal/geo"
)

var latKeyNames = map[string]struct{}{"lat": {}, "latitude": {}}
var lonKeyNames = map[string]struct{}{"lon": {}, "lng": {}, "longitude": {}}

// coordScales are the successive divisors tried against an out-of-range
// raw value, per spec.md §4.A ("dividing by 10^7, 10^6, 10^5, 10^4").
var coordScales = []float64{1, 1e7, 1e6, 1e5, 1e4}

// findLatLonJSON recursively searches a decoded JSON value for a lat/lon
// pair under any of the recognized key spellings, at any nesting depth.
func findLatLonJSON(v any) (lat, lon float64, found bool) {
	latRaw, lonRaw, ok := searchLatLonKeys(v)
	if !ok {
		return 0, 0, false
	}
	nlat, nlon, ok := normalizeLatLonPair(latRaw, lonRaw)
	return nlat, nlon, ok
}

func searchLatLonKeys(v any) (lat, lon float64, found bool) {
	switch t := v.(type) {
	case map[string]any:
		var latFound, lonFound bool
		for k, val := range t {
			lk := strings.ToLower(k)
			if _, ok := latKeyNames[lk]; ok {
				if f, ok := asFloat(val); ok {
					lat, latFound = f, true
				}
			}
			if _, ok := lonKeyNames[lk]; ok {
				if f, ok := asFloat(val); ok {
					lon, lonFound = f, true
				}
			}
		}
		if latFound && lonFound {
			return lat, lon, true
		}
		for _, val := range t {
			if nlat, nlon, ok := searchLatLonKeys(val); ok {
				return nlat, nlon, true
			}
		}
	case []any:
		for _, item := range t {
			if nlat, nlon, ok := searchLatLonKeys(item); ok {
				return nlat, nlon, true
			}
		}
	}
	return 0, 0, false
}

func asFloat(v any) (float64, bool) {
	switch t := v.(type) {
	case float64:
		return t, true
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(t), 64)
		if err != nil {
			return 0, false
		}
		return f, true
	default:
		return 0, false
	}
}

// normalizeLatLonPair accepts a raw (lat,lon) pair as-is if already in valid
// decimal-degree range, otherwise tries each of coordScales until one
// divisor yields a valid pair (spec.md §4.A's scaled-integer handling).
func normalizeLatLonPair(rawLat, rawLon float64) (lat, lon float64, ok bool) {
	for _, scale := range coordScales {
		lat, lon = rawLat/scale, rawLon/scale
		if geo.ValidLatLon(lat, lon) {
			return lat, lon, true
		}
	}
	return 0, 0, false
}

// coordRegex matches a "lat ... lon ..." pattern in free text, loose enough
// to catch "lat=42.36 lon=-71.05", "latitude: 42.36, longitude: -71.05",
// and similar log-line shapes.
var coordRegex = regexp.MustCompile(`(?i)lat(?:itude)?[^\d-]{0,5}(-?\d{1,3}(?:\.\d+)?)\D{1,10}lon(?:gitude|g)?[^\d-]{0,5}(-?\d{1,3}(?:\.\d+)?)`)

// twoFloatRegex is the looser fallback: any two decimal numbers separated
// by a short run of non-digit characters, tried when the labeled pattern
// above does not match.
var twoFloatRegex = regexp.MustCompile(`(-?\d{1,3}\.\d+)[^\d-]{1,4}(-?\d{1,3}\.\d+)`)

// findLatLonText tries the labeled coordinate regex, then the loose
// two-float regex, against a text string.
func findLatLonText(s string) (lat, lon float64, found bool) {
	if m := coordRegex.FindStringSubmatch(s); m != nil {
		la, errA := strconv.ParseFloat(m[1], 64)
		lo, errB := strconv.ParseFloat(m[2], 64)
		if errA == nil && errB == nil && geo.ValidLatLon(la, lo) {
			return la, lo, true
		}
	}
	if m := twoFloatRegex.FindStringSubmatch(s); m != nil {
		la, errA := strconv.ParseFloat(m[1], 64)
		lo, errB := strconv.ParseFloat(m[2], 64)
		if errA == nil && errB == nil && geo.ValidLatLon(la, lo) {
			return la, lo, true
		}
	}
	return 0, 0, false
}
