// Package los implements the pure line-of-sight geometry supplemented from
// original_source/backend/app.py's los module: great-circle sampling along
// a path and Fresnel/earth-curvature obstruction analysis. Only the
// elevation *data* behind it is external (spec.md §1 marks the elevation
// HTTP provider an external collaborator) — the sampling and obstruction
// math are pure and local, so they live here rather than behind the API
// proxy in internal/api/los.go.
package los

import "github.com/yellowcooln/meshmap-engine/internal/geo"

// kFactor is the standard atmospheric refraction correction applied to the
// effective earth radius for radio line-of-sight (4/3 earth model).
const kFactor = 4.0 / 3.0

// Sample is one point along the sampled great-circle path between two
// endpoints.
type Sample struct {
	Lat       float64
	Lon       float64
	DistanceM float64
}

// SamplePoints linearly interpolates `n+1` points (both endpoints included,
// `n` equal steps) between (lat1,lon1) and (lat2,lon2), where `n` is derived
// from the path length and stepMeters, clamped to [minSamples, maxSamples]
// and never below 2. Linear interpolation of lat/lon is
// an adequate approximation at the short (tens-of-km) ranges line-of-sight
// checks apply to.
func SamplePoints(lat1, lon1, lat2, lon2 float64, minSamples, maxSamples int, stepMeters float64) []Sample {
	total := geo.HaversineM(lat1, lon1, lat2, lon2)
	n := minSamples
	if stepMeters > 0 {
		if byStep := int(total / stepMeters); byStep > n {
			n = byStep
		}
	}
	if maxSamples > 0 && n > maxSamples {
		n = maxSamples
	}
	if n < 2 {
		n = 2
	}

	samples := make([]Sample, n+1)
	for i := 0; i <= n; i++ {
		f := float64(i) / float64(n)
		samples[i] = Sample{
			Lat:       lat1 + (lat2-lat1)*f,
			Lon:       lon1 + (lon2-lon1)*f,
			DistanceM: total * f,
		}
	}
	return samples
}

// ElevationSample pairs a sampled point with its terrain elevation, as
// returned by the external elevation provider.
type ElevationSample struct {
	Sample
	ElevationM float64
}

// Peak is one sampled point that obstructs the direct line between the two
// endpoint antenna heights.
type Peak struct {
	Sample
	ElevationM     float64
	ObstructionM float64
}

// Profile is the result of an obstruction analysis over a sampled path.
type Profile struct {
	Clear             bool
	MaxObstructionM   float64
	Peaks             []Peak
	SuggestedHeightM  float64 // MaxObstructionM + 1; added at both endpoints, the line clears every peak by 1 m
}

// Analyze walks points[1:len-1] (the endpoints themselves cannot obstruct
// their own line) comparing each sample's terrain elevation, adjusted for
// earth-curvature bulge under k=4/3 refraction, against the straight line
// between the two antenna elevations (ground elevation + antenna height at
// each endpoint).
func Analyze(points []ElevationSample, observerGroundM, observerHeightM, targetGroundM, targetHeightM float64) Profile {
	if len(points) < 3 {
		return Profile{Clear: true}
	}

	total := points[len(points)-1].DistanceM
	observerElev := observerGroundM + observerHeightM
	targetElev := targetGroundM + targetHeightM

	var prof Profile
	for _, p := range points[1 : len(points)-1] {
		f := p.DistanceM / total
		lineHeight := observerElev + (targetElev-observerElev)*f
		bulge := earthBulgeM(p.DistanceM, total-p.DistanceM)
		obstruction := (p.ElevationM + bulge) - lineHeight
		if obstruction > prof.MaxObstructionM {
			prof.MaxObstructionM = obstruction
		}
		if obstruction > 0 {
			prof.Peaks = append(prof.Peaks, Peak{Sample: p.Sample, ElevationM: p.ElevationM, ObstructionM: obstruction})
		}
	}

	prof.Clear = prof.MaxObstructionM <= 0
	if !prof.Clear {
		prof.SuggestedHeightM = prof.MaxObstructionM + 1 // small clearance margin
	}
	return prof
}

// earthBulgeM returns the apparent rise of the earth's curved surface, in
// meters, at a point d1 meters from one end and d2 meters from the other
// of a d1+d2 path, under the k=4/3 effective-earth-radius approximation.
func earthBulgeM(d1, d2 float64) float64 {
	effectiveRadiusM := geo.EarthRadiusKM * 1000 * kFactor
	return (d1 * d2) / (2 * effectiveRadiusM)
}
