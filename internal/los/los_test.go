package los

import "testing"

func TestSamplePointsEndpoints(t *testing.T) {
	samples := SamplePoints(1, 1, 1.1, 1.1, 4, 16, 0)
	if len(samples) < 5 {
		t.Fatalf("got %d samples, want at least minSamples+1", len(samples))
	}
	first, last := samples[0], samples[len(samples)-1]
	if first.Lat != 1 || first.Lon != 1 {
		t.Errorf("first sample = %+v, want endpoint (1,1)", first)
	}
	if last.Lat != 1.1 || last.Lon != 1.1 {
		t.Errorf("last sample = %+v, want endpoint (1.1,1.1)", last)
	}
	if first.DistanceM != 0 {
		t.Errorf("first.DistanceM = %v, want 0", first.DistanceM)
	}
}

func TestSamplePointsRespectsMax(t *testing.T) {
	samples := SamplePoints(1, 1, 5, 5, 4, 8, 1) // huge distance, tiny step -> would want many samples
	if len(samples) != 9 {
		t.Fatalf("got %d samples, want maxSamples+1 = 9", len(samples))
	}
}

func TestAnalyzeClearPath(t *testing.T) {
	points := []ElevationSample{
		{Sample: Sample{DistanceM: 0}, ElevationM: 100},
		{Sample: Sample{DistanceM: 500}, ElevationM: 100},
		{Sample: Sample{DistanceM: 1000}, ElevationM: 100},
	}
	prof := Analyze(points, 100, 10, 100, 10)
	if !prof.Clear {
		t.Errorf("expected clear path, got obstruction %v", prof.MaxObstructionM)
	}
	if len(prof.Peaks) != 0 {
		t.Errorf("expected no peaks, got %d", len(prof.Peaks))
	}
}

func TestAnalyzeObstructed(t *testing.T) {
	points := []ElevationSample{
		{Sample: Sample{DistanceM: 0}, ElevationM: 100},
		{Sample: Sample{DistanceM: 500}, ElevationM: 300}, // a hill well above the line
		{Sample: Sample{DistanceM: 1000}, ElevationM: 100},
	}
	prof := Analyze(points, 100, 2, 100, 2)
	if prof.Clear {
		t.Fatal("expected an obstructed path")
	}
	if len(prof.Peaks) != 1 {
		t.Fatalf("expected 1 peak, got %d", len(prof.Peaks))
	}
	if prof.SuggestedHeightM <= prof.MaxObstructionM {
		t.Errorf("SuggestedHeightM = %v, want > MaxObstructionM (%v)", prof.SuggestedHeightM, prof.MaxObstructionM)
	}
}

func TestAnalyzeTooFewPoints(t *testing.T) {
	prof := Analyze([]ElevationSample{{Sample: Sample{DistanceM: 0}, ElevationM: 1}}, 0, 2, 0, 2)
	if !prof.Clear {
		t.Error("expected Clear=true when fewer than 3 points are given")
	}
}
