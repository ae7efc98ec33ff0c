package persistence

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/yellowcooln/meshmap-engine/internal/topology"
)

func TestHistoryFileAppendAndLoadSegments(t *testing.T) {
	path := filepath.Join(t.TempDir(), "history.jsonl")
	hf := NewHistoryFile(path, testLogger())

	hf.Append([]topology.HistorySegment{
		{AID: "aa1", BID: "bb1", TS: 100, Mode: topology.RouteModePath, MessageHash: "h1"},
	})
	hf.Append([]topology.HistorySegment{
		{AID: "bb1", BID: "cc1", TS: 200, Mode: topology.RouteModePath, MessageHash: "h2"},
	})

	segs := LoadSegments(path, testLogger())
	if len(segs) != 2 {
		t.Fatalf("LoadSegments returned %d segments, want 2", len(segs))
	}
	if segs[0].AID != "aa1" || segs[1].BID != "cc1" {
		t.Errorf("LoadSegments = %+v, unexpected order/contents", segs)
	}
}

func TestHistoryFileAppendEmptyIsNoop(t *testing.T) {
	path := filepath.Join(t.TempDir(), "history.jsonl")
	hf := NewHistoryFile(path, testLogger())
	hf.Append(nil)

	if _, err := os.Stat(path); err == nil {
		t.Error("Append(nil) should not create the history file")
	}
}

func TestLoadSegmentsSkipsMalformedLines(t *testing.T) {
	path := filepath.Join(t.TempDir(), "history.jsonl")
	content := `{"a_id":"aa1","b_id":"bb1","ts":1,"mode":"path"}
not json at all
{"a_id":"bb1","b_id":"cc1","ts":2,"mode":"path"}
`
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}

	segs := LoadSegments(path, testLogger())
	if len(segs) != 2 {
		t.Fatalf("LoadSegments returned %d segments, want 2 valid lines out of 3", len(segs))
	}
}

func TestLoadSegmentsMissingFileReturnsNil(t *testing.T) {
	segs := LoadSegments(filepath.Join(t.TempDir(), "missing.jsonl"), testLogger())
	if segs != nil {
		t.Errorf("LoadSegments(missing) = %v, want nil", segs)
	}
}

func TestCompactorRewritesFromStoreSegments(t *testing.T) {
	store := topology.New(topology.Limits{
		MapRadiusKM:             50,
		MapStartLat:             1,
		MapStartLon:             1,
		RouteHistoryEnabled:     true,
		RouteHistoryHours:       24,
		RouteHistoryMaxSegments: 100,
	})
	store.RecordHistorySegments([]topology.HistorySegment{
		{AID: "aa1", BID: "bb1", TS: 1, Mode: topology.RouteModePath},
	}, 0)

	path := filepath.Join(t.TempDir(), "history.jsonl")
	hf := NewHistoryFile(path, testLogger())
	// Seed the file with stale content the compaction must overwrite.
	hf.Append([]topology.HistorySegment{{AID: "zz1", BID: "yy1", TS: 999, Mode: topology.RouteModePath}})

	c := NewCompactor(store, hf, time.Hour, testLogger())
	c.compact()

	segs := LoadSegments(path, testLogger())
	if len(segs) != 1 || segs[0].AID != "aa1" {
		t.Fatalf("LoadSegments after compact = %+v, want exactly the store's current segment", segs)
	}
}
