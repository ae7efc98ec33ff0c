package persistence

import (
	"io"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/yellowcooln/meshmap-engine/internal/topology"
)

func testLogger() zerolog.Logger {
	return zerolog.New(io.Discard)
}

func testStore() *topology.Store {
	return topology.New(topology.Limits{
		TrailLen:    5,
		MapRadiusKM: 50,
		MapStartLat: 1,
		MapStartLon: 1,
	})
}

func TestStateSaverSaveAndLoadRoundTrip(t *testing.T) {
	store := testStore()
	store.UpsertDevice(topology.DeviceUpdate{DeviceID: "aa1", Lat: 1.001, Lon: 1.001, TS: 10, Name: "Tower"})
	store.SetRole("aa1", topology.RoleRepeater, topology.RoleSourceExplicit)
	store.MarkSeen("aa1", 20)

	path := filepath.Join(t.TempDir(), "state.json")
	saver := NewStateSaver(store, path, time.Hour, testLogger())
	if err := saver.Save(); err != nil {
		t.Fatalf("Save: %v", err)
	}

	if _, err := os.Stat(path); err != nil {
		t.Fatalf("expected state file to exist: %v", err)
	}

	restored := testStore()
	LoadState(path, restored, testLogger())

	dev, ok := restored.Device("aa1")
	if !ok {
		t.Fatal("restored store is missing device aa1")
	}
	if dev.Name != "Tower" || dev.Role != topology.RoleRepeater {
		t.Errorf("Device(aa1) = %+v, want name=Tower role=repeater", dev)
	}
	if _, ok := restored.LastSeen("aa1"); !ok {
		t.Error("expected presence to survive the save/load round trip")
	}
}

func TestLoadStateMissingFileIsSilent(t *testing.T) {
	store := testStore()
	LoadState(filepath.Join(t.TempDir(), "does-not-exist.json"), store, testLogger())
	if store.DeviceExists("anything") {
		t.Error("loading a missing state file should leave the store empty, not panic or error loudly")
	}
}

func TestLoadStateCorruptFileStartsEmpty(t *testing.T) {
	path := filepath.Join(t.TempDir(), "state.json")
	if err := os.WriteFile(path, []byte("not json"), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}

	store := testStore()
	LoadState(path, store, testLogger())
	if store.DeviceExists("anything") {
		t.Error("a corrupt state file should leave the store empty")
	}
}

func TestSaveIfDirtyOnlySavesWhenDirty(t *testing.T) {
	store := testStore()
	path := filepath.Join(t.TempDir(), "state.json")
	saver := NewStateSaver(store, path, time.Hour, testLogger())

	// A fresh store with no mutations should not be dirty.
	saver.saveIfDirty()
	if _, err := os.Stat(path); err == nil {
		t.Error("saveIfDirty should not write a file when the store isn't dirty")
	}

	store.UpsertDevice(topology.DeviceUpdate{DeviceID: "aa1", Lat: 1.001, Lon: 1.001, TS: 1})
	saver.saveIfDirty()
	if _, err := os.Stat(path); err != nil {
		t.Error("saveIfDirty should write a file once the store is dirty")
	}
}

func TestAtomicWriteFileDoesNotLeaveTempFiles(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "out.txt")
	if err := atomicWriteFile(path, []byte("hello"), 0o644); err != nil {
		t.Fatalf("atomicWriteFile: %v", err)
	}

	got, err := os.ReadFile(path)
	if err != nil || string(got) != "hello" {
		t.Fatalf("ReadFile = %q, %v, want %q", got, err, "hello")
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatalf("ReadDir: %v", err)
	}
	if len(entries) != 1 {
		t.Errorf("directory has %d entries, want exactly 1 (no leftover temp file)", len(entries))
	}
}
