package decoder

import (
	"context"
	"io"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/rs/zerolog"
)

func testLogger() zerolog.Logger {
	return zerolog.New(io.Discard)
}

func writeScript(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "decoder.sh")
	if err := os.WriteFile(path, []byte("#!/bin/sh\n"+body), 0o755); err != nil {
		t.Fatalf("write script: %v", err)
	}
	return path
}

func TestAdapterEmptyScriptPathIsUnavailable(t *testing.T) {
	a := New("", time.Second, testLogger())
	if a.Available() {
		t.Fatal("expected Available() == false for an empty script path")
	}
	res := a.Decode(context.Background(), "deadbeef")
	if res.OK || res.Err != "decoder_unavailable" {
		t.Errorf("Decode() = %+v, want OK=false Err=decoder_unavailable", res)
	}
}

func TestAdapterDecodeSuccess(t *testing.T) {
	script := writeScript(t, `cat <<'JSON'
{"ok":true,"location":{"latitude":42.36,"longitude":-71.05,"pubkey":"abc"},"name":"Relay","payloadType":1,"messageHash":"h1","pathHashes":["aa","bb"]}
JSON
`)
	a := New(script, time.Second, testLogger())
	if !a.Available() {
		t.Fatal("expected Available() == true for a real script path")
	}

	res := a.Decode(context.Background(), "deadbeef")
	if !res.OK {
		t.Fatalf("Decode() OK = false, Err = %q", res.Err)
	}
	if res.Lat == nil || *res.Lat != 42.36 || res.Lon == nil || *res.Lon != -71.05 {
		t.Errorf("Decode() location = (%v,%v)", res.Lat, res.Lon)
	}
	if res.PubKey != "abc" || res.Name != "Relay" || res.MessageHash != "h1" {
		t.Errorf("Decode() = %+v, unexpected fields", res)
	}
	if len(res.PathHashes) != 2 {
		t.Errorf("PathHashes = %v, want 2 entries", res.PathHashes)
	}
	if !a.Available() {
		t.Error("a successful decode must not flip the adapter unavailable")
	}
}

func TestAdapterDecodeWireFailure(t *testing.T) {
	script := writeScript(t, `echo '{"ok":false,"error":"bad_frame"}'`)
	a := New(script, time.Second, testLogger())

	res := a.Decode(context.Background(), "deadbeef")
	if res.OK || res.Err != "bad_frame" {
		t.Errorf("Decode() = %+v, want OK=false Err=bad_frame", res)
	}
	if !a.Available() {
		t.Error("a wire-level failure must not flip the adapter unavailable")
	}
}

func TestAdapterDecodeInvalidJSON(t *testing.T) {
	script := writeScript(t, `echo 'not json'`)
	a := New(script, time.Second, testLogger())

	res := a.Decode(context.Background(), "deadbeef")
	if res.OK || res.Err != "decode_invalid_output" {
		t.Errorf("Decode() = %+v, want OK=false Err=decode_invalid_output", res)
	}
}

func TestAdapterDecodeMissingBinaryGoesStickyUnavailable(t *testing.T) {
	a := New(filepath.Join(t.TempDir(), "does-not-exist"), time.Second, testLogger())
	if !a.Available() {
		t.Fatal("a nonexistent-but-set script path starts out available")
	}

	res := a.Decode(context.Background(), "deadbeef")
	if res.OK || res.Err != "decoder_unavailable" {
		t.Errorf("Decode() = %+v, want OK=false Err=decoder_unavailable", res)
	}
	if a.Available() {
		t.Error("expected the adapter to go sticky-unavailable after a failed exec")
	}

	res2 := a.Decode(context.Background(), "deadbeef")
	if res2.Err != "decoder_unavailable" {
		t.Errorf("second Decode() = %+v, want the sticky short-circuit result", res2)
	}
}

func TestAdapterDecodeTimeout(t *testing.T) {
	script := writeScript(t, `sleep 2`)
	a := New(script, 50*time.Millisecond, testLogger())

	res := a.Decode(context.Background(), "deadbeef")
	if res.OK || res.Err != "decode_timeout" {
		t.Errorf("Decode() = %+v, want OK=false Err=decode_timeout", res)
	}
	if !a.Available() {
		t.Error("a timeout must not flip the adapter sticky-unavailable")
	}
}
