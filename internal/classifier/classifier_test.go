package classifier

import (
	"context"
	"io"
	"testing"

	"github.com/rs/zerolog"

	"github.com/yellowcooln/meshmap-engine/internal/decoder"
)

func noopDecoder() *decoder.Adapter {
	return decoder.New("", 0, zerolog.New(io.Discard))
}

func TestClassifyDirectJSON(t *testing.T) {
	cfg := Config{DirectCoordsMode: DirectCoordsAny}
	payload := []byte(`{"device_id":"n1","lat":42.36,"lon":-71.05,"name":"Hilltop"}`)

	res := Classify(context.Background(), "meshcore/g1/n1/location", payload, 100, cfg, noopDecoder())

	if res.Tag != TagDirectJSON {
		t.Fatalf("Tag = %q, want direct_json", res.Tag)
	}
	if res.Update == nil {
		t.Fatal("expected a non-nil Update")
	}
	if res.Update.DeviceID != "n1" || res.Update.Lat != 42.36 || res.Update.Lon != -71.05 {
		t.Errorf("Update = %+v, unexpected values", res.Update)
	}
	if res.Update.Name != "Hilltop" {
		t.Errorf("Name = %q, want Hilltop", res.Update.Name)
	}
}

func TestClassifyDirectCoordsOffBlocksEvenWithLocation(t *testing.T) {
	cfg := Config{DirectCoordsMode: DirectCoordsOff}
	payload := []byte(`{"device_id":"n1","lat":42.36,"lon":-71.05}`)

	res := Classify(context.Background(), "meshcore/g1/n1/location", payload, 100, cfg, noopDecoder())
	if res.Tag != TagDirectBlocked {
		t.Fatalf("Tag = %q, want direct_blocked", res.Tag)
	}
	if res.Update != nil {
		t.Error("blocked classification must not produce an Update")
	}
}

func TestClassifyDirectCoordsTopicMode(t *testing.T) {
	cfg := Config{
		DirectCoordsMode:       DirectCoordsTopic,
		DirectCoordsTopicRegex: CompileTopicRegex(`/location$`),
	}
	payload := []byte(`{"device_id":"n1","lat":42.36,"lon":-71.05}`)

	allowed := Classify(context.Background(), "meshcore/g1/n1/location", payload, 100, cfg, noopDecoder())
	if allowed.Tag != TagDirectJSON {
		t.Errorf("topic matching the regex: Tag = %q, want direct_json", allowed.Tag)
	}

	blocked := Classify(context.Background(), "meshcore/g1/n1/other", payload, 100, cfg, noopDecoder())
	if blocked.Tag != TagDirectBlocked {
		t.Errorf("topic not matching the regex: Tag = %q, want direct_blocked", blocked.Tag)
	}
}

func TestClassifyDirectZeroCoordsRejectedByDefault(t *testing.T) {
	cfg := Config{DirectCoordsMode: DirectCoordsAny}
	payload := []byte(`{"device_id":"n1","lat":0,"lon":0}`)

	res := Classify(context.Background(), "meshcore/g1/n1/location", payload, 100, cfg, noopDecoder())
	if res.Tag != TagDirectZeroCoords {
		t.Fatalf("Tag = %q, want direct_zero_coords", res.Tag)
	}
}

func TestClassifyDirectZeroCoordsAllowed(t *testing.T) {
	cfg := Config{DirectCoordsMode: DirectCoordsAny, DirectCoordsAllowZero: true}
	payload := []byte(`{"device_id":"n1","lat":0,"lon":0}`)

	res := Classify(context.Background(), "meshcore/g1/n1/location", payload, 100, cfg, noopDecoder())
	if res.Tag != TagDirectJSON {
		t.Fatalf("Tag = %q, want direct_json when zero coords are explicitly allowed", res.Tag)
	}
}

func TestClassifyJSONNoPacketBlob(t *testing.T) {
	cfg := Config{DirectCoordsMode: DirectCoordsAny}
	payload := []byte(`{"foo":"bar"}`)

	res := Classify(context.Background(), "meshcore/g1/n1/misc", payload, 100, cfg, noopDecoder())
	if res.Tag != TagJSONNoPacketBlob {
		t.Fatalf("Tag = %q, want json_no_packet_blob", res.Tag)
	}
}

func TestClassifyJSONPacketBlobDecodeFailsWithoutDecoder(t *testing.T) {
	cfg := Config{DirectCoordsMode: DirectCoordsAny}
	payload := []byte(`{"hex":"0123456789abcdef0123"}`)

	res := Classify(context.Background(), "meshcore/g1/n1/packets", payload, 100, cfg, noopDecoder())
	if res.Tag != TagDecodeFailed {
		t.Fatalf("Tag = %q, want decode_failed (decoder unavailable)", res.Tag)
	}
}

func TestClassifyTextFallbackCoords(t *testing.T) {
	cfg := Config{DirectCoordsMode: DirectCoordsAny}
	payload := []byte("node n1 reporting lat=42.36 lon=-71.05 ok")

	res := Classify(context.Background(), "meshcore/g1/n1/log", payload, 100, cfg, noopDecoder())
	if res.Tag != TagDirectTextJSON {
		t.Fatalf("Tag = %q, want direct_text_json", res.Tag)
	}
	if res.Update.Lat != 42.36 || res.Update.Lon != -71.05 {
		t.Errorf("Update coords = (%v,%v), want (42.36,-71.05)", res.Update.Lat, res.Update.Lon)
	}
}

func TestClassifyBinaryTooShort(t *testing.T) {
	cfg := Config{DirectCoordsMode: DirectCoordsAny}
	payload := []byte{0xde, 0xad, 0xbe, 0xef}

	res := Classify(context.Background(), "meshcore/g1/n1/raw", payload, 100, cfg, noopDecoder())
	if res.Tag != TagUnknown {
		t.Fatalf("Tag = %q, want unknown", res.Tag)
	}
	if res.Debug.ParseError != "payload_too_short" {
		t.Errorf("ParseError = %q, want payload_too_short", res.Debug.ParseError)
	}
}

func TestClassifyUnclassifiableText(t *testing.T) {
	cfg := Config{DirectCoordsMode: DirectCoordsAny}
	payload := []byte("just some ordinary log line with no coordinates")

	res := Classify(context.Background(), "meshcore/g1/n1/log", payload, 100, cfg, noopDecoder())
	if res.Tag != TagUnknown {
		t.Fatalf("Tag = %q, want unknown", res.Tag)
	}
}
