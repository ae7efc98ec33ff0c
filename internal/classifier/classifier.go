// Package classifier turns one opaque MQTT (topic, payload) pair into a
// normalized device update, trying JSON, text, and binary interpretations
// in turn. It never touches the Topology Store and never panics: every
// unhandled shape returns a "result=unknown" Result with ParseError set
// (spec.md §4.A).
package classifier

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"strconv"
	"strings"
	"unicode/utf8"

	"github.com/yellowcooln/meshmap-engine/internal/decoder"
	"github.com/yellowcooln/meshmap-engine/internal/topology"
)

var errShortBase64Input = errors.New("base64 candidate too short")

// ResultTag enumerates how a payload was (or was not) classified. A Go
// string-based enum, not a shared mutable debug map — every classification
// outcome is its own typed Result, per the design note against global
// mutable debug state.
type ResultTag string

const (
	TagDirectJSON           ResultTag = "direct_json"
	TagDirectTextJSON       ResultTag = "direct_text_json"
	TagDirectTextJSONBase64 ResultTag = "direct_text_json_base64"
	TagDecoded              ResultTag = "decoded"
	TagDecodedNoLocation    ResultTag = "decoded_no_location"
	TagDecodeFailed         ResultTag = "decode_failed"
	TagJSONNoPacketBlob     ResultTag = "json_no_packet_blob"
	TagDirectBlocked        ResultTag = "direct_blocked"
	TagDirectZeroCoords     ResultTag = "direct_zero_coords"
	TagUnknown              ResultTag = "unknown"
)

// Update is the normalized device delta the classifier extracted, ready to
// be folded into a topology.DeviceUpdate by the Ingest Dispatcher.
type Update struct {
	DeviceID string
	Lat      float64
	Lon      float64
	TS       int64
	Heading  *float64
	Speed    *float64
	RSSI     *float64
	SNR      *float64
	Name     string
	Role     topology.Role
}

// DebugInfo is the classifier trace surfaced on /debug/last and /debug/status
// in non-production mode.
type DebugInfo struct {
	Tag        ResultTag
	OriginID   string
	NameHint   string
	RoleHint   topology.Role
	PubKey     string
	PacketHash string
	ParseError string
	Preview    string
}

// Result is the classifier's tagged-variant output (spec.md §9: "use a
// tagged-variant result rather than mutable fields on a shared debug dict").
type Result struct {
	Tag     ResultTag
	Update  *Update
	Decoder decoder.Result
	Debug   DebugInfo
}

func safePreview(payload []byte) string {
	const max = 120
	s := string(payload)
	if !utf8.ValidString(s) {
		s = strings.ToValidUTF8(s, "�")
	}
	if len(s) > max {
		return s[:max] + "..."
	}
	return s
}

// Classify runs the full classification cascade described in spec.md §4.A.
// receivedAt is used as the device update's timestamp when the payload
// itself carries none.
func Classify(ctx context.Context, topic string, payload []byte, receivedAt int64, cfg Config, dec *decoder.Adapter) Result {
	preview := safePreview(payload)

	if !utf8.Valid(payload) {
		return classifyBinary(ctx, payload, topic, receivedAt, cfg, dec, preview)
	}

	text := string(payload)
	var obj map[string]any
	if json.Unmarshal(payload, &obj) == nil {
		return classifyJSON(ctx, obj, topic, text, receivedAt, cfg, dec, preview)
	}

	// Plain text fallback.
	if lat, lon, ok := findLatLonText(text); ok {
		return finishDirect(TagDirectTextJSON, lat, lon, nil, topic, receivedAt, cfg, preview)
	}
	if hexStr, ok := tryHexPacketText(text); ok {
		return classifyDecoded(ctx, hexStr, nil, topic, receivedAt, dec, preview)
	}
	if hexStr, ok := tryBase64PacketText(text); ok {
		return classifyDecoded(ctx, hexStr, nil, topic, receivedAt, dec, preview)
	}

	if ratio := printableRatio(payload, 200); len(payload) >= 10 && ratio < 0.6 {
		return classifyBinary(ctx, payload, topic, receivedAt, cfg, dec, preview)
	}

	return Result{Tag: TagUnknown, Debug: DebugInfo{Tag: TagUnknown, ParseError: "unclassifiable_text", Preview: preview}}
}

func classifyBinary(ctx context.Context, payload []byte, topic string, receivedAt int64, cfg Config, dec *decoder.Adapter, preview string) Result {
	if len(payload) < 10 {
		return Result{Tag: TagUnknown, Debug: DebugInfo{Tag: TagUnknown, ParseError: "payload_too_short", Preview: preview}}
	}
	ratio := printableRatio(payload, 200)
	if ratio >= 0.6 {
		return Result{Tag: TagUnknown, Debug: DebugInfo{Tag: TagUnknown, ParseError: "binary_mostly_printable", Preview: preview}}
	}
	hexStr := encodeHex(payload)
	return classifyDecoded(ctx, hexStr, nil, topic, receivedAt, dec, preview)
}

func encodeHex(b []byte) string {
	const hexdigits = "0123456789abcdef"
	out := make([]byte, len(b)*2)
	for i, c := range b {
		out[i*2] = hexdigits[c>>4]
		out[i*2+1] = hexdigits[c&0x0f]
	}
	return string(out)
}

func classifyJSON(ctx context.Context, obj map[string]any, topic, rawText string, receivedAt int64, cfg Config, dec *decoder.Adapter, preview string) Result {
	if lat, lon, ok := findLatLonJSON(obj); ok {
		return finishDirect(TagDirectJSON, lat, lon, obj, topic, receivedAt, cfg, preview)
	}

	if lat, lon, ok := findLatLonTextLeaves(obj); ok {
		return finishDirect(TagDirectTextJSON, lat, lon, obj, topic, receivedAt, cfg, preview)
	}
	if lat, lon, ok := findLatLonBase64Leaves(obj); ok {
		return finishDirect(TagDirectTextJSONBase64, lat, lon, obj, topic, receivedAt, cfg, preview)
	}

	if hexStr, ok := findPacketBlobJSON(obj); ok {
		return classifyDecoded(ctx, hexStr, obj, topic, receivedAt, dec, preview)
	}

	return Result{
		Tag: TagJSONNoPacketBlob,
		Debug: DebugInfo{
			Tag:     TagJSONNoPacketBlob,
			Preview: preview,
		},
	}
}

// findLatLonTextLeaves walks every string leaf of a decoded JSON value
// looking for the labeled coordinate regex.
func findLatLonTextLeaves(v any) (lat, lon float64, found bool) {
	var result [2]float64
	var ok bool
	walkStringLeaves(v, func(s string) bool {
		if la, lo, match := findLatLonText(s); match {
			result[0], result[1], ok = la, lo, true
			return true
		}
		return false
	})
	return result[0], result[1], ok
}

// findLatLonBase64Leaves base64-decodes every string leaf and retries the
// coordinate regex against the decoded text.
func findLatLonBase64Leaves(v any) (lat, lon float64, found bool) {
	var result [2]float64
	var ok bool
	walkStringLeaves(v, func(s string) bool {
		decoded, decErr := decodeBase64Loose(s)
		if decErr != nil {
			return false
		}
		if la, lo, match := findLatLonText(string(decoded)); match {
			result[0], result[1], ok = la, lo, true
			return true
		}
		return false
	})
	return result[0], result[1], ok
}

func walkStringLeaves(v any, visit func(string) bool) bool {
	switch t := v.(type) {
	case string:
		return visit(t)
	case map[string]any:
		for _, val := range t {
			if walkStringLeaves(val, visit) {
				return true
			}
		}
	case []any:
		for _, item := range t {
			if walkStringLeaves(item, visit) {
				return true
			}
		}
	}
	return false
}

// finishDirect applies gating, zero-coord rejection, and metadata
// extraction to a coordinate pair found via a "direct" (JSON/text) path.
func finishDirect(tag ResultTag, lat, lon float64, obj map[string]any, topic string, receivedAt int64, cfg Config, preview string) Result {
	if lat == 0 && lon == 0 && !cfg.DirectCoordsAllowZero {
		return Result{Tag: TagDirectZeroCoords, Debug: DebugInfo{Tag: TagDirectZeroCoords, Preview: preview}}
	}
	if !gateDirectCoords(cfg, topic, obj) {
		return Result{Tag: TagDirectBlocked, Debug: DebugInfo{Tag: TagDirectBlocked, Preview: preview}}
	}

	deviceID, _ := resolveDeviceID("", obj, topic)
	name, _ := nameFromJSON(obj)
	role, _ := inferRoleFromJSON(obj)
	ts := tsFromJSON(obj, receivedAt)

	upd := &Update{
		DeviceID: deviceID,
		Lat:      lat,
		Lon:      lon,
		TS:       ts,
		Name:     name,
		Role:     role,
	}
	upd.Heading = floatFieldFromJSON(obj, "heading", "hdg")
	upd.Speed = floatFieldFromJSON(obj, "speed", "spd")
	upd.RSSI = floatFieldFromJSON(obj, "rssi")
	upd.SNR = floatFieldFromJSON(obj, "snr")

	return Result{
		Tag:    tag,
		Update: upd,
		Debug: DebugInfo{
			Tag:      tag,
			OriginID: deviceID,
			NameHint: name,
			RoleHint: role,
			Preview:  preview,
		},
	}
}

func gateDirectCoords(cfg Config, topic string, obj map[string]any) bool {
	switch cfg.DirectCoordsMode {
	case DirectCoordsAny:
		return true
	case DirectCoordsTopic:
		return cfg.DirectCoordsTopicRegex != nil && cfg.DirectCoordsTopicRegex.MatchString(topic)
	case DirectCoordsStrict:
		if cfg.DirectCoordsTopicRegex != nil && cfg.DirectCoordsTopicRegex.MatchString(topic) {
			return true
		}
		return bodyHasLocationHint(obj)
	case DirectCoordsOff:
		return false
	default:
		return false
	}
}

func bodyHasLocationHint(obj map[string]any) bool {
	if obj == nil {
		return false
	}
	for k := range obj {
		if _, ok := locationHintKeys[strings.ToLower(k)]; ok {
			return true
		}
	}
	return false
}

func tsFromJSON(obj map[string]any, fallback int64) int64 {
	if obj == nil {
		return fallback
	}
	for _, key := range []string{"ts", "timestamp"} {
		if v, ok := lookupCI(obj, key); ok {
			switch t := v.(type) {
			case float64:
				return int64(t)
			case string:
				if n, err := strconv.ParseInt(t, 10, 64); err == nil {
					return n
				}
			}
		}
	}
	return fallback
}

func floatFieldFromJSON(obj map[string]any, keys ...string) *float64 {
	if obj == nil {
		return nil
	}
	for _, key := range keys {
		if v, ok := lookupCI(obj, key); ok {
			if f, ok := asFloat(v); ok {
				return &f
			}
		}
	}
	return nil
}

// classifyDecoded hands a hex frame to the Decoder Adapter and translates
// its result into a classification outcome.
func classifyDecoded(ctx context.Context, hexFrame string, obj map[string]any, topic string, receivedAt int64, dec *decoder.Adapter, preview string) Result {
	if dec == nil {
		return Result{Tag: TagDecodeFailed, Debug: DebugInfo{Tag: TagDecodeFailed, ParseError: "no_decoder_configured", Preview: preview}}
	}

	dres := dec.Decode(ctx, hexFrame)
	if !dres.OK {
		return Result{Tag: TagDecodeFailed, Decoder: dres, Debug: DebugInfo{Tag: TagDecodeFailed, ParseError: dres.Err, Preview: preview}}
	}

	deviceID, _ := resolveDeviceID(dres.PubKey, obj, topic)
	name := dres.Name
	if name == "" {
		if n, ok := nameFromJSON(obj); ok {
			name = n
		}
	}
	role, roleFound := inferRoleFromJSON(obj)
	if !roleFound {
		if r, ok := roleFromDecoderCode(dres.RouteType); ok {
			role = r
		}
	}

	if dres.Lat == nil || dres.Lon == nil {
		return Result{
			Tag:     TagDecodedNoLocation,
			Decoder: dres,
			Debug: DebugInfo{
				Tag:        TagDecodedNoLocation,
				OriginID:   deviceID,
				NameHint:   name,
				RoleHint:   role,
				PubKey:     dres.PubKey,
				PacketHash: dres.MessageHash,
				Preview:    preview,
			},
		}
	}

	upd := &Update{
		DeviceID: deviceID,
		Lat:      *dres.Lat,
		Lon:      *dres.Lon,
		TS:       tsFromJSON(obj, receivedAt),
		Name:     name,
		Role:     role,
	}

	return Result{
		Tag:     TagDecoded,
		Update:  upd,
		Decoder: dres,
		Debug: DebugInfo{
			Tag:        TagDecoded,
			OriginID:   deviceID,
			NameHint:   name,
			RoleHint:   role,
			PubKey:     dres.PubKey,
			PacketHash: dres.MessageHash,
			Preview:    preview,
		},
	}
}

func decodeBase64Loose(s string) ([]byte, error) {
	s = strings.TrimSpace(s)
	if len(s) < 8 {
		return nil, errShortBase64Input
	}
	if b, err := base64.StdEncoding.DecodeString(s); err == nil {
		return b, nil
	}
	return base64.RawStdEncoding.DecodeString(s)
}
