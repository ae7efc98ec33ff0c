package classifier

import (
	"encoding/base64"
	"encoding/hex"
	"regexp"
	"strings"
)

// packetBlobKeys are checked in this preference order at every nesting
// level before falling through to a generic leaf scan.
var packetBlobKeys = []string{"hex", "raw", "packet", "data", "payload", "frame", "mesh_packet"}

var hexBlobRegex = regexp.MustCompile(`^[0-9a-fA-F]{20,}$`)

// findPacketBlobJSON searches a decoded JSON value for an opaque packet blob:
// a hex string, a base64 string that decodes to >=10 bytes, or an integer
// list of length >=10. Returns the blob as a hex string ready for the
// Decoder Adapter.
func findPacketBlobJSON(v any) (hexStr string, found bool) {
	if m, ok := v.(map[string]any); ok {
		for _, key := range packetBlobKeys {
			for k, val := range m {
				if !strings.EqualFold(k, key) {
					continue
				}
				if hs, ok := extractHexBlob(val); ok {
					return hs, true
				}
			}
		}
	}
	switch t := v.(type) {
	case map[string]any:
		for _, val := range t {
			if hs, ok := findPacketBlobJSON(val); ok {
				return hs, true
			}
		}
	case []any:
		for _, item := range t {
			if hs, ok := findPacketBlobJSON(item); ok {
				return hs, true
			}
		}
	}
	return "", false
}

// extractHexBlob converts one candidate value (string or list) into a hex
// string if it looks like a packet, per spec.md §4.A's three accepted
// shapes: even-length hex string, base64 string decoding to >=10 bytes, or
// an integer list of length >=10.
func extractHexBlob(v any) (string, bool) {
	switch t := v.(type) {
	case string:
		s := strings.TrimSpace(t)
		if len(s)%2 == 0 && hexBlobRegex.MatchString(s) {
			return strings.ToLower(s), true
		}
		if decoded, err := base64.StdEncoding.DecodeString(s); err == nil && len(decoded) >= 10 {
			return hex.EncodeToString(decoded), true
		}
		if decoded, err := base64.RawStdEncoding.DecodeString(s); err == nil && len(decoded) >= 10 {
			return hex.EncodeToString(decoded), true
		}
	case []any:
		if len(t) < 10 {
			return "", false
		}
		bs := make([]byte, 0, len(t))
		for _, item := range t {
			f, ok := item.(float64)
			if !ok || f < 0 || f > 255 || f != float64(int(f)) {
				return "", false
			}
			bs = append(bs, byte(int(f)))
		}
		return hex.EncodeToString(bs), true
	}
	return "", false
}

// tryBase64PacketText treats a raw (non-JSON) text payload as a base64
// packet blob.
func tryBase64PacketText(s string) (string, bool) {
	return extractHexBlob(strings.TrimSpace(s))
}

// tryHexPacketText treats a raw (non-JSON) text payload as a hex packet blob.
func tryHexPacketText(s string) (string, bool) {
	s = strings.TrimSpace(s)
	if len(s)%2 == 0 && hexBlobRegex.MatchString(s) {
		return strings.ToLower(s), true
	}
	return "", false
}

// printableRatio returns the fraction of bytes in the first n bytes of b
// that are printable ASCII, used to decide the binary fallback path.
func printableRatio(b []byte, n int) float64 {
	if n > len(b) {
		n = len(b)
	}
	if n == 0 {
		return 1
	}
	printable := 0
	for i := 0; i < n; i++ {
		c := b[i]
		if c >= 0x20 && c < 0x7f {
			printable++
		}
	}
	return float64(printable) / float64(n)
}
