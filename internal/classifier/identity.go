package classifier

import (
	"strings"

	"github.com/golang-jwt/jwt/v5"

	"github.com/yellowcooln/meshmap-engine/internal/topology"
)

// deviceIDKeys are the JSON keys checked, in order, when no decoder public
// key is available.
var deviceIDKeys = []string{"device_id", "id", "from", "origin_id"}

// jwtKeys are the JSON keys that may carry a bearer-style JWT string.
var jwtKeys = []string{"jwt", "token", "auth_token", "bearer"}

// roleKeys are the JSON keys checked for a role hint.
var roleKeys = []string{"role", "device_role", "node_role", "device_type", "node_type", "class", "profile"}

// resolveDeviceID applies the precedence order from spec.md §4.A: decoder
// public key, then a JSON identity field, then a JWT's "publickey" claim,
// then the topic's device-id segment, then the topic's last segment.
func resolveDeviceID(decoderPubKey string, obj map[string]any, topic string) (id string, source string) {
	if decoderPubKey != "" {
		return decoderPubKey, "decoder_pubkey"
	}
	for _, key := range deviceIDKeys {
		if obj != nil {
			if v, ok := lookupCI(obj, key); ok {
				if s, ok := v.(string); ok && s != "" {
					return s, "json"
				}
			}
		}
	}
	if pk, ok := publicKeyFromJWT(obj); ok {
		return pk, "jwt"
	}
	if id := deviceIDFromTopic(topic); id != "" {
		return id, "topic"
	}
	return lastTopicSegment(topic), "topic_tail"
}

// publicKeyFromJWT looks for a bearer JWT among jwtKeys and returns its
// "publickey" claim. The token is never signature-verified: it is read as an
// identity hint carried inside an already-untrusted MQTT payload, not as an
// authorization boundary.
func publicKeyFromJWT(obj map[string]any) (string, bool) {
	if obj == nil {
		return "", false
	}
	for _, key := range jwtKeys {
		v, ok := lookupCI(obj, key)
		if !ok {
			continue
		}
		raw, ok := v.(string)
		if !ok || raw == "" {
			continue
		}
		token, _, err := jwt.NewParser().ParseUnverified(raw, jwt.MapClaims{})
		if err != nil {
			continue
		}
		claims, ok := token.Claims.(jwt.MapClaims)
		if !ok {
			continue
		}
		if pk, ok := claims["publickey"].(string); ok && pk != "" {
			return pk, true
		}
	}
	return "", false
}

// deviceIDFromTopic extracts the device id from position 3 of a
// "meshcore/<group>/<device_id>/<suffix>" topic.
func deviceIDFromTopic(topic string) string {
	parts := strings.Split(topic, "/")
	if len(parts) >= 3 && parts[0] == "meshcore" {
		return parts[2]
	}
	return ""
}

func lastTopicSegment(topic string) string {
	parts := strings.Split(topic, "/")
	if len(parts) == 0 {
		return ""
	}
	return parts[len(parts)-1]
}

func lookupCI(obj map[string]any, key string) (any, bool) {
	for k, v := range obj {
		if strings.EqualFold(k, key) {
			return v, true
		}
	}
	return nil, false
}

// inferRoleFromJSON looks for any of roleKeys in obj (one level, not
// recursive per spec.md §4.A which names a "fixed set of keys") and
// normalizes the string value by substring match.
func inferRoleFromJSON(obj map[string]any) (topology.Role, bool) {
	if obj == nil {
		return "", false
	}
	for _, key := range roleKeys {
		v, ok := lookupCI(obj, key)
		if !ok {
			continue
		}
		s, ok := v.(string)
		if !ok {
			continue
		}
		if role, ok := normalizeRoleString(s); ok {
			return role, true
		}
	}
	return "", false
}

func normalizeRoleString(s string) (topology.Role, bool) {
	low := strings.ToLower(s)
	switch {
	case strings.Contains(low, "repeat"), strings.Contains(low, "relay"):
		return topology.RoleRepeater, true
	case strings.Contains(low, "companion"), strings.Contains(low, "chat"):
		return topology.RoleCompanion, true
	case strings.Contains(low, "room"):
		return topology.RoleRoom, true
	default:
		return "", false
	}
}

// roleFromDecoderCode maps the decoder's numeric role metadata (1/2/3) to a
// Role. Only consulted when the JSON path yielded no role (spec.md §4.A).
func roleFromDecoderCode(code int) (topology.Role, bool) {
	switch code {
	case 1:
		return topology.RoleCompanion, true
	case 2:
		return topology.RoleRepeater, true
	case 3:
		return topology.RoleRoom, true
	default:
		return "", false
	}
}

// nameFromJSON looks for a device name hint among common key spellings.
func nameFromJSON(obj map[string]any) (string, bool) {
	if obj == nil {
		return "", false
	}
	for _, key := range []string{"name", "device_name", "long_name", "longName", "short_name", "shortName"} {
		if v, ok := lookupCI(obj, key); ok {
			if s, ok := v.(string); ok && s != "" {
				return s, true
			}
		}
	}
	return "", false
}
