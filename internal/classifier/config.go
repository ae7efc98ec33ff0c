package classifier

import "regexp"

// DirectCoordsMode governs whether coordinates found directly in a JSON body
// or raw text payload (as opposed to a decoded binary frame) are accepted.
type DirectCoordsMode string

const (
	DirectCoordsOff    DirectCoordsMode = "off"
	DirectCoordsAny    DirectCoordsMode = "any"
	DirectCoordsTopic  DirectCoordsMode = "topic"
	DirectCoordsStrict DirectCoordsMode = "strict"
)

// locationHintKeys are JSON keys whose mere presence satisfies the "strict"
// gating mode's body-hint requirement.
var locationHintKeys = map[string]struct{}{
	"location": {}, "gps": {}, "position": {}, "coords": {}, "geo": {},
}

// Config tunes the classifier's direct-coordinate gating. An invalid
// DirectCoordsTopicRegex is a configuration-fault (spec.md §7.6): the
// caller is expected to fall back to a nil regex rather than let a bad
// pattern panic the process.
type Config struct {
	DirectCoordsMode          DirectCoordsMode
	DirectCoordsTopicRegex    *regexp.Regexp
	DirectCoordsAllowZero     bool
}

// CompileTopicRegex compiles pattern, returning nil (gating falls back to
// rejecting topic-mode matches) rather than an error on a bad pattern.
func CompileTopicRegex(pattern string) *regexp.Regexp {
	if pattern == "" {
		return nil
	}
	re, err := regexp.Compile(pattern)
	if err != nil {
		return nil
	}
	return re
}
