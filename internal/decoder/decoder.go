// Package decoder wraps the external mesh-frame decoder: a separately
// maintained subprocess (spec.md §1 marks it an external collaborator) that
// turns a hex-encoded packet into location and routing metadata.
package decoder

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"os/exec"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
)

// Result is the decoder's best-effort interpretation of one mesh frame.
type Result struct {
	OK          bool
	Lat         *float64
	Lon         *float64
	PubKey      string
	Name        string
	PayloadType int
	RouteType   int
	MessageHash string
	PathHashes  []string
	SNRValues   []float64
	Path        string
	PathLength  int
	Err         string
}

type wireResult struct {
	OK          bool      `json:"ok"`
	Location    *wireLoc  `json:"location"`
	Name        string    `json:"name"`
	PayloadType int       `json:"payloadType"`
	RouteType   int       `json:"routeType"`
	MessageHash string    `json:"messageHash"`
	PathHashes  []string  `json:"pathHashes"`
	SNRValues   []float64 `json:"snrValues"`
	Path        string    `json:"path"`
	PathLength  int       `json:"pathLength"`
	Error       string    `json:"error"`
}

type wireLoc struct {
	Latitude  *float64 `json:"latitude"`
	Longitude *float64 `json:"longitude"`
	PubKey    string   `json:"pubkey"`
}

// Adapter is a sticky-unavailable subprocess bridge to the external decoder
// binary, shaped after the teacher's transcription Provider: first failure
// to exec flips an atomic flag and every subsequent call short-circuits
// without spawning a process (spec.md §9 "fire-and-forget subprocess").
type Adapter struct {
	scriptPath string
	timeout    time.Duration
	log        zerolog.Logger

	unavailable atomic.Bool
}

// New returns an Adapter that invokes scriptPath with a per-call timeout.
// An empty scriptPath marks the adapter unavailable from construction.
func New(scriptPath string, timeout time.Duration, log zerolog.Logger) *Adapter {
	a := &Adapter{scriptPath: scriptPath, timeout: timeout, log: log.With().Str("component", "decoder").Logger()}
	if scriptPath == "" {
		a.unavailable.Store(true)
	}
	return a
}

// Available reports whether the adapter will still attempt to decode.
func (a *Adapter) Available() bool {
	return !a.unavailable.Load()
}

// Decode invokes the external decoder on hexFrame. Any process error,
// timeout, or non-JSON output returns Result{OK:false} with Err populated;
// after the first such failure to even start the process, the adapter goes
// sticky-unavailable and further calls skip straight to that result.
func (a *Adapter) Decode(ctx context.Context, hexFrame string) Result {
	if a.unavailable.Load() {
		return Result{OK: false, Err: "decoder_unavailable"}
	}

	callCtx, cancel := context.WithTimeout(ctx, a.timeout)
	defer cancel()

	cmd := exec.CommandContext(callCtx, a.scriptPath, hexFrame)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	err := cmd.Run()
	if errors.Is(callCtx.Err(), context.DeadlineExceeded) {
		a.log.Debug().Str("frame", hexFrame).Msg("decode timed out")
		return Result{OK: false, Err: "decode_timeout"}
	}
	if err != nil {
		var execErr *exec.Error
		if errors.As(err, &execErr) {
			a.unavailable.Store(true)
			a.log.Warn().Err(err).Msg("decoder binary unavailable, going sticky-unavailable")
			return Result{OK: false, Err: "decoder_unavailable"}
		}
		a.log.Debug().Err(err).Str("stderr", stderr.String()).Msg("decode process failed")
		return Result{OK: false, Err: "decode_process_error"}
	}

	var wr wireResult
	if jsonErr := json.Unmarshal(stdout.Bytes(), &wr); jsonErr != nil {
		a.log.Debug().Err(jsonErr).Msg("decode output not valid JSON")
		return Result{OK: false, Err: "decode_invalid_output"}
	}
	if !wr.OK {
		return Result{OK: false, Err: wr.Error}
	}

	res := Result{
		OK:          true,
		Name:        wr.Name,
		PayloadType: wr.PayloadType,
		RouteType:   wr.RouteType,
		MessageHash: wr.MessageHash,
		PathHashes:  wr.PathHashes,
		SNRValues:   wr.SNRValues,
		Path:        wr.Path,
		PathLength:  wr.PathLength,
	}
	if wr.Location != nil {
		res.Lat = wr.Location.Latitude
		res.Lon = wr.Location.Longitude
		res.PubKey = wr.Location.PubKey
	}
	return res
}
