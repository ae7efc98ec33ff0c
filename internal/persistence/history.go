package persistence

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"os"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/yellowcooln/meshmap-engine/internal/topology"
)

// HistoryFile mirrors the store's history segments to an append-only JSONL
// file, compacted on a schedule to drop segments that have fallen out of
// the retention window (spec.md §4.D, §4.I).
type HistoryFile struct {
	mu   sync.Mutex
	path string
	log  zerolog.Logger
}

// NewHistoryFile builds a HistoryFile backed by path.
func NewHistoryFile(path string, log zerolog.Logger) *HistoryFile {
	return &HistoryFile{path: path, log: log.With().Str("component", "persistence").Logger()}
}

// Append writes each segment as one JSON line, opening the file in append
// mode. A failure is logged, not fatal (spec.md §7.3).
func (h *HistoryFile) Append(segs []topology.HistorySegment) {
	if len(segs) == 0 {
		return
	}
	h.mu.Lock()
	defer h.mu.Unlock()

	f, err := os.OpenFile(h.path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		h.log.Error().Err(err).Msg("failed to open history file for append")
		return
	}
	defer f.Close()

	w := bufio.NewWriter(f)
	for _, seg := range segs {
		data, err := json.Marshal(seg)
		if err != nil {
			continue
		}
		w.Write(data)
		w.WriteByte('\n')
	}
	if err := w.Flush(); err != nil {
		h.log.Error().Err(err).Msg("failed to flush history file")
	}
}

// LoadSegments reads every line of the JSONL file, skipping malformed ones.
func LoadSegments(path string, log zerolog.Logger) []topology.HistorySegment {
	data, err := os.ReadFile(path)
	if err != nil {
		if !os.IsNotExist(err) {
			log.Warn().Err(err).Str("path", path).Msg("failed to read history file, starting empty")
		}
		return nil
	}
	var segs []topology.HistorySegment
	scanner := bufio.NewScanner(bytes.NewReader(data))
	for scanner.Scan() {
		var seg topology.HistorySegment
		if err := json.Unmarshal(scanner.Bytes(), &seg); err == nil {
			segs = append(segs, seg)
		}
	}
	return segs
}

// Compactor periodically rewrites the history file keeping only the
// segments still tracked by the store (which has already pruned out-of-
// window ones), per spec.md §4.D's "periodic compactor ... rewrites the
// JSONL file with only the segments still within window".
type Compactor struct {
	store    *topology.Store
	file     *HistoryFile
	interval time.Duration
	log      zerolog.Logger
}

// NewCompactor builds a Compactor ticking every interval.
func NewCompactor(store *topology.Store, file *HistoryFile, interval time.Duration, log zerolog.Logger) *Compactor {
	return &Compactor{store: store, file: file, interval: interval, log: log.With().Str("component", "persistence").Logger()}
}

// Run ticks until ctx is canceled, rewriting the history file from the
// store's current (already-pruned) segment log.
func (c *Compactor) Run(ctx context.Context) {
	ticker := time.NewTicker(c.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			c.compact()
		}
	}
}

func (c *Compactor) compact() {
	segs := c.store.HistorySegments()
	data, err := marshalSegmentsJSONL(segs)
	if err != nil {
		c.log.Error().Err(err).Msg("failed to marshal segments during compaction")
		return
	}
	if err := atomicWriteFile(c.file.path, data, 0o644); err != nil {
		c.log.Error().Err(err).Msg("failed to rewrite history file during compaction")
	}
}

func marshalSegmentsJSONL(segs []topology.HistorySegment) ([]byte, error) {
	var buf []byte
	for _, seg := range segs {
		data, err := json.Marshal(seg)
		if err != nil {
			return nil, err
		}
		buf = append(buf, data...)
		buf = append(buf, '\n')
	}
	return buf, nil
}
