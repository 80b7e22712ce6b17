package monitor

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"
)

const (
	DefaultTTL  = 7 * 24 * time.Hour
	DefaultKeep = 5
)

// FileSink stores one JSON document per trace in a directory.
type FileSink struct {
	Dir  string
	TTL  time.Duration
	Keep int
}

func (f *FileSink) path(traceID string) (string, error) {
	if traceID == "" || strings.ContainsAny(traceID, `/\.`) {
		return "", fmt.Errorf("invalid trace id %q", traceID)
	}
	return filepath.Join(f.Dir, traceID+".json"), nil
}

func (f *FileSink) Save(_ context.Context, trace Trace) error {
	path, err := f.path(trace.TraceID)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(f.Dir, 0o755); err != nil {
		return fmt.Errorf("create monitor directory: %w", err)
	}

	file, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create trace file: %w", err)
	}
	defer file.Close()

	enc := json.NewEncoder(file)
	enc.SetIndent("", "  ")
	if err := enc.Encode(trace); err != nil {
		return fmt.Errorf("write trace: %w", err)
	}
	return nil
}

func (f *FileSink) Load(traceID string) (Trace, error) {
	path, err := f.path(traceID)
	if err != nil {
		return Trace{}, err
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return Trace{}, err
	}
	var trace Trace
	if err := json.Unmarshal(data, &trace); err != nil {
		return Trace{}, fmt.Errorf("decode trace %s: %w", traceID, err)
	}
	return trace, nil
}

// TraceInfo summarises a stored trace.
type TraceInfo struct {
	TraceID   string    `json:"traceId"`
	StartedAt time.Time `json:"startedAt"`
	Errors    int       `json:"errors"`
	Spans     int       `json:"spans"`
}

// List returns stored traces, newest first.
func (f *FileSink) List() ([]TraceInfo, error) {
	entries, err := os.ReadDir(f.Dir)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("list monitor directory: %w", err)
	}

	var infos []TraceInfo
	for _, entry := range entries {
		if entry.IsDir() || filepath.Ext(entry.Name()) != ".json" {
			continue
		}
		trace, err := f.Load(strings.TrimSuffix(entry.Name(), ".json"))
		if err != nil {
			continue
		}
		infos = append(infos, TraceInfo{
			TraceID:   trace.TraceID,
			StartedAt: trace.StartedAt,
			Errors:    len(trace.Errors),
			Spans:     len(trace.Spans),
		})
	}

	sort.Slice(infos, func(i, j int) bool { return infos[i].StartedAt.After(infos[j].StartedAt) })
	return infos, nil
}

// Cleanup removes traces older than TTL, always keeping the Keep most recent.
// It returns the number of removed traces.
func (f *FileSink) Cleanup(now time.Time) (int, error) {
	ttl, keep := f.TTL, f.Keep
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	if keep <= 0 {
		keep = DefaultKeep
	}

	infos, err := f.List()
	if err != nil {
		return 0, err
	}

	removed := 0
	var errs []error
	for i, info := range infos {
		if i < keep || now.Sub(info.StartedAt) <= ttl {
			continue
		}
		path, _ := f.path(info.TraceID)
		if err := os.Remove(path); err != nil {
			errs = append(errs, err)
			continue
		}
		removed++
	}
	return removed, errors.Join(errs...)
}
