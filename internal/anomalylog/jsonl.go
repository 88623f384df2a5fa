// EN4720 - Smart Home Attack Detector
// Copyright 2026 Security-in-Cyber-Physical-Systems
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/Security-in-Cyber-Physical-Systems/EN4720

// Package anomalylog provides sinks for anomaly records.
//
// Every sink implements detection.Sink. The detector treats appends as
// best-effort: a failing sink is logged and counted, never retried.
package anomalylog

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/goccy/go-json"

	"github.com/Security-in-Cyber-Physical-Systems/EN4720/internal/detection"
)

// DefaultJSONLinesPath is where records go when no path is configured.
const DefaultJSONLinesPath = "logs.json"

// JSONLines appends one JSON object per line to a file.
type JSONLines struct {
	mu   sync.Mutex
	file *os.File
	path string
}

// OpenJSONLines opens path for appending, creating it and its directory if needed.
func OpenJSONLines(path string) (*JSONLines, error) {
	if path == "" {
		path = DefaultJSONLinesPath
	}
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o750); err != nil {
			return nil, fmt.Errorf("create anomaly log directory: %w", err)
		}
	}
	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o640)
	if err != nil {
		return nil, fmt.Errorf("open anomaly log %s: %w", path, err)
	}
	return &JSONLines{file: f, path: path}, nil
}

// Append writes rec as a single line.
func (j *JSONLines) Append(_ context.Context, rec detection.Record) error {
	line, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("marshal anomaly record: %w", err)
	}
	line = append(line, '\n')

	j.mu.Lock()
	defer j.mu.Unlock()
	if j.file == nil {
		return fmt.Errorf("anomaly log %s is closed", j.path)
	}
	if _, err := j.file.Write(line); err != nil {
		return fmt.Errorf("write anomaly log: %w", err)
	}
	return nil
}

// Path returns the file being written.
func (j *JSONLines) Path() string { return j.path }

// Close closes the file. Later appends fail.
func (j *JSONLines) Close() error {
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.file == nil {
		return nil
	}
	err := j.file.Close()
	j.file = nil
	return err
}
