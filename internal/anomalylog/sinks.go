// EN4720 - Smart Home Attack Detector
// Copyright 2026 Security-in-Cyber-Physical-Systems
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/Security-in-Cyber-Physical-Systems/EN4720

package anomalylog

import (
	"context"
	"errors"
	"sort"

	"github.com/rs/zerolog"

	"github.com/Security-in-Cyber-Physical-Systems/EN4720/internal/detection"
	"github.com/Security-in-Cyber-Physical-Systems/EN4720/internal/logging"
)

// Zerolog writes every record as a warn-level log line.
type Zerolog struct {
	logger zerolog.Logger
}

// NewZerolog returns a sink on the global logger tagged component=anomaly.
func NewZerolog() *Zerolog {
	return &Zerolog{logger: logging.WithComponent("anomaly")}
}

// NewZerologWithLogger returns a sink on logger.
//
//nolint:gocritic // zerolog.Logger is designed to be passed by value
func NewZerologWithLogger(logger zerolog.Logger) *Zerolog {
	return &Zerolog{logger: logger}
}

// Append logs rec. Fields are written in key order so lines are stable.
func (z *Zerolog) Append(_ context.Context, rec detection.Record) error {
	keys := make([]string, 0, len(rec))
	for k := range rec {
		if k != "message" {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)

	event := z.logger.Warn()
	for _, k := range keys {
		event = event.Interface(k, rec[k])
	}
	event.Msg(rec.Message())
	return nil
}

// Multi fans a record out to several sinks. Every sink is tried; the errors
// of those that fail are joined.
type Multi []detection.Sink

// NewMulti drops nil sinks.
func NewMulti(sinks ...detection.Sink) Multi {
	m := make(Multi, 0, len(sinks))
	for _, s := range sinks {
		if s != nil {
			m = append(m, s)
		}
	}
	return m
}

// Append writes rec to every sink.
func (m Multi) Append(ctx context.Context, rec detection.Record) error {
	var errs []error
	for _, s := range m {
		if err := s.Append(ctx, rec); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
