// EN4720 - Smart Home Attack Detector
// Copyright 2026 Security-in-Cyber-Physical-Systems
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/Security-in-Cyber-Physical-Systems/EN4720

package eventprocessor

import (
	"github.com/ThreeDotsLabs/watermill"
	"github.com/rs/zerolog"

	"github.com/Security-in-Cyber-Physical-Systems/EN4720/internal/logging"
)

// WatermillLogger routes Watermill's logging through zerolog.
// Watermill's Info is demoted to debug; it logs every subscription and
// handler start at info.
type WatermillLogger struct {
	logger zerolog.Logger
	fields watermill.LogFields
}

var _ watermill.LoggerAdapter = (*WatermillLogger)(nil)

// NewWatermillLogger returns an adapter on the global logger tagged component=watermill.
func NewWatermillLogger() *WatermillLogger {
	return &WatermillLogger{logger: logging.WithComponent("watermill")}
}

// NewWatermillLoggerWith returns an adapter on logger.
//
//nolint:gocritic // zerolog.Logger is designed to be passed by value
func NewWatermillLoggerWith(logger zerolog.Logger) *WatermillLogger {
	return &WatermillLogger{logger: logger}
}

func (l *WatermillLogger) Error(msg string, err error, fields watermill.LogFields) {
	l.write(l.logger.Error().Err(err), msg, fields)
}

func (l *WatermillLogger) Info(msg string, fields watermill.LogFields) {
	l.write(l.logger.Debug(), msg, fields)
}

func (l *WatermillLogger) Debug(msg string, fields watermill.LogFields) {
	l.write(l.logger.Debug(), msg, fields)
}

func (l *WatermillLogger) Trace(msg string, fields watermill.LogFields) {
	l.write(l.logger.Trace(), msg, fields)
}

// With returns a logger that adds fields to every entry.
func (l *WatermillLogger) With(fields watermill.LogFields) watermill.LoggerAdapter {
	return &WatermillLogger{logger: l.logger, fields: l.fields.Add(fields)}
}

func (l *WatermillLogger) write(event *zerolog.Event, msg string, fields watermill.LogFields) {
	if event == nil {
		return
	}
	for k, v := range l.fields {
		event = event.Interface(k, v)
	}
	for k, v := range fields {
		event = event.Interface(k, v)
	}
	event.Msg(msg)
}
