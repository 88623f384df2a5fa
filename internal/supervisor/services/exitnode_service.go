// EN4720 - Smart Home Attack Detector
// Copyright 2026 Security-in-Cyber-Physical-Systems
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/Security-in-Cyber-Physical-Systems/EN4720

package services

import (
	"context"
	"errors"
	"fmt"

	"github.com/Security-in-Cyber-Physical-Systems/EN4720/internal/logging"
)

// Runner is a component with a blocking run loop, such as
// *exitnodes.Updater. Run returns ctx.Err() once ctx is canceled.
type Runner interface {
	Run(ctx context.Context) error
}

// ExitNodeService keeps the exit-node list fresh. A failed refresh does not
// stop Run, so the service only returns early on an unexpected error.
type ExitNodeService struct {
	runner Runner
	name   string
}

// NewExitNodeService wraps runner.
func NewExitNodeService(runner Runner) *ExitNodeService {
	return &ExitNodeService{runner: runner, name: "exit-node-updater"}
}

// Serve implements suture.Service.
func (s *ExitNodeService) Serve(ctx context.Context) error {
	logging.Info().Str("service", s.name).Msg("exit node refresher started")

	err := s.runner.Run(ctx)
	if ctx.Err() != nil {
		logging.Info().Str("service", s.name).Msg("exit node refresher stopped")
		return ctx.Err()
	}
	if err == nil {
		err = errors.New("run loop exited")
	}
	return fmt.Errorf("%s: %w", s.name, err)
}

// String names the service in supervisor logs.
func (s *ExitNodeService) String() string {
	return s.name
}
