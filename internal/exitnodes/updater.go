// EN4720 - Smart Home Attack Detector
// Copyright 2026 Security-in-Cyber-Physical-Systems
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/Security-in-Cyber-Physical-Systems/EN4720

package exitnodes

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"net/http"
	"net/netip"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/Security-in-Cyber-Physical-Systems/EN4720/internal/logging"
)

const (
	// DefaultSourceURL is the TOR project's bulk exit list.
	DefaultSourceURL = "https://check.torproject.org/torbulkexitlist"

	// DefaultRefreshInterval is how often the list is fetched.
	DefaultRefreshInterval = 6 * time.Hour

	// DefaultHTTPTimeout bounds a single fetch.
	DefaultHTTPTimeout = 30 * time.Second

	maxListBytes = 10 * 1024 * 1024
)

// Outcome is the result class of a refresh.
type Outcome string

// Refresh outcomes.
const (
	OutcomeUpdated   Outcome = "updated"
	OutcomeUnchanged Outcome = "unchanged"
)

// RefreshResult describes what a refresh did. When Outcome is unchanged the
// set was left as it was and Reason says why.
type RefreshResult struct {
	Outcome  Outcome   `json:"outcome"`
	Reason   string    `json:"reason,omitempty"`
	Count    int       `json:"count"`
	Skipped  int       `json:"skipped,omitempty"`
	DataHash string    `json:"data_hash,omitempty"`
	At       time.Time `json:"at"`
}

// ReasonRateLimited is the Reason of a manual refresh refused by the limiter.
const ReasonRateLimited = "rate limited"

// Updated reports whether the set was replaced.
func (r RefreshResult) Updated() bool { return r.Outcome == OutcomeUpdated }

// UpdaterConfig configures the refresher.
type UpdaterConfig struct {
	SourceURL       string
	RefreshInterval time.Duration
	HTTPTimeout     time.Duration

	// RetryAttempts is the number of retries after the first failed fetch.
	RetryAttempts int

	// RetryDelay is the first backoff delay; it doubles per attempt.
	RetryDelay time.Duration

	// ManualPerMinute caps operator-triggered refreshes.
	ManualPerMinute int

	// Pinned addresses survive every refresh.
	Pinned []string
}

// DefaultUpdaterConfig returns the default refresher configuration.
func DefaultUpdaterConfig() UpdaterConfig {
	return UpdaterConfig{
		SourceURL:       DefaultSourceURL,
		RefreshInterval: DefaultRefreshInterval,
		HTTPTimeout:     DefaultHTTPTimeout,
		RetryAttempts:   2,
		RetryDelay:      2 * time.Second,
		ManualPerMinute: 2,
	}
}

// Status is a snapshot of the refresher's state.
type Status struct {
	SourceURL            string         `json:"source_url"`
	LastAttempt          time.Time      `json:"last_attempt"`
	LastSuccessfulUpdate time.Time      `json:"last_successful_update"`
	LastResult           *RefreshResult `json:"last_result,omitempty"`
	DataHash             string         `json:"data_hash,omitempty"`
	Size                 int            `json:"size"`
	IsRefreshing         bool           `json:"is_refreshing"`
}

// Updater refreshes a Set from a remote list.
type Updater struct {
	config   UpdaterConfig
	set      *Set
	pinned   []netip.Addr
	client   *http.Client
	limiter  *rate.Limiter
	onResult func(RefreshResult)

	mu     sync.Mutex
	status Status
}

// NewUpdater creates an updater for set. onResult, if non-nil, is called
// after every refresh with its result.
func NewUpdater(set *Set, cfg UpdaterConfig, onResult func(RefreshResult)) *Updater {
	defaults := DefaultUpdaterConfig()
	if cfg.SourceURL == "" {
		cfg.SourceURL = defaults.SourceURL
	}
	if cfg.RefreshInterval <= 0 {
		cfg.RefreshInterval = defaults.RefreshInterval
	}
	if cfg.HTTPTimeout <= 0 {
		cfg.HTTPTimeout = defaults.HTTPTimeout
	}
	if cfg.ManualPerMinute <= 0 {
		cfg.ManualPerMinute = defaults.ManualPerMinute
	}
	if onResult == nil {
		onResult = func(RefreshResult) {}
	}

	pinned := make([]netip.Addr, 0, len(cfg.Pinned))
	for _, p := range cfg.Pinned {
		if addr, err := netip.ParseAddr(p); err == nil {
			pinned = append(pinned, addr)
			set.Add(addr)
		}
	}

	return &Updater{
		config:   cfg,
		set:      set,
		pinned:   pinned,
		client:   &http.Client{Timeout: cfg.HTTPTimeout},
		limiter:  rate.NewLimiter(rate.Every(time.Minute/time.Duration(cfg.ManualPerMinute)), cfg.ManualPerMinute),
		onResult: onResult,
		status:   Status{SourceURL: cfg.SourceURL, Size: set.Len()},
	}
}

// Interval returns the scheduled refresh interval.
func (u *Updater) Interval() time.Duration { return u.config.RefreshInterval }

// Run refreshes once immediately and then on every interval until ctx is done.
func (u *Updater) Run(ctx context.Context) error {
	u.Refresh(ctx)

	ticker := time.NewTicker(u.config.RefreshInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			u.Refresh(ctx)
		}
	}
}

// RefreshManual is Refresh guarded by the manual-refresh rate limit.
func (u *Updater) RefreshManual(ctx context.Context) RefreshResult {
	if !u.limiter.Allow() {
		return u.finish(u.unchanged(ReasonRateLimited))
	}
	return u.Refresh(ctx)
}

// Refresh fetches the list and swaps it into the set. It never returns an
// error; failures are reported as an unchanged result.
func (u *Updater) Refresh(ctx context.Context) RefreshResult {
	u.mu.Lock()
	if u.status.IsRefreshing {
		u.mu.Unlock()
		return u.finish(u.unchanged("refresh already in progress"))
	}
	u.status.IsRefreshing = true
	u.status.LastAttempt = time.Now()
	previousHash := u.status.DataHash
	u.mu.Unlock()

	defer func() {
		u.mu.Lock()
		u.status.IsRefreshing = false
		u.mu.Unlock()
	}()

	data, err := u.fetchWithRetry(ctx)
	if err != nil {
		return u.finish(u.unchanged(fmt.Sprintf("fetch failed: %v", err)))
	}

	sum := sha256.Sum256(data)
	hash := hex.EncodeToString(sum[:])
	if hash == previousHash {
		res := u.unchanged("list not modified")
		res.DataHash = hash
		u.mu.Lock()
		u.status.LastSuccessfulUpdate = res.At
		u.mu.Unlock()
		return u.finish(res)
	}

	addrs, skipped, err := ParseList(bytes.NewReader(data))
	if err != nil {
		return u.finish(u.unchanged(fmt.Sprintf("parse failed: %v", err)))
	}
	if len(addrs) == 0 {
		res := u.unchanged("list contained no addresses")
		res.Skipped = skipped
		return u.finish(res)
	}

	u.set.Replace(append(addrs, u.pinned...))

	res := RefreshResult{
		Outcome:  OutcomeUpdated,
		Count:    u.set.Len(),
		Skipped:  skipped,
		DataHash: hash,
		At:       time.Now(),
	}
	u.mu.Lock()
	u.status.DataHash = hash
	u.status.LastSuccessfulUpdate = res.At
	u.mu.Unlock()
	return u.finish(res)
}

func (u *Updater) unchanged(reason string) RefreshResult {
	return RefreshResult{
		Outcome: OutcomeUnchanged,
		Reason:  reason,
		Count:   u.set.Len(),
		At:      time.Now(),
	}
}

func (u *Updater) finish(res RefreshResult) RefreshResult {
	u.mu.Lock()
	u.status.LastResult = &res
	u.status.Size = res.Count
	u.mu.Unlock()

	event := logging.Info()
	if !res.Updated() {
		event = logging.Warn()
	}
	event.Str("outcome", string(res.Outcome)).
		Str("reason", res.Reason).
		Int("count", res.Count).
		Int("skipped", res.Skipped).
		Msg("exit node list refresh")

	u.onResult(res)
	return res
}

// Status returns a copy of the refresher state.
func (u *Updater) Status() Status {
	u.mu.Lock()
	defer u.mu.Unlock()
	s := u.status
	if s.LastResult != nil {
		r := *s.LastResult
		s.LastResult = &r
	}
	return s
}

func (u *Updater) fetchWithRetry(ctx context.Context) ([]byte, error) {
	var lastErr error
	delay := u.config.RetryDelay

	for attempt := 0; attempt <= u.config.RetryAttempts; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(delay):
			}
			delay *= 2
		}

		data, err := u.fetch(ctx)
		if err == nil {
			return data, nil
		}
		lastErr = err
		logging.Debug().Err(err).Int("attempt", attempt+1).Msg("exit node fetch attempt failed")
	}

	return nil, fmt.Errorf("all %d attempts failed: %w", u.config.RetryAttempts+1, lastErr)
}

func (u *Updater) fetch(ctx context.Context) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.config.SourceURL, http.NoBody)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("User-Agent", "EN4720-ExitNode-Updater/1.0")
	req.Header.Set("Accept", "text/plain")

	resp, err := u.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("http request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("unexpected status code: %d", resp.StatusCode)
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxListBytes))
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}
	return data, nil
}
