// EN4720 - Smart Home Attack Detector
// Copyright 2026 Security-in-Cyber-Physical-Systems
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/Security-in-Cyber-Physical-Systems/EN4720

package geoip

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/goccy/go-json"
)

// DefaultWebServiceURL is the GeoLite2 City web service endpoint.
const DefaultWebServiceURL = "https://geolite.info/geoip/v2.1/city"

// WebService resolves addresses through the MaxMind GeoLite2 web service.
// Register for an account ID and license key at https://www.maxmind.com/en/geolite2/signup.
type WebService struct {
	client     *http.Client
	baseURL    string
	accountID  string
	licenseKey string
}

type webServiceResponse struct {
	Country struct {
		ISOCode string `json:"iso_code"`
	} `json:"country"`
	Location struct {
		Latitude  *float64 `json:"latitude"`
		Longitude *float64 `json:"longitude"`
	} `json:"location"`
}

type webServiceError struct {
	Code  string `json:"code"`
	Error string `json:"error"`
}

// NewWebService creates a web service resolver. An empty baseURL uses DefaultWebServiceURL.
func NewWebService(baseURL, accountID, licenseKey string, timeout time.Duration) *WebService {
	if baseURL == "" {
		baseURL = DefaultWebServiceURL
	}
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &WebService{
		client:     &http.Client{Timeout: timeout},
		baseURL:    strings.TrimRight(baseURL, "/"),
		accountID:  accountID,
		licenseKey: licenseKey,
	}
}

// Resolve queries the service for ip.
func (w *WebService) Resolve(ctx context.Context, ip string) (Location, error) {
	if w.accountID == "" || w.licenseKey == "" {
		return Location{}, fmt.Errorf("%w: maxmind credentials not configured", ErrUnresolved)
	}
	if net.ParseIP(ip) == nil {
		return Location{}, fmt.Errorf("%w: invalid IP address %q", ErrUnresolved, ip)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, w.baseURL+"/"+ip, http.NoBody)
	if err != nil {
		return Location{}, fmt.Errorf("create request: %w", err)
	}
	req.SetBasicAuth(w.accountID, w.licenseKey)
	req.Header.Set("Accept", "application/json")

	resp, err := w.client.Do(req)
	if err != nil {
		return Location{}, fmt.Errorf("query maxmind: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		var errResp webServiceError
		if json.NewDecoder(resp.Body).Decode(&errResp) == nil && errResp.Error != "" {
			if errResp.Code == "IP_ADDRESS_NOT_FOUND" || errResp.Code == "IP_ADDRESS_RESERVED" {
				return Location{}, fmt.Errorf("%w: %s", ErrUnresolved, errResp.Error)
			}
			return Location{}, fmt.Errorf("maxmind error (%s): %s", errResp.Code, errResp.Error)
		}
		return Location{}, fmt.Errorf("maxmind returned status %d", resp.StatusCode)
	}

	var result webServiceResponse
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return Location{}, fmt.Errorf("decode maxmind response: %w", err)
	}
	if result.Location.Latitude == nil || result.Location.Longitude == nil {
		return Location{}, ErrUnresolved
	}
	return Location{
		Latitude:  *result.Location.Latitude,
		Longitude: *result.Location.Longitude,
		Country:   result.Country.ISOCode,
	}, nil
}
