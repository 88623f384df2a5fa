// EN4720 - Smart Home Attack Detector
// Copyright 2026 Security-in-Cyber-Physical-Systems
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/Security-in-Cyber-Physical-Systems/EN4720

package geoip

import (
	"context"
	"fmt"
	"net"

	"github.com/oschwald/geoip2-golang"
)

// MMDB resolves addresses from a local GeoLite2/GeoIP2 City database.
type MMDB struct {
	reader *geoip2.Reader
}

// OpenMMDB opens the database at path.
func OpenMMDB(path string) (*MMDB, error) {
	reader, err := geoip2.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open geoip database %s: %w", path, err)
	}
	return &MMDB{reader: reader}, nil
}

// Resolve looks ip up in the database. Addresses without coordinates are unresolved.
func (m *MMDB) Resolve(_ context.Context, ip string) (Location, error) {
	addr := net.ParseIP(ip)
	if addr == nil {
		return Location{}, fmt.Errorf("%w: invalid IP address %q", ErrUnresolved, ip)
	}
	city, err := m.reader.City(addr)
	if err != nil {
		return Location{}, fmt.Errorf("%w: %w", ErrUnresolved, err)
	}
	if city.Location.Latitude == 0 && city.Location.Longitude == 0 {
		return Location{}, ErrUnresolved
	}
	return Location{
		Latitude:  city.Location.Latitude,
		Longitude: city.Location.Longitude,
		Country:   city.Country.IsoCode,
	}, nil
}

// Close releases the database.
func (m *MMDB) Close() error {
	return m.reader.Close()
}
