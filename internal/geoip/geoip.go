// Package geoip resolves a server address to a country code and flag emoji,
// defaulting to "UN"/🇺🇳 whenever the database is unavailable, the lookup
// misses, or the address is not an IP literal.
package geoip

import (
	"net"

	"github.com/oschwald/maxminddb-golang"
	"github.com/sirupsen/logrus"

	"proxy-fleet-evaluator/internal/descriptor"
)

// Reader looks up country codes from a MaxMind Country database.
type Reader struct {
	db  *maxminddb.Reader
	log *logrus.Logger
}

// Open opens the database at path. A missing or unreadable file is not
// fatal: the caller gets a Reader whose lookups all degrade to the default
// country, matching the adapter contract (no bootstrap download is
// performed here).
func Open(path string, log *logrus.Logger) *Reader {
	db, err := maxminddb.Open(path)
	if err != nil {
		log.WithFields(logrus.Fields{"path": path, "err": err}).Warn("geoip database unavailable; using default country for all lookups")
		return &Reader{log: log}
	}
	return &Reader{db: db, log: log}
}

// Close releases the underlying database handle, if one was opened.
func (r *Reader) Close() error {
	if r.db == nil {
		return nil
	}
	return r.db.Close()
}

type countryRecord struct {
	Country struct {
		ISOCode string `maxminddb:"iso_code"`
	} `maxminddb:"country"`
}

// Lookup returns the ISO-3166-1 alpha-2 country code and its flag emoji for
// address. Hostnames (non-IP-literal addresses) always return the default,
// since resolving them would require a DNS round trip this adapter does not
// perform.
func (r *Reader) Lookup(address string) (string, string) {
	if r.db == nil {
		return descriptor.DefaultCountryCode, descriptor.DefaultFlag
	}

	ip := net.ParseIP(address)
	if ip == nil {
		return descriptor.DefaultCountryCode, descriptor.DefaultFlag
	}

	var record countryRecord
	if err := r.db.Lookup(ip, &record); err != nil {
		r.log.WithFields(logrus.Fields{"address": address, "err": err}).Debug("geoip lookup failed")
		return descriptor.DefaultCountryCode, descriptor.DefaultFlag
	}
	if record.Country.ISOCode == "" {
		return descriptor.DefaultCountryCode, descriptor.DefaultFlag
	}
	return record.Country.ISOCode, flagEmoji(record.Country.ISOCode)
}

// flagEmoji converts a 2-letter ISO country code to its regional-indicator
// flag emoji: each letter maps to U+1F1E6..U+1F1FF by the fixed offset
// 0x1F1E6 - 'A'.
func flagEmoji(code string) string {
	const offset = 0x1F1E6 - 'A'
	runes := make([]rune, 0, len(code))
	for _, c := range code {
		if c >= 'a' && c <= 'z' {
			c -= 'a' - 'A'
		}
		runes = append(runes, c+offset)
	}
	return string(runes)
}
