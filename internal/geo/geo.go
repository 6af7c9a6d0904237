// Package geo annotates addresses with country codes from a MaxMind
// country database.
package geo

import (
	"fmt"
	"net"
	"net/netip"

	"github.com/oschwald/geoip2-golang"

	"firestige.xyz/anansi/internal/core"
)

const (
	// Bogon is returned for addresses the database has no country for.
	Bogon = "bogon"
	// Unknown is returned when the lookup itself fails.
	Unknown = "unknown"
)

// CountryLookup maps an address to an ISO country code.
type CountryLookup interface {
	Country(addr netip.Addr) string
}

// Resolver looks countries up in an open database. It is safe for
// concurrent use.
type Resolver struct {
	db *geoip2.Reader
}

// Open opens the database at path once for the life of the Resolver.
func Open(path string) (*Resolver, error) {
	db, err := geoip2.Open(path)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", core.ErrGeoIPOpen, path, err)
	}
	return &Resolver{db: db}, nil
}

// Country returns the ISO code for addr, Bogon when the record carries
// none (private and reserved ranges), or Unknown on lookup failure.
func (r *Resolver) Country(addr netip.Addr) string {
	if !addr.IsValid() {
		return Unknown
	}
	record, err := r.db.Country(net.IP(addr.AsSlice()))
	if err != nil {
		return Unknown
	}
	return isoOrBogon(record.Country.IsoCode)
}

// Close releases the database.
func (r *Resolver) Close() error {
	return r.db.Close()
}

func isoOrBogon(code string) string {
	if code == "" {
		return Bogon
	}
	return code
}

// Static is a CountryLookup over a fixed table, for tests and for
// pinning well-known addresses.
type Static map[netip.Addr]string

// Country implements CountryLookup.
func (s Static) Country(addr netip.Addr) string {
	if !addr.IsValid() {
		return Unknown
	}
	return isoOrBogon(s[addr.Unmap()])
}
