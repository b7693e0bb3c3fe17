// Package geoannotate resolves the optional $country/$asn TXT-template
// tokens from operator-supplied MaxMind databases. It is never required:
// a server run without -geo-country/-geo-asn simply leaves those tokens
// unexpanded, per the mandatory-$text-only contract in wire.
package geoannotate

import (
	"fmt"
	"net"

	"github.com/oschwald/geoip2-golang"
)

// Annotator implements wire.GeoAnnotator against one or two MaxMind
// databases. Either reader may be nil, in which case the corresponding
// token is simply never resolved.
type Annotator struct {
	country *geoip2.Reader
	asn     *geoip2.Reader
}

// Open opens the configured MaxMind databases. Either path may be empty,
// in which case that lookup is left permanently unavailable. An error
// opening a supplied path is always returned, not swallowed — unlike
// snapcache, a misconfigured geo database is an operator mistake worth
// failing startup over.
func Open(countryPath, asnPath string) (*Annotator, error) {
	a := &Annotator{}
	if countryPath != "" {
		r, err := geoip2.Open(countryPath)
		if err != nil {
			return nil, fmt.Errorf("geoannotate: opening country db %s: %w", countryPath, err)
		}
		a.country = r
	}
	if asnPath != "" {
		r, err := geoip2.Open(asnPath)
		if err != nil {
			a.Close()
			return nil, fmt.Errorf("geoannotate: opening asn db %s: %w", asnPath, err)
		}
		a.asn = r
	}
	return a, nil
}

// Close closes whichever databases were opened.
func (a *Annotator) Close() error {
	if a == nil {
		return nil
	}
	var err error
	if a.country != nil {
		if e := a.country.Close(); e != nil {
			err = e
		}
	}
	if a.asn != nil {
		if e := a.asn.Close(); e != nil && err == nil {
			err = e
		}
	}
	return err
}

// Country resolves addr (host byte order IPv4) to an ISO country code. It
// reports ok=false if no country database is configured, the address
// isn't found, or the record carries no ISO code.
func (a *Annotator) Country(addr uint32) (string, bool) {
	if a == nil || a.country == nil {
		return "", false
	}
	record, err := a.country.Country(toIP(addr))
	if err != nil || record.Country.IsoCode == "" {
		return "", false
	}
	return record.Country.IsoCode, true
}

// ASN resolves addr to a textual "ASnnnn Organization Name" descriptor. It
// reports ok=false if no ASN database is configured or the address isn't
// found.
func (a *Annotator) ASN(addr uint32) (string, bool) {
	if a == nil || a.asn == nil {
		return "", false
	}
	record, err := a.asn.ASN(toIP(addr))
	if err != nil || record.AutonomousSystemNumber == 0 {
		return "", false
	}
	return fmt.Sprintf("AS%d %s", record.AutonomousSystemNumber, record.AutonomousSystemOrganization), true
}

func toIP(addr uint32) net.IP {
	return net.IPv4(byte(addr>>24), byte(addr>>16), byte(addr>>8), byte(addr))
}
