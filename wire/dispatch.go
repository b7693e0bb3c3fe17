package wire

import (
	"fmt"
	"net"
	"strings"

	"github.com/miekg/dns"

	"github.com/rbldns/rbldns/zone"
)

// dispatch resolves one validated question against reg and returns the
// response code and record sections to build a reply from. It never
// returns an error: every outcome the spec describes (REFUSED, NXDOMAIN,
// NOERROR with or without data) is expressed as a return value.
func dispatch(q dns.Question, reg *zone.Registry, cfg Config) (rcode int, answers, authority, extra []dns.RR) {
	qname := strings.ToLower(q.Name)

	z, err := reg.Find(qname)
	if err != nil {
		return dns.RcodeRefused, nil, nil, nil
	}

	labels := zone.Subject(qname, z.Origin)

	if len(labels) == 0 {
		if rrs, handled := apexAnswer(q, z); handled {
			return dns.RcodeSuccess, rrs, nil, nil
		}
	}

	ds, result, subjectText, addr, hasAddr := lookupSubject(labels, z)
	if ds == nil || !result.Found {
		return dns.RcodeNameError, nil, nil, nil
	}

	rrs := answerRRs(q, ds, result, subjectText, addr, hasAddr, z.TTL, cfg)
	return dns.RcodeSuccess, rrs, nil, nil
}

// apexAnswer handles a query for the zone origin itself (empty subject):
// SOA and NS are served directly from the zone, everything else falls
// through to ordinary dataset dispatch (an apex name is, for example,
// also a valid dnset subject: the empty domain).
func apexAnswer(q dns.Question, z *zone.Zone) ([]dns.RR, bool) {
	switch q.Qtype {
	case dns.TypeSOA:
		if z.SOA == nil {
			return nil, true
		}
		return []dns.RR{z.SOA}, true
	case dns.TypeNS:
		if len(z.NS) == 0 {
			return nil, true
		}
		rrs := make([]dns.RR, len(z.NS))
		for i, ns := range z.NS {
			rrs[i] = ns
		}
		return rrs, true
	default:
		return nil, false
	}
}

// lookupSubject picks the dataset whose kind matches the subject's shape
// (four numeric labels decode as an IP4 subject; anything else is a
// domain-name subject) and consults it.
func lookupSubject(labels []string, z *zone.Zone) (ds *zone.Dataset, result zone.LookupResult, subjectText string, addr uint32, hasAddr bool) {
	if a, ok := zone.DecodeIP4Subject(labels); ok {
		for _, d := range z.Datasets {
			if d.Kind == zone.KindIP4 {
				return d, d.LookupIP4(a), dottedIP(a), a, true
			}
		}
		return nil, zone.LookupResult{}, "", 0, false
	}

	name := zone.DecodeDNSubject(labels)
	for _, d := range z.Datasets {
		if d.Kind == zone.KindDN {
			return d, d.LookupDN(name), name, 0, false
		}
	}
	return nil, zone.LookupResult{}, "", 0, false
}

// answerRRs synthesizes the records for a subject known to be listed.
// Qtypes this server doesn't serve for a listed name return no records
// (NOERROR/NODATA), matching an authoritative server's normal behavior
// for a qtype with no data at an existing name.
func answerRRs(q dns.Question, ds *zone.Dataset, result zone.LookupResult, subjectText string, addr uint32, hasAddr bool, ttl uint32, cfg Config) []dns.RR {
	switch q.Qtype {
	case dns.TypeA:
		return []dns.RR{aRecord(q.Name, ds, result.Value, ttl)}
	case dns.TypeTXT:
		if rr := txtRecord(q.Name, ds, subjectText, addr, hasAddr, ttl, cfg); rr != nil {
			return []dns.RR{rr}
		}
		return nil
	case dns.TypeANY:
		rrs := []dns.RR{aRecord(q.Name, ds, result.Value, ttl)}
		if rr := txtRecord(q.Name, ds, subjectText, addr, hasAddr, ttl, cfg); rr != nil {
			rrs = append(rrs, rr)
		}
		return rrs
	default:
		return nil
	}
}

func aRecord(owner string, ds *zone.Dataset, value int, ttl uint32) dns.RR {
	a := ds.AAddress(value)
	return &dns.A{
		Hdr: dns.RR_Header{Name: owner, Rrtype: dns.TypeA, Class: dns.ClassINET, Ttl: ttl},
		A:   net.IPv4(a[0], a[1], a[2], a[3]),
	}
}

func txtRecord(owner string, ds *zone.Dataset, subjectText string, addr uint32, hasAddr bool, ttl uint32, cfg Config) dns.RR {
	if ds.TxtTemplate == "" {
		return nil
	}
	text := expandTemplate(ds.TxtTemplate, subjectText, addr, hasAddr, cfg.Geo)
	return &dns.TXT{
		Hdr: dns.RR_Header{Name: owner, Rrtype: dns.TypeTXT, Class: dns.ClassINET, Ttl: ttl},
		Txt: []string{text},
	}
}

func dottedIP(addr uint32) string {
	return fmt.Sprintf("%d.%d.%d.%d", addr>>24&0xff, addr>>16&0xff, addr>>8&0xff, addr&0xff)
}
