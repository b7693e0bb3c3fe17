// Package wire implements the DNS packet codec: parsing an incoming UDP
// query into a validated question, dispatching it against a zone
// registry, and building the wire-format response. Parsing and building
// use github.com/miekg/dns for message (de)serialization; the stricter
// RFC 1035 subset this server accepts (single question, no extra
// sections, restricted opcode/class set, no compressed question) is
// enforced in this package, on top of what the library itself accepts.
package wire

import (
	"strings"

	"github.com/miekg/dns"

	"github.com/rbldns/rbldns/zone"
)

const maxUDPSize = 512

// GeoAnnotator resolves the optional $country/$asn TXT template tokens
// for an IPv4 subject. A nil GeoAnnotator leaves those tokens untouched.
type GeoAnnotator interface {
	Country(addr uint32) (string, bool)
	ASN(addr uint32) (string, bool)
}

// Config carries the per-request policy the dispatcher and builder need.
// Zone TTLs already come from the loaded zone itself; Config only carries
// knobs that are not zone data.
type Config struct {
	Geo GeoAnnotator // optional
}

// minHeaderLen is the fixed DNS header size; a packet shorter than this
// has no recoverable id and is dropped with no reply at all.
const minHeaderLen = 12

// Info summarizes a handled query for the caller's query log, independent
// of whether a reply was actually sent.
type Info struct {
	Qname string
	Qtype uint16
	Rcode int
}

// Handle parses buf as a DNS query, dispatches it against reg, and
// returns the wire-format response to send back, or ok=false if the
// packet was too malformed to answer at all (per spec §7, silently
// dropped rather than answered) or the reply could not be packed. Info is
// the zero value when the packet is shorter than a DNS header.
func Handle(buf []byte, reg *zone.Registry, cfg Config) (response []byte, info Info, ok bool) {
	if len(buf) < minHeaderLen {
		return nil, Info{}, false
	}

	req := new(dns.Msg)
	if err := req.Unpack(buf); err != nil {
		out := buildFormErr(buf)
		return out, Info{Rcode: dns.RcodeFormatError}, true
	}

	if rcode, bad := validate(req, buf); bad {
		out, ok := build(req, rcode, nil, nil, nil, cfg)
		qname, qtype := questionOrEmpty(req)
		return out, Info{Qname: qname, Qtype: qtype, Rcode: rcode}, ok
	}

	q := req.Question[0]
	rcode, answers, authority, extra := dispatch(q, reg, cfg)
	out, ok := build(req, rcode, answers, authority, extra, cfg)
	return out, Info{Qname: q.Name, Qtype: q.Qtype, Rcode: rcode}, ok
}

func questionOrEmpty(req *dns.Msg) (qname string, qtype uint16) {
	if len(req.Question) == 0 {
		return "", 0
	}
	return req.Question[0].Name, req.Question[0].Qtype
}

// validate enforces the restricted subset described in §4.5: exactly one
// question, no answer/authority/additional records, opcode QUERY, class
// in {IN, ANY, CHAOS}, and no compression pointer inside the question.
func validate(req *dns.Msg, buf []byte) (rcode int, bad bool) {
	if req.Opcode != dns.OpcodeQuery {
		return dns.RcodeNotImplemented, true
	}
	if len(req.Question) != 1 || len(req.Answer) != 0 || len(req.Ns) != 0 || len(req.Extra) != 0 {
		return dns.RcodeFormatError, true
	}
	switch req.Question[0].Qclass {
	case dns.ClassINET, dns.ClassANY, dns.ClassCHAOS:
	default:
		return dns.RcodeFormatError, true
	}
	if questionIsCompressed(buf) {
		return dns.RcodeFormatError, true
	}
	return dns.RcodeSuccess, false
}

// questionIsCompressed reports whether the question name encoding (the
// bytes immediately following the 12-byte header) contains a compression
// pointer, which this server's strict parse contract rejects even though
// RFC 1035 does not forbid it in a query.
func questionIsCompressed(buf []byte) bool {
	i := minHeaderLen
	for i < len(buf) {
		b := buf[i]
		if b == 0 {
			return false // root label: end of name, no pointer seen
		}
		if b&0xC0 == 0xC0 {
			return true
		}
		i += int(b) + 1
	}
	return false // truncated name; Unpack will have already rejected this
}

// buildFormErr constructs a minimal FORMERR reply echoing only the id
// extracted directly from the raw header, for queries too malformed for
// (*dns.Msg).Unpack to parse a question out of at all.
func buildFormErr(buf []byte) []byte {
	id := uint16(buf[0])<<8 | uint16(buf[1])
	resp := new(dns.Msg)
	resp.Id = id
	resp.Response = true
	resp.Authoritative = true
	resp.Rcode = dns.RcodeFormatError
	out, err := resp.Pack()
	if err != nil {
		return nil
	}
	return out
}

// build assembles and serializes the response, applying the 512-byte
// budget with truncate-at-last-complete-RR semantics.
func build(req *dns.Msg, rcode int, answers, authority, extra []dns.RR, cfg Config) ([]byte, bool) {
	resp := new(dns.Msg)
	resp.SetReply(req)
	resp.Authoritative = true
	resp.RecursionAvailable = false
	resp.Rcode = rcode
	resp.Compress = true
	resp.Answer = answers
	resp.Ns = authority
	resp.Extra = extra

	out, err := resp.Pack()
	if err != nil || len(out) <= maxUDPSize {
		if err != nil {
			return nil, false
		}
		return out, true
	}

	// Overflow: drop RRs from the end of the additional section (then
	// authority, then answer) until it fits, and mark truncated.
	for len(resp.Extra) > 0 && len(out) > maxUDPSize {
		resp.Extra = resp.Extra[:len(resp.Extra)-1]
		out, err = resp.Pack()
		if err != nil {
			return nil, false
		}
	}
	for len(resp.Ns) > 0 && len(out) > maxUDPSize {
		resp.Ns = resp.Ns[:len(resp.Ns)-1]
		out, err = resp.Pack()
		if err != nil {
			return nil, false
		}
	}
	for len(resp.Answer) > 0 && len(out) > maxUDPSize {
		resp.Answer = resp.Answer[:len(resp.Answer)-1]
		out, err = resp.Pack()
		if err != nil {
			return nil, false
		}
	}
	resp.Truncated = true
	out, err = resp.Pack()
	if err != nil {
		return nil, false
	}
	return out, true
}

// expandTemplate substitutes $text (mandatory) and, when geo is
// configured and the subject is an IPv4 address, $country/$asn (optional,
// pass through literally otherwise).
func expandTemplate(template, subjectText string, addr uint32, hasAddr bool, geo GeoAnnotator) string {
	out := strings.ReplaceAll(template, "$text", subjectText)
	if !hasAddr || geo == nil {
		return out
	}
	if country, ok := geo.Country(addr); ok {
		out = strings.ReplaceAll(out, "$country", country)
	}
	if asn, ok := geo.ASN(addr); ok {
		out = strings.ReplaceAll(out, "$asn", asn)
	}
	return out
}
