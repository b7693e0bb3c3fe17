// Package zone implements the zone registry and query-name dispatch: the
// mapping from a DNS query name to the zone whose origin is its longest
// suffix, and from there to the dataset that answers it.
package zone

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/miekg/dns"

	"github.com/rbldns/rbldns/dnset"
	"github.com/rbldns/rbldns/ip4set"
)

// Kind identifies which of the fixed set of dataset implementations backs a
// Dataset. Adding a kind is a new variant here, not an open extension point.
type Kind int

const (
	KindIP4 Kind = iota
	KindDN
)

func (k Kind) String() string {
	switch k {
	case KindIP4:
		return "ip4set"
	case KindDN:
		return "dnset"
	default:
		return "unknown"
	}
}

// ParseKind maps the zone-spec's textual dataset type to a Kind.
func ParseKind(text string) (Kind, error) {
	switch strings.ToLower(text) {
	case "ip4set":
		return KindIP4, nil
	case "dnset":
		return KindDN, nil
	default:
		return 0, fmt.Errorf("%w: %q", ErrUnknownKind, text)
	}
}

// ErrUnknownKind is returned by ParseKind for an unrecognized dataset type.
var ErrUnknownKind = errors.New("zone: unknown dataset type")

// ErrNoMatch is returned by Registry.Find when no zone's origin suffixes
// the query name.
var ErrNoMatch = errors.New("zone: no matching zone")

// Dataset is one typed collection bound at a zone, holding either an IP4
// range store or a domain-name store. SubzoneOffset counts the labels
// stripped from the subject before this dataset's key is formed; the
// zone-spec grammar only ever produces direct bindings (offset 0), but the
// field exists so a future grammar extension has somewhere to put it.
type Dataset struct {
	Kind          Kind
	Name          string
	SubzoneOffset int
	Default       int
	TxtTemplate   string
	BaseA         [3]byte // first three octets of the synthesized A record, default 127.0.0

	IP4 *ip4set.Set
	DN  *dnset.Set

	Files []string
}

// AAddress renders the synthesized A record address for a classification
// value: BaseA with value as the final octet.
func (d *Dataset) AAddress(value int) [4]byte {
	if value < 0 {
		value = 0
	}
	if value > 255 {
		value = 255
	}
	return [4]byte{d.BaseA[0], d.BaseA[1], d.BaseA[2], byte(value)}
}

// LookupResult is the outcome of consulting a Dataset for a subject.
type LookupResult struct {
	Value int
	Found bool
	Exact bool // only meaningful for dnset lookups
}

// LookupIP4 consults an IP4 dataset for addr (host byte order).
func (d *Dataset) LookupIP4(addr uint32) LookupResult {
	v, ok := d.IP4.Lookup(addr)
	return LookupResult{Value: v, Found: ok, Exact: ok}
}

// LookupDN consults a domain-name dataset for name.
func (d *Dataset) LookupDN(name string) LookupResult {
	v, ok, exact := d.DN.Lookup(name)
	return LookupResult{Value: v, Found: ok, Exact: exact}
}

// Zone is a named node in the registry: an origin, its ordered datasets,
// SOA/NS records, and the composite mtime its datasets were built from.
type Zone struct {
	Origin   string // lowercase, FQDN wire form, trailing dot
	Datasets []*Dataset
	SOA      *dns.SOA
	NS       []*dns.NS
	TTL      uint32
	Mtime    time.Time
}

// Registry holds all configured zones and answers longest-suffix lookups.
// It is never mutated in place after construction: a reload builds a new
// Registry and the caller swaps the pointer.
type Registry struct {
	zones []*Zone // sorted by non-increasing origin length
}

// NewRegistry builds a Registry from zones, ordering them for longest-suffix
// scan.
func NewRegistry(zones []*Zone) *Registry {
	r := &Registry{zones: append([]*Zone(nil), zones...)}
	// Insertion sort is fine: zone counts are small by design (spec: "typically < 100").
	for i := 1; i < len(r.zones); i++ {
		for j := i; j > 0 && len(r.zones[j].Origin) > len(r.zones[j-1].Origin); j-- {
			r.zones[j], r.zones[j-1] = r.zones[j-1], r.zones[j]
		}
	}
	return r
}

// Find returns the zone whose origin is the longest suffix of qname
// (lowercase FQDN wire form), or ErrNoMatch.
func (r *Registry) Find(qname string) (*Zone, error) {
	for _, z := range r.zones {
		if hasOriginSuffix(qname, z.Origin) {
			return z, nil
		}
	}
	return nil, ErrNoMatch
}

// Zones returns the registry's zones in dispatch order.
func (r *Registry) Zones() []*Zone { return r.zones }

// hasOriginSuffix reports whether origin is a label-aligned suffix of
// qname: an exact match, or a string suffix match immediately preceded by
// a label-separating dot. A bare string-suffix test would let
// "foobad.example." match origin "bad.example.", which is a different
// subtree entirely.
func hasOriginSuffix(qname, origin string) bool {
	if len(qname) == len(origin) {
		return qname == origin
	}
	return len(qname) > len(origin) &&
		strings.HasSuffix(qname, origin) &&
		qname[len(qname)-len(origin)-1] == '.'
}

// Subject strips a zone's origin from a query name, returning the
// remaining labels closest-label-first (DNS label order) with no trailing
// empty label. An exact-origin query yields an empty subject. Callers are
// expected to pass a qname/origin pair already confirmed by Find; if the
// origin is not actually a label-aligned suffix of qname, qname is
// returned unstripped rather than silently cut mid-label.
func Subject(qname, origin string) []string {
	rest := qname
	if hasOriginSuffix(qname, origin) {
		rest = qname[:len(qname)-len(origin)]
	}
	rest = strings.TrimSuffix(rest, ".")
	if rest == "" {
		return nil
	}
	return strings.Split(rest, ".")
}

// DecodeIP4Subject decodes a subject of exactly four numeric labels in
// reversed-octet order (the RBL convention: the label closest to the
// origin is the most significant octet) into a host-order IPv4 address.
func DecodeIP4Subject(labels []string) (uint32, bool) {
	if len(labels) != 4 {
		return 0, false
	}
	var addr uint32
	for i := 0; i < 4; i++ {
		// labels[0] is the least significant octet (leftmost in the query
		// name); reversing recovers normal a.b.c.d order.
		octet, err := strconv.Atoi(labels[3-i])
		if err != nil || octet < 0 || octet > 255 {
			return 0, false
		}
		addr = addr<<8 | uint32(octet)
	}
	return addr, true
}

// DecodeDNSubject joins a subject's labels back into ordinary dotted form
// for a domain-name dataset lookup.
func DecodeDNSubject(labels []string) string {
	return strings.Join(labels, ".")
}
