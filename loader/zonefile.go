package loader

import (
	"bufio"
	"errors"
	"fmt"
	"net"
	"os"
	"strconv"
	"strings"

	"github.com/miekg/dns"

	"github.com/rbldns/rbldns/dnset"
	"github.com/rbldns/rbldns/ip4set"
)

// ErrParse is the sentinel wrapped by any zone-file syntax error.
var ErrParse = errors.New("loader: malformed zone file")

// ErrBadZoneSpec is returned for a malformed origin:type:file argument.
var ErrBadZoneSpec = errors.New("loader: malformed zone spec")

// buildState accumulates directive-driven metadata shared by every dataset
// bound at one zone ($TTL, $SOA, $NS are zone-wide in real zone files), in
// file order; a later $TTL or $SOA overrides an earlier one, while $NS
// lines accumulate.
type buildState struct {
	ttl uint32
	soa *dns.SOA
	ns  []*dns.NS
}

func newBuildState(defaultTTL uint32) *buildState {
	return &buildState{ttl: defaultTTL}
}

// datasetState accumulates directive-driven metadata scoped to a single
// dataset ($A, $TXT, and the entry-line default value): each dataset
// starts from this file's defaults regardless of what a sibling dataset's
// files set.
type datasetState struct {
	baseA       [3]byte // first three octets of the synthesized A record
	txtTemplate string
	defaultVal  int
}

func newDatasetState() *datasetState {
	return &datasetState{baseA: [3]byte{127, 0, 0}, defaultVal: 2}
}

// parseDatasetFile reads one backing file, applying zone-wide directives
// to st, dataset-scoped directives to ds, and entries to either ip4 or dn
// (exactly one of which is non-nil, per the dataset's kind).
func parseDatasetFile(path string, st *buildState, ds *datasetState, origin string, ip4 *ip4Adder, dn *dnAdder) error {
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("%w: %s: %v", ErrParse, path, err)
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	lineNo := 0
	for scanner.Scan() {
		lineNo++
		line := scanner.Text()
		if idx := strings.IndexByte(line, '#'); idx >= 0 {
			line = line[:idx]
		}
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}

		if strings.HasPrefix(line, "$") {
			if err := applyDirective(line, st, ds, origin); err != nil {
				return fmt.Errorf("%w: %s:%d: %v", ErrParse, path, lineNo, err)
			}
			continue
		}

		subject, value, err := parseEntryLine(line, ds.defaultVal)
		if err != nil {
			return fmt.Errorf("%w: %s:%d: %v", ErrParse, path, lineNo, err)
		}
		switch {
		case ip4 != nil:
			if err := ip4.add(subject, value); err != nil {
				return fmt.Errorf("%w: %s:%d: %v", ErrParse, path, lineNo, err)
			}
		case dn != nil:
			if err := dn.add(subject, value); err != nil {
				return fmt.Errorf("%w: %s:%d: %v", ErrParse, path, lineNo, err)
			}
		}
	}
	if err := scanner.Err(); err != nil {
		return fmt.Errorf("%w: %s: %v", ErrParse, path, err)
	}
	return nil
}

// ip4Adder and dnAdder let parseDatasetFile stay agnostic of which
// concrete store it is feeding and how a raw entry subject maps onto it.
type ip4Adder struct {
	set          *ip4set.Set
	acceptInCIDR bool
}

func (a *ip4Adder) add(subject string, value int) error {
	start, end, bits, err := ip4set.ParseRange(subject, a.acceptInCIDR)
	if err != nil {
		return err
	}
	if value == 0 {
		// 0 is reserved for "not listed"; an explicit :0 entry is a no-op,
		// not a listing.
		return nil
	}
	a.set.Add(start, end, bits, value)
	return nil
}

type dnAdder struct {
	set *dnset.Set
}

func (a *dnAdder) add(subject string, value int) error {
	if value == 0 {
		return nil
	}
	return a.set.Add(subject, value)
}

// parseEntryLine splits "subject", "subject value" or "subject:value"
// forms (rbldnsd zone files favor the colon form; the distilled spec's own
// example shows a space before the colon, so both are accepted).
func parseEntryLine(line string, defaultValue int) (subject string, value int, err error) {
	if idx := strings.IndexByte(line, ':'); idx >= 0 {
		subject = strings.TrimSpace(line[:idx])
		valText := strings.TrimSpace(line[idx+1:])
		if valText == "" {
			return subject, defaultValue, nil
		}
		n, perr := strconv.Atoi(valText)
		if perr != nil {
			return "", 0, fmt.Errorf("bad classification value %q", valText)
		}
		return subject, n, nil
	}

	fields := strings.Fields(line)
	switch len(fields) {
	case 1:
		return fields[0], defaultValue, nil
	case 2:
		n, perr := strconv.Atoi(fields[1])
		if perr != nil {
			return "", 0, fmt.Errorf("bad classification value %q", fields[1])
		}
		return fields[0], n, nil
	default:
		return "", 0, fmt.Errorf("malformed entry line %q", line)
	}
}

// applyDirective handles one "$..." line.
func applyDirective(line string, st *buildState, ds *datasetState, origin string) error {
	fields := strings.Fields(line)
	directive := strings.ToUpper(fields[0])
	args := fields[1:]

	switch directive {
	case "$TTL":
		if len(args) != 1 {
			return fmt.Errorf("$TTL wants one argument")
		}
		n, err := strconv.Atoi(args[0])
		if err != nil || n < 0 {
			return fmt.Errorf("bad $TTL value %q", args[0])
		}
		st.ttl = uint32(n)

	case "$SOA":
		// $SOA mname rname serial refresh retry expire minttl
		if len(args) != 7 {
			return fmt.Errorf("$SOA wants 7 arguments (mname rname serial refresh retry expire minttl)")
		}
		serial, err1 := strconv.ParseUint(args[2], 10, 32)
		refresh, err2 := strconv.ParseUint(args[3], 10, 32)
		retry, err3 := strconv.ParseUint(args[4], 10, 32)
		expire, err4 := strconv.ParseUint(args[5], 10, 32)
		minttl, err5 := strconv.ParseUint(args[6], 10, 32)
		if err1 != nil || err2 != nil || err3 != nil || err4 != nil || err5 != nil {
			return fmt.Errorf("bad $SOA numeric field in %q", line)
		}
		st.soa = &dns.SOA{
			Hdr:     dns.RR_Header{Name: origin, Rrtype: dns.TypeSOA, Class: dns.ClassINET, Ttl: st.ttl},
			Ns:      dns.Fqdn(args[0]),
			Mbox:    dns.Fqdn(args[1]),
			Serial:  uint32(serial),
			Refresh: uint32(refresh),
			Retry:   uint32(retry),
			Expire:  uint32(expire),
			Minttl:  uint32(minttl),
		}

	case "$NS":
		if len(args) != 1 {
			return fmt.Errorf("$NS wants one argument")
		}
		st.ns = append(st.ns, &dns.NS{
			Hdr: dns.RR_Header{Name: origin, Rrtype: dns.TypeNS, Class: dns.ClassINET, Ttl: st.ttl},
			Ns:  dns.Fqdn(args[0]),
		})

	case "$DATASET":
		// Declares/labels the dataset a file's subsequent entries belong
		// to; the zone-spec grammar already fixes each file's dataset
		// kind and binding, so this directive is accepted for zone-file
		// compatibility but carries no further effect here.
		if len(args) < 1 {
			return fmt.Errorf("$DATASET wants at least a type argument")
		}

	case "$A":
		if len(args) != 1 {
			return fmt.Errorf("$A wants one argument")
		}
		ip := net.ParseIP(args[0]).To4()
		if ip == nil {
			return fmt.Errorf("bad $A address %q", args[0])
		}
		ds.baseA = [3]byte{ip[0], ip[1], ip[2]}

	case "$TXT":
		text := strings.TrimSpace(strings.TrimPrefix(line, fields[0]))
		text = strings.Trim(text, `"`)
		ds.txtTemplate = text

	default:
		return fmt.Errorf("unknown directive %q", fields[0])
	}
	return nil
}
