// Package netlist implements the accept/log source-address filter list:
// a comma/semicolon/space-separated sequence of CIDRs or hostnames, each
// optionally prefixed with '!' for deny, matched first-rule-wins with an
// implicit terminal rule that inverts the last explicit one.
package netlist

import (
	"fmt"
	"net"
	"strings"

	"github.com/rbldns/rbldns/ip4set"
)

// rule is one parsed netlist entry.
type rule struct {
	deny    bool
	network *net.IPNet
	addr    net.IP // set instead of network for a bare host literal
}

// List is a parsed, ready-to-match netlist. A zero-value List (no rules)
// admits every address, matching the spec's boundary case for an empty
// filter.
type List struct {
	rules []rule
}

// Parse splits text on commas, semicolons and whitespace and parses each
// token as an optionally-'!'-prefixed CIDR or host literal. Hostnames are
// resolved once, at parse time (not per-packet); a hostname that fails to
// resolve is dropped with no error, since netlists commonly outlive
// transient DNS hiccups and a restrictive misparse would be worse than a
// missed rule.
func Parse(text string) (*List, error) {
	fields := strings.FieldsFunc(text, func(r rune) bool {
		return r == ',' || r == ';' || r == ' ' || r == '\t'
	})

	l := &List{}
	for _, f := range fields {
		if f == "" {
			continue
		}
		deny := strings.HasPrefix(f, "!")
		if deny {
			f = f[1:]
		}
		if f == "" {
			return nil, fmt.Errorf("netlist: empty token after '!'")
		}

		if _, ipnet, err := net.ParseCIDR(f); err == nil {
			l.rules = append(l.rules, rule{deny: deny, network: ipnet})
			continue
		}
		if ipnet, ok := parseShortCIDR(f); ok {
			l.rules = append(l.rules, rule{deny: deny, network: ipnet})
			continue
		}
		if ip := net.ParseIP(f); ip != nil {
			l.rules = append(l.rules, rule{deny: deny, addr: ip})
			continue
		}
		ips, err := net.LookupIP(f)
		if err != nil || len(ips) == 0 {
			continue
		}
		for _, ip := range ips {
			l.rules = append(l.rules, rule{deny: deny, addr: ip})
		}
	}
	return l, nil
}

// Allowed reports whether addr is admitted by the list: the first
// matching rule wins; if nothing matches, the implicit terminal rule is
// the inverse of the last explicit rule (deny-only lists admit everything
// else, allow-only lists deny everything else). An empty list admits
// everything.
func (l *List) Allowed(addr net.IP) bool {
	if l == nil || len(l.rules) == 0 {
		return true
	}
	for _, r := range l.rules {
		if r.matches(addr) {
			return !r.deny
		}
	}
	return l.rules[len(l.rules)-1].deny
}

// parseShortCIDR handles the rbldnsd short dotted CIDR form ("127/8"
// meaning "127.0.0.0/8") that net.ParseCIDR rejects outright. Only tokens
// containing '/' are considered, so a bare literal still falls through to
// net.ParseIP/net.LookupIP below.
func parseShortCIDR(f string) (*net.IPNet, bool) {
	if !strings.Contains(f, "/") {
		return nil, false
	}
	start, _, bits, err := ip4set.ParseRange(f, true)
	if err != nil {
		return nil, false
	}
	ip := net.IPv4(byte(start>>24), byte(start>>16), byte(start>>8), byte(start))
	return &net.IPNet{IP: ip.To4(), Mask: net.CIDRMask(bits, 32)}, true
}

func (r rule) matches(addr net.IP) bool {
	if r.network != nil {
		return r.network.Contains(addr)
	}
	return r.addr.Equal(addr)
}
