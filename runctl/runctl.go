// Package runctl is the reload/signal supervisor: the single-threaded
// event loop that owns the UDP socket, drains pending signals under a
// blocked-signal critical section, drives periodic and SIGHUP-triggered
// reloads, and answers queries by handing them to the wire package.
//
// Go has no direct equivalent of a C signal handler running in the
// interrupted thread's context; os/signal delivers on its own goroutine
// instead. That goroutine is written to do only what a handler would —
// atomically OR a bit into the pending mask, then nudge the loop awake —
// so the concurrency contract the source
// relies on (handlers touch nothing but the mask; all real work happens
// on one thread, under the critical section) is still the one actually
// enforced: parsing, lookup, answer synthesis and reload all happen on
// the single service goroutine below.
package runctl

import (
	"context"
	"errors"
	"log"
	"net"
	"os"
	"os/signal"
	"time"

	"github.com/miekg/dns"
	"golang.org/x/sys/unix"

	"github.com/rbldns/rbldns/loader"
	"github.com/rbldns/rbldns/netlist"
	"github.com/rbldns/rbldns/wire"
)

// Config carries the resolved run-time policy the loop needs.
type Config struct {
	RecheckInterval time.Duration
	Accept          *netlist.List // -a: which source IPs get answered; nil admits everyone
	QueryLog        *QueryLogger
	Stats           *Counters
	Verbose         bool
	Geo             wire.GeoAnnotator
}

type inbound struct {
	data []byte
	addr net.Addr
}

// Run blocks servicing conn until ctx is canceled, SIGTERM/SIGINT is
// received, or the socket is closed out from under it. It returns nil on
// a clean shutdown.
func Run(ctx context.Context, conn *net.UDPConn, rel *loader.Reloader, cfg Config) error {
	if cfg.Stats == nil {
		cfg.Stats = &Counters{}
	}

	if err := sizeRecvBuffer(conn); err != nil {
		log.Printf("WARN: %v", err)
	}

	sigCh := make(chan os.Signal, 8)
	signal.Notify(sigCh, sigHUP, sigAlarm, sigUSR1, sigUSR2, sigTerm, sigInt)
	signal.Ignore(sigPipe)
	defer signal.Stop(sigCh)

	var pending pendingMask
	wake := make(chan struct{}, 1)
	go pumpSignals(sigCh, &pending, wake)

	alarmStop := make(chan struct{})
	defer close(alarmStop)
	go pumpAlarm(cfg.RecheckInterval, &pending, wake, alarmStop)

	recvCh := make(chan inbound, 8)
	recvErrCh := make(chan error, 1)
	go pumpRecv(conn, recvCh, recvErrCh)

	wireCfg := wire.Config{Geo: cfg.Geo}

	for {
		select {
		case <-ctx.Done():
			cfg.Stats.Dump()
			return nil

		case err := <-recvErrCh:
			return err

		case in := <-recvCh:
			cfg.Stats.Queries.Add(1)
			handleQuery(conn, in, rel, cfg, wireCfg)

		case <-wake:
		}

		if shutdown := drain(&pending, rel, cfg); shutdown {
			cfg.Stats.Dump()
			return nil
		}
	}
}

// handleQuery answers (or drops) one received packet. Source-address
// filtering (-a) happens before the packet is even handed to the codec,
// matching the spec's "restrict which source IPs get answered" contract.
func handleQuery(conn *net.UDPConn, in inbound, rel *loader.Reloader, cfg Config, wireCfg wire.Config) {
	if cfg.Accept != nil {
		host, _, err := net.SplitHostPort(in.addr.String())
		ip := net.ParseIP(host)
		if err == nil && ip != nil && !cfg.Accept.Allowed(ip) {
			cfg.Stats.Dropped.Add(1)
			return
		}
	}

	out, info, ok := wire.Handle(in.data, rel.Registry(), wireCfg)
	if !ok {
		cfg.Stats.Dropped.Add(1)
		return
	}

	if _, err := conn.WriteTo(out, in.addr); err != nil {
		// Only EINTR is retried, and only once; any other error is logged
		// and the packet is given up on, per the error-handling
		// taxonomy's "never crash the process".
		if !errors.Is(err, unix.EINTR) {
			log.Printf("WARN: sendto %s: %v", in.addr, err)
			return
		}
		if _, err2 := conn.WriteTo(out, in.addr); err2 != nil {
			log.Printf("WARN: sendto %s: %v", in.addr, err2)
			return
		}
	}
	switch info.Rcode {
	case dns.RcodeRefused:
		cfg.Stats.Refused.Add(1)
	case dns.RcodeNameError:
		cfg.Stats.NXDomain.Add(1)
	default:
		cfg.Stats.Answered.Add(1)
	}
	cfg.QueryLog.Log(in.addr, info.Qname, info.Qtype, info.Rcode)
}

// drain runs the top-of-loop critical section: block {HUP,ALRM,USR1,USR2},
// atomically swap the pending mask to zero, restore the signal mask, then
// act on whatever bits were set. Returns true if a shutdown was requested.
func drain(pending *pendingMask, rel *loader.Reloader, cfg Config) (shutdown bool) {
	var bits uint32
	withSignalsBlocked(func() {
		bits = pending.swap(0)
	})

	if bits&bitTerm != 0 {
		return true
	}
	if bits&bitHUP != 0 {
		log.Printf("INFO: SIGHUP received: reopening log and reloading")
		if err := cfg.QueryLog.Reopen(); err != nil {
			log.Printf("WARN: %v", err)
		}
		reload(rel, cfg)
	}
	if bits&bitAlarm != 0 {
		reload(rel, cfg)
	}
	if bits&bitUSR1 != 0 {
		cfg.Stats.Dump()
	}
	if bits&bitUSR2 != 0 {
		cfg.Stats.Dump()
		cfg.Stats.Reset()
	}
	return false
}

func reload(rel *loader.Reloader, cfg Config) {
	rel.Reload()
	cfg.Stats.Reloads.Add(1)
	if cfg.Verbose {
		log.Printf("INFO: reload check complete (%d zone(s))", len(rel.Registry().Zones()))
	}
}

// pumpRecv is the only goroutine that ever blocks in recvfrom; it exists
// so the service loop's select can treat "a packet arrived" and "a signal
// arrived" as two branches of the same wait, mirroring the source's single
// suspension point.
func pumpRecv(conn *net.UDPConn, out chan<- inbound, errCh chan<- error) {
	buf := make([]byte, 65535)
	for {
		n, addr, err := conn.ReadFrom(buf)
		if err != nil {
			errCh <- err
			return
		}
		cp := make([]byte, n)
		copy(cp, buf[:n])
		out <- inbound{data: cp, addr: addr}
	}
}
