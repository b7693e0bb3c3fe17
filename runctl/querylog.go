package runctl

import (
	"bufio"
	"fmt"
	"net"
	"os"
	"time"

	"github.com/rbldns/rbldns/netlist"
)

// QueryLogger appends one line per answered/considered query to an
// optional log file, restricted to source addresses admitted by an -L
// netlist. A nil *QueryLogger (no -l given) is a valid no-op receiver.
type QueryLogger struct {
	file      *os.File
	w         *bufio.Writer
	flushEach bool
	accept    *netlist.List
}

// OpenQueryLog opens path (created if missing, appended to) for query logging. A leading
// '+' in path requests a flush after every line; it is stripped before
// opening. accept may be nil, admitting every source address.
func OpenQueryLog(path string, accept *netlist.List) (*QueryLogger, error) {
	if path == "" {
		return nil, nil
	}
	flushEach := false
	if path[0] == '+' {
		flushEach = true
		path = path[1:]
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, fmt.Errorf("runctl: opening query log %s: %w", path, err)
	}
	return &QueryLogger{file: f, w: bufio.NewWriter(f), flushEach: flushEach, accept: accept}, nil
}

// Log records one query line if ql is non-nil and src is admitted by the
// -L netlist.
func (ql *QueryLogger) Log(src net.Addr, qname string, qtype uint16, rcode int) {
	if ql == nil {
		return
	}
	host, _, err := net.SplitHostPort(src.String())
	if err != nil {
		host = src.String()
	}
	ip := net.ParseIP(host)
	if ql.accept != nil && ip != nil && !ql.accept.Allowed(ip) {
		return
	}
	fmt.Fprintf(ql.w, "%s %s %s %d rcode=%d\n", time.Now().UTC().Format(time.RFC3339), host, qname, qtype, rcode)
	if ql.flushEach {
		ql.w.Flush()
	}
}

// Reopen closes and reopens the log file at the same path, for SIGHUP
// (e.g. after external log rotation).
func (ql *QueryLogger) Reopen() error {
	if ql == nil {
		return nil
	}
	path := ql.file.Name()
	ql.w.Flush()
	ql.file.Close()
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return fmt.Errorf("runctl: reopening query log %s: %w", path, err)
	}
	ql.file = f
	ql.w = bufio.NewWriter(f)
	return nil
}

// Close flushes and closes the log file.
func (ql *QueryLogger) Close() error {
	if ql == nil {
		return nil
	}
	ql.w.Flush()
	return ql.file.Close()
}
