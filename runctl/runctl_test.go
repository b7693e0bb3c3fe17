package runctl

import (
	"context"
	"net"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/miekg/dns"

	"github.com/rbldns/rbldns/loader"
)

func buildTestQuery(t *testing.T, name string) []byte {
	t.Helper()
	m := new(dns.Msg)
	m.SetQuestion(dns.Fqdn(name), dns.TypeA)
	buf, err := m.Pack()
	if err != nil {
		t.Fatal(err)
	}
	return buf
}

func TestPendingMaskSetAndSwap(t *testing.T) {
	var m pendingMask
	m.set(bitHUP)
	m.set(bitAlarm)
	got := m.swap(0)
	if got != bitHUP|bitAlarm {
		t.Errorf("swap() = %b, want %b", got, bitHUP|bitAlarm)
	}
	if m.swap(0) != 0 {
		t.Errorf("mask should be zero after a prior swap(0)")
	}
}

func TestRunAnswersQueryAndShutsDownOnContextCancel(t *testing.T) {
	dir := t.TempDir()
	zonePath := filepath.Join(dir, "sbl.zone")
	if err := os.WriteFile(zonePath, []byte("10.0.0.0/8 :2\n"), 0o644); err != nil {
		t.Fatal(err)
	}

	rel, err := loader.NewReloader([]string{"sbl.example:ip4set:" + zonePath}, loader.Options{DefaultTTL: 300})
	if err != nil {
		t.Fatal(err)
	}
	if err := rel.Boot(); err != nil {
		t.Fatal(err)
	}

	serverConn, err := net.ListenUDP("udp", &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1), Port: 0})
	if err != nil {
		t.Fatal(err)
	}
	defer serverConn.Close()

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		done <- Run(ctx, serverConn, rel, Config{})
	}()

	client, err := net.DialUDP("udp", nil, serverConn.LocalAddr().(*net.UDPAddr))
	if err != nil {
		t.Fatal(err)
	}
	defer client.Close()

	query := buildTestQuery(t, "1.0.0.10.sbl.example.")
	if _, err := client.Write(query); err != nil {
		t.Fatal(err)
	}

	client.SetReadDeadline(time.Now().Add(2 * time.Second))
	buf := make([]byte, 512)
	n, err := client.Read(buf)
	if err != nil {
		t.Fatalf("no response received: %v", err)
	}
	if n < 12 {
		t.Fatalf("response too short: %d bytes", n)
	}

	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Errorf("Run() returned %v, want nil", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Run() did not shut down after context cancellation")
	}
}
