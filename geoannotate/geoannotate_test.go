package geoannotate

import "testing"

func TestUnconfiguredAnnotatorIsANoOp(t *testing.T) {
	a := &Annotator{}
	if _, ok := a.Country(1 << 24); ok {
		t.Error("Country() with no database configured should report ok=false")
	}
	if _, ok := a.ASN(1 << 24); ok {
		t.Error("ASN() with no database configured should report ok=false")
	}
	if err := a.Close(); err != nil {
		t.Errorf("Close() on an empty Annotator: %v", err)
	}
}

func TestNilAnnotatorIsANoOp(t *testing.T) {
	var a *Annotator
	if _, ok := a.Country(1); ok {
		t.Error("Country() on a nil Annotator should report ok=false")
	}
	if _, ok := a.ASN(1); ok {
		t.Error("ASN() on a nil Annotator should report ok=false")
	}
	if err := a.Close(); err != nil {
		t.Errorf("Close() on a nil Annotator: %v", err)
	}
}

func TestOpenRejectsBadPath(t *testing.T) {
	if _, err := Open("/nonexistent/country.mmdb", ""); err == nil {
		t.Error("Open() with a missing country db path should fail")
	}
	if _, err := Open("", "/nonexistent/asn.mmdb"); err == nil {
		t.Error("Open() with a missing asn db path should fail")
	}
}

func TestToIPRoundTrip(t *testing.T) {
	ip := toIP(0x0A010203)
	if ip.String() != "10.1.2.3" {
		t.Errorf("toIP(0x0A010203) = %s, want 10.1.2.3", ip.String())
	}
}
