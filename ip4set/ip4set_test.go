package ip4set

import "testing"

func mustRange(t *testing.T, text string, accept bool) (uint32, uint32, int) {
	t.Helper()
	start, end, bits, err := ParseRange(text, accept)
	if err != nil {
		t.Fatalf("ParseRange(%q) error: %v", text, err)
	}
	return start, end, bits
}

func TestParseRangeDottedForms(t *testing.T) {
	cases := []struct {
		text      string
		wantStart uint32
		wantEnd   uint32
	}{
		{"10.0.0.0/8", 10 << 24, 10<<24 | 0x00FFFFFF},
		{"10/8", 10 << 24, 10<<24 | 0x00FFFFFF}, // short form: 10/8 means 10.0.0.0/8
		{"192.168", 192<<24 | 168<<16, 192<<24 | 168<<16 | 0x0000FFFF},
		{"1.0.0.10/32", 1<<24 | 10, 1<<24 | 10},
		{"0.0.0.0/0", 0, 0xFFFFFFFF},
		{"255.255.255.255/32", 0xFFFFFFFF, 0xFFFFFFFF},
		{"10.0.0.5-10.0.0.20", 10<<24 | 5, 10<<24 | 20},
	}
	for _, tc := range cases {
		start, end, _ := mustRange(t, tc.text, false)
		if start != tc.wantStart || end != tc.wantEnd {
			t.Errorf("ParseRange(%q) = [%d,%d], want [%d,%d]", tc.text, start, end, tc.wantStart, tc.wantEnd)
		}
	}
}

func TestParseRangeHostBits(t *testing.T) {
	_, _, _, err := ParseRange("10.0.0.1/8", false)
	if err == nil {
		t.Fatalf("expected ErrHostBits, got nil")
	}

	start, end, _, err := ParseRange("10.0.0.1/8", true)
	if err != nil {
		t.Fatalf("accept_in_cidr: unexpected error: %v", err)
	}
	if start != 10<<24 || end != 10<<24|0x00FFFFFF {
		t.Errorf("host bits not cleared: got [%d,%d]", start, end)
	}
}

func TestParseRangeInvalid(t *testing.T) {
	bad := []string{"10.0.0.0/33", "10.0.0.0/0foo", "300.1.1.1", "10.0.0.20-10.0.0.5", ""}
	for _, text := range bad {
		if _, _, _, err := ParseRange(text, false); err == nil {
			t.Errorf("ParseRange(%q) expected error, got none", text)
		}
	}
}

func TestLookupBasic(t *testing.T) {
	var s Set
	if err := s.AddCIDR("10.0.0.0/8", 2); err != nil {
		t.Fatal(err)
	}
	s.Finalize()

	if v, ok := s.Lookup(10<<24 | 1); !ok || v != 2 {
		t.Errorf("lookup 10.0.0.1 = (%d,%v), want (2,true)", v, ok)
	}
	if v, ok := s.Lookup(11<<24 | 1); ok || v != 0 {
		t.Errorf("lookup 11.0.0.1 = (%d,%v), want (0,false)", v, ok)
	}
}

func TestLookupAtMostOneMatch(t *testing.T) {
	var s Set
	_ = s.AddCIDR("10.0.0.0/8", 1)
	_ = s.AddCIDR("10.1.0.0/16", 2)
	_ = s.AddCIDR("10.1.1.0/24", 3)
	s.Finalize()

	// Post-finalize invariant: every address falls in at most one entry.
	for _, addr := range []uint32{
		10<<24 | 0<<16 | 0<<8 | 1,
		10<<24 | 1<<16 | 0<<8 | 1,
		10<<24 | 1<<16 | 1<<8 | 1,
		11 << 24,
	} {
		count := 0
		for _, e := range s.ranges {
			if addr >= e.start && addr <= e.end {
				count++
			}
		}
		if count > 1 {
			t.Errorf("addr %d matched %d ranges, want <= 1", addr, count)
		}
	}

	if v, _ := s.Lookup(10<<24 | 1<<16 | 1<<8 | 1); v != 3 {
		t.Errorf("most specific range should win, got %d", v)
	}
	if v, _ := s.Lookup(10<<24 | 1<<16 | 2<<8 | 1); v != 2 {
		t.Errorf("mid-specificity range should win outside the /24, got %d", v)
	}
	if v, _ := s.Lookup(10<<24 | 2<<16); v != 1 {
		t.Errorf("least specific range should win outside the /16, got %d", v)
	}
}

func TestFinalizeLaterFileWinsAtEqualSpecificity(t *testing.T) {
	var s Set
	_ = s.AddCIDR("10.0.0.0/24", 1)
	_ = s.AddCIDR("10.0.0.0/24", 2) // same specificity, inserted later: should win
	s.Finalize()

	if v, ok := s.Lookup(10 << 24); !ok || v != 2 {
		t.Errorf("later insertion should win at equal specificity, got (%d,%v)", v, ok)
	}
}

func TestFinalizeSplitsAroundMoreSpecificOverlap(t *testing.T) {
	var s Set
	_ = s.AddCIDR("10.0.0.0/8", 1)
	_ = s.AddCIDR("10.5.0.0/16", 9)
	s.Finalize()

	if v, _ := s.Lookup(10<<24 | 4<<16); v != 1 {
		t.Errorf("outside the more specific range should keep the broad value, got %d", v)
	}
	if v, _ := s.Lookup(10<<24 | 5<<16); v != 9 {
		t.Errorf("inside the more specific range should take its value, got %d", v)
	}
	if v, _ := s.Lookup(10<<24 | 6<<16); v != 1 {
		t.Errorf("past the more specific range should resume the broad value, got %d", v)
	}
}

func TestEmptySetLookup(t *testing.T) {
	var s Set
	s.Finalize()
	if _, ok := s.Lookup(0); ok {
		t.Errorf("lookup on empty set should never match")
	}
}

func TestSnapshotRestoreRoundTrip(t *testing.T) {
	var s Set
	s.AddCIDR("10.0.0.0/8", 2)
	s.AddCIDR("10.5.0.0/16", 9)
	s.Finalize()

	snap := s.Snapshot()
	if len(snap) == 0 {
		t.Fatal("Snapshot() returned no entries")
	}

	restored := RestoreSet(snap)
	if v, ok := restored.Lookup(10 << 24); !ok || v != 2 {
		t.Errorf("restored lookup 10.0.0.0 = (%d,%v), want (2,true)", v, ok)
	}
	if v, ok := restored.Lookup(10<<24 | 5<<16); !ok || v != 9 {
		t.Errorf("restored lookup 10.5.0.0 = (%d,%v), want (9,true)", v, ok)
	}
	if v, ok := restored.Lookup(11 << 24); ok {
		t.Errorf("restored lookup 11.0.0.0 = (%d,true), want no match", v)
	}
}
