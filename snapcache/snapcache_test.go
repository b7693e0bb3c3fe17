package snapcache

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/rbldns/rbldns/dnset"
	"github.com/rbldns/rbldns/ip4set"
	"github.com/rbldns/rbldns/zone"
)

func TestSaveThenLoadRoundTrip(t *testing.T) {
	dir := t.TempDir()
	c, err := Open(filepath.Join(dir, "cache.db"))
	if err != nil {
		t.Fatal(err)
	}
	defer c.Close()

	ip4 := &ip4set.Set{}
	ip4.AddCIDR("10.0.0.0/8", 2)
	ip4.Finalize()

	dn := &dnset.Set{}
	dn.Add(".bad.example", 3)
	dn.Finalize()

	z := &zone.Zone{
		Origin: "sbl.example.",
		Mtime:  time.Unix(1700000000, 0),
		Datasets: []*zone.Dataset{
			{Kind: zone.KindIP4, BaseA: [3]byte{127, 0, 0}, Default: 2, IP4: ip4},
			{Kind: zone.KindDN, TxtTemplate: "$text is bad", DN: dn},
		},
	}

	if err := c.Save(z); err != nil {
		t.Fatal(err)
	}

	restored, found, err := c.Load("sbl.example.")
	if err != nil {
		t.Fatal(err)
	}
	if !found {
		t.Fatal("Load() reported a miss for a saved origin")
	}
	if !restored.Mtime.Equal(z.Mtime) {
		t.Errorf("Mtime = %v, want %v", restored.Mtime, z.Mtime)
	}
	if len(restored.Datasets) != 2 {
		t.Fatalf("Datasets = %d, want 2", len(restored.Datasets))
	}

	if got := restored.Datasets[0].LookupIP4(10 << 24); !got.Found || got.Value != 2 {
		t.Errorf("restored ip4 lookup = %+v, want value 2", got)
	}
	if got := restored.Datasets[1].LookupDN("x.bad.example"); !got.Found || got.Value != 3 {
		t.Errorf("restored dn lookup = %+v, want value 3", got)
	}
}

func TestLoadMissReturnsNoError(t *testing.T) {
	dir := t.TempDir()
	c, err := Open(filepath.Join(dir, "cache.db"))
	if err != nil {
		t.Fatal(err)
	}
	defer c.Close()

	_, found, err := c.Load("never-saved.example.")
	if err != nil {
		t.Fatalf("Load() error on a clean miss: %v", err)
	}
	if found {
		t.Error("Load() reported found=true for an origin never saved")
	}
}

func TestNilCacheIsANoOp(t *testing.T) {
	var c *Cache
	if err := c.Save(&zone.Zone{Origin: "x."}); err != nil {
		t.Errorf("Save() on nil cache: %v", err)
	}
	if _, found, err := c.Load("x."); err != nil || found {
		t.Errorf("Load() on nil cache = (found=%v, err=%v), want (false, nil)", found, err)
	}
	if err := c.Close(); err != nil {
		t.Errorf("Close() on nil cache: %v", err)
	}
}
