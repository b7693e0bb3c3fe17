package loader

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/rbldns/rbldns/zone"
)

func TestParseZoneSpecsMergesIdenticalOriginType(t *testing.T) {
	specs, err := ParseZoneSpecs([]string{
		"sbl.example:ip4set:a.zone",
		"sbl.example:ip4set:b.zone",
		"dbl.example:dnset:c.zone",
	})
	if err != nil {
		t.Fatal(err)
	}
	if len(specs) != 2 {
		t.Fatalf("expected 2 merged specs, got %d", len(specs))
	}
	if specs[0].Origin != "sbl.example." || len(specs[0].Files) != 2 {
		t.Errorf("expected merged file list for sbl.example., got %+v", specs[0])
	}
}

func TestParseZoneSpecsRejectsMalformed(t *testing.T) {
	if _, err := ParseZoneSpecs([]string{"missing-colon"}); err == nil {
		t.Errorf("expected error for malformed zone spec")
	}
}

func writeZoneFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestBootAndReloadIP4Zone(t *testing.T) {
	dir := t.TempDir()
	zoneFile := writeZoneFile(t, dir, "sbl.zone", "# sample sbl zone\n10.0.0.0/8 :2\n")

	r, err := NewReloader([]string{"sbl.example:ip4set:" + zoneFile}, Options{DefaultTTL: 2048})
	if err != nil {
		t.Fatal(err)
	}
	if err := r.Boot(); err != nil {
		t.Fatalf("Boot() error: %v", err)
	}

	z, err := r.Registry().Find("1.0.0.10.sbl.example.")
	if err != nil {
		t.Fatalf("Find() error: %v", err)
	}
	if z.Origin != "sbl.example." {
		t.Errorf("Find() returned wrong zone: %s", z.Origin)
	}
	if got := z.Datasets[0].LookupIP4(10<<24 | 1); !got.Found || got.Value != 2 {
		t.Errorf("lookup 10.0.0.1 = %+v, want value 2", got)
	}

	// Untouched files should not trigger a rebuild.
	before := r.Registry()
	r.Reload()
	if r.Registry() != before {
		t.Errorf("Reload() swapped registry pointer despite unchanged mtimes")
	}

	// Touching the file with new content and a later mtime should trigger a rebuild.
	writeZoneFile(t, dir, "sbl.zone", "10.0.0.0/8 :5\n")
	future := time.Now().Add(2 * time.Second)
	if err := os.Chtimes(zoneFile, future, future); err != nil {
		t.Fatal(err)
	}
	r.Reload()
	z2, _ := r.Registry().Find("1.0.0.10.sbl.example.")
	if got := z2.Datasets[0].LookupIP4(10 << 24); !got.Found || got.Value != 5 {
		t.Errorf("after reload, lookup 10.0.0.0 = %+v, want value 5", got)
	}
}

func TestBootFailsOnMissingFile(t *testing.T) {
	r, err := NewReloader([]string{"sbl.example:ip4set:/nonexistent/path.zone"}, Options{DefaultTTL: 2048})
	if err != nil {
		t.Fatal(err)
	}
	if err := r.Boot(); err == nil {
		t.Errorf("expected Boot() to fail for a missing zone file")
	}
}

// stubCache is a minimal in-memory loader.Cache for exercising quickstart.
type stubCache struct {
	saved map[string]*zone.Zone
}

func (c *stubCache) Save(z *zone.Zone) error {
	if c.saved == nil {
		c.saved = make(map[string]*zone.Zone)
	}
	c.saved[z.Origin] = z
	return nil
}

func (c *stubCache) Load(origin string) (*zone.Zone, bool, error) {
	z, ok := c.saved[origin]
	return z, ok, nil
}

func TestQuickstartServesFromCacheThenRebuildsOnFirstReload(t *testing.T) {
	dir := t.TempDir()
	zoneFile := writeZoneFile(t, dir, "sbl.zone", "10.0.0.0/8 :2\n")
	cache := &stubCache{}

	// Prime the cache with an already-booted reloader.
	primer, err := NewReloader([]string{"sbl.example:ip4set:" + zoneFile}, Options{DefaultTTL: 2048, Cache: cache})
	if err != nil {
		t.Fatal(err)
	}
	if err := primer.Boot(); err != nil {
		t.Fatal(err)
	}
	if len(cache.saved) != 1 {
		t.Fatalf("expected Boot() to populate the cache, got %d entries", len(cache.saved))
	}

	// A fresh reloader with quickstart set should serve straight from cache.
	r, err := NewReloader([]string{"sbl.example:ip4set:" + zoneFile}, Options{DefaultTTL: 2048, Quickstart: true, Cache: cache})
	if err != nil {
		t.Fatal(err)
	}
	if err := r.Boot(); err != nil {
		t.Fatal(err)
	}
	z, err := r.Registry().Find("1.0.0.10.sbl.example.")
	if err != nil || z.Datasets[0].LookupIP4(10<<24|1).Value != 2 {
		t.Fatalf("quickstart boot did not serve the cached zone")
	}

	// The very next Reload must rebuild regardless of unchanged mtimes,
	// since the cache-served zone was never recorded in r.built.
	before := r.Registry()
	r.Reload()
	if r.Registry() == before {
		t.Errorf("Reload() after a quickstart boot should always rebuild, but registry pointer is unchanged")
	}
}

func TestBuildZoneBindsMultipleDatasetKinds(t *testing.T) {
	dir := t.TempDir()
	ip4File := writeZoneFile(t, dir, "ip.zone", "10.0.0.0/8 :2\n")
	dnFile := writeZoneFile(t, dir, "dn.zone", ".bad.example :3\n")

	specs := []ZoneSpec{
		{Origin: "combined.example.", Kind: zone.KindIP4, Files: []string{ip4File}},
		{Origin: "combined.example.", Kind: zone.KindDN, Files: []string{dnFile}},
	}
	bz, err := buildZone("combined.example.", specs, Options{DefaultTTL: 2048})
	if err != nil {
		t.Fatal(err)
	}
	if len(bz.zone.Datasets) != 2 {
		t.Fatalf("expected 2 datasets, got %d", len(bz.zone.Datasets))
	}
}

func TestExplicitZeroValueEntryIsNotListed(t *testing.T) {
	dir := t.TempDir()
	ip4File := writeZoneFile(t, dir, "ip.zone", "10.0.0.0/8 :0\n192.168.0.0/16 :2\n")
	dnFile := writeZoneFile(t, dir, "dn.zone", ".bad.example :0\n")

	specs := []ZoneSpec{
		{Origin: "z.example.", Kind: zone.KindIP4, Files: []string{ip4File}},
		{Origin: "z.example.", Kind: zone.KindDN, Files: []string{dnFile}},
	}
	bz, err := buildZone("z.example.", specs, Options{DefaultTTL: 2048})
	if err != nil {
		t.Fatal(err)
	}

	ip4ds := bz.zone.Datasets[0]
	if got := ip4ds.LookupIP4(10 << 24); got.Found {
		t.Errorf("a :0 entry must not be listed at all, got %+v", got)
	}
	if got := ip4ds.LookupIP4(192<<24 | 168<<16); !got.Found || got.Value != 2 {
		t.Errorf("an unrelated :2 entry should still be listed, got %+v", got)
	}

	dnds := bz.zone.Datasets[1]
	if got := dnds.LookupDN("host.bad.example"); got.Found {
		t.Errorf("a :0 domain entry must not be listed, got %+v", got)
	}
}

func TestQuickstartBootSkipsUnloadableZoneInsteadOfFailing(t *testing.T) {
	dir := t.TempDir()
	goodFile := writeZoneFile(t, dir, "good.zone", "10.0.0.0/8 :2\n")

	r, err := NewReloader([]string{
		"good.example:ip4set:" + goodFile,
		"bad.example:ip4set:/nonexistent/path.zone",
	}, Options{DefaultTTL: 2048, Quickstart: true})
	if err != nil {
		t.Fatal(err)
	}
	if err := r.Boot(); err != nil {
		t.Fatalf("quickstart Boot() should not fail on one bad zone: %v", err)
	}
	if r.Registry() == nil {
		t.Fatal("Registry() is nil after a quickstart boot")
	}
	if _, err := r.Registry().Find("1.0.0.10.good.example."); err != nil {
		t.Errorf("good.example should still be servable: %v", err)
	}
	if _, err := r.Registry().Find("1.0.0.10.bad.example."); err == nil {
		t.Errorf("bad.example should be absent from the registry, not served stale or zero-valued")
	}
}
