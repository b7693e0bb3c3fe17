// Package loader parses zone-spec command-line arguments and zone data
// files into a zone.Registry, and drives mtime-triggered, full-zone-rebuild
// reloads.
package loader

import (
	"fmt"
	"log"
	"os"
	"time"

	"github.com/rbldns/rbldns/dnset"
	"github.com/rbldns/rbldns/ip4set"
	"github.com/rbldns/rbldns/zone"
)

// Cache is the subset of snapcache.Cache that the loader depends on, kept
// as an interface here so loader does not need to import snapcache (and so
// tests can stub it).
type Cache interface {
	Save(z *zone.Zone) error
	Load(origin string) (z *zone.Zone, found bool, err error)
}

// Options carries the load-time policy knobs that come from CLI flags.
type Options struct {
	DefaultTTL   uint32
	AcceptInCIDR bool
	Quickstart   bool
	Cache        Cache
}

// builtZone bundles a freshly built zone together with the file mtimes it
// was built from, so Reloader can tell whether a later stat changed
// anything without re-parsing.
type builtZone struct {
	zone  *zone.Zone
	files map[string]time.Time
}

// buildZone parses every file behind one origin's specs into a single
// zone.Zone with one Dataset per spec.
func buildZone(origin string, specs []ZoneSpec, opts Options) (*builtZone, error) {
	st := newBuildState(opts.DefaultTTL)
	fileMtimes := make(map[string]time.Time)
	var datasets []*zone.Dataset

	for _, spec := range specs {
		var ip4 *ip4Adder
		var dn *dnAdder
		ds := &zone.Dataset{Kind: spec.Kind, Name: origin, Files: append([]string(nil), spec.Files...)}
		dss := newDatasetState()

		switch spec.Kind {
		case zone.KindIP4:
			ds.IP4 = &ip4set.Set{AcceptInCIDR: opts.AcceptInCIDR}
			ip4 = &ip4Adder{set: ds.IP4, acceptInCIDR: opts.AcceptInCIDR}
		case zone.KindDN:
			ds.DN = &dnset.Set{}
			dn = &dnAdder{set: ds.DN}
		}

		for _, path := range spec.Files {
			info, err := os.Stat(path)
			if err != nil {
				return nil, fmt.Errorf("stat %s: %w", path, err)
			}
			fileMtimes[path] = info.ModTime()

			if err := parseDatasetFile(path, st, dss, origin, ip4, dn); err != nil {
				return nil, err
			}
		}

		ds.TxtTemplate = dss.txtTemplate
		ds.Default = dss.defaultVal
		ds.BaseA = dss.baseA
		switch spec.Kind {
		case zone.KindIP4:
			ds.IP4.Finalize()
		case zone.KindDN:
			ds.DN.Finalize()
		}
		datasets = append(datasets, ds)
	}

	var maxMtime time.Time
	for _, t := range fileMtimes {
		if t.After(maxMtime) {
			maxMtime = t
		}
	}

	z := &zone.Zone{
		Origin:   origin,
		Datasets: datasets,
		SOA:      st.soa,
		NS:       st.ns,
		TTL:      st.ttl,
		Mtime:    maxMtime,
	}
	return &builtZone{zone: z, files: fileMtimes}, nil
}

// groupByOrigin groups zone specs that share an origin, preserving first-
// seen order of both origins and, within an origin, specs.
func groupByOrigin(specs []ZoneSpec) ([]string, map[string][]ZoneSpec) {
	order := make([]string, 0)
	grouped := make(map[string][]ZoneSpec)
	for _, s := range specs {
		if _, ok := grouped[s.Origin]; !ok {
			order = append(order, s.Origin)
		}
		grouped[s.Origin] = append(grouped[s.Origin], s)
	}
	return order, grouped
}

// Reloader owns the live registry and the per-zone spec/mtime bookkeeping
// needed to decide, on each tick, which zones must be rebuilt.
type Reloader struct {
	opts   Options
	order  []string
	specs  map[string][]ZoneSpec
	built  map[string]*builtZone
	last   map[string]*zone.Zone // most recently served zone per origin, from any source
	active *zone.Registry
}

// NewReloader parses args into zone specs, ready for an initial Boot.
func NewReloader(args []string, opts Options) (*Reloader, error) {
	specs, err := ParseZoneSpecs(args)
	if err != nil {
		return nil, err
	}
	order, grouped := groupByOrigin(specs)
	return &Reloader{opts: opts, order: order, specs: grouped, built: make(map[string]*builtZone), last: make(map[string]*zone.Zone)}, nil
}

// Boot performs the initial load. Outside of quickstart, the first
// zone-build failure aborts the boot and is returned verbatim — the
// caller decides fatality, but Registry() is left unusable (nil) since
// nothing has been validated yet.
//
// When opts.Quickstart and opts.Cache are both set, each origin is first
// offered to the cache; a hit is served immediately without parsing the
// backing files, at the cost of possibly-stale SOA/NS (the cached record
// never carries them) and possibly-stale dataset contents. A zone served
// from the cache is deliberately left out of r.built, so the very next
// Reload call always finds it "changed" and rebuilds it for real — the
// cache only ever buys the gap between process start and the first
// recheck tick. Under quickstart a build failure with no cache hit does
// not abort the boot either: that one origin is simply left out of the
// registry (logged, not fatal) so the rest of the zones can still be
// served immediately.
func (r *Reloader) Boot() error {
	var zones []*zone.Zone
	for _, origin := range r.order {
		if r.opts.Quickstart && r.opts.Cache != nil {
			if z, found, err := r.opts.Cache.Load(origin); err != nil {
				log.Printf("WARN: snapcache load of zone %s failed: %v", origin, err)
			} else if found {
				zones = append(zones, z)
				r.last[origin] = z
				continue
			}
		}

		bz, err := buildZone(origin, r.specs[origin], r.opts)
		if err != nil {
			if r.opts.Quickstart {
				log.Printf("WARN: initial load of zone %s failed: %v", origin, err)
				continue
			}
			return fmt.Errorf("loading zone %s: %w", origin, err)
		}
		r.built[origin] = bz
		zones = append(zones, bz.zone)
		r.last[origin] = bz.zone
		r.save(bz.zone)
	}
	r.active = zone.NewRegistry(zones)
	return nil
}

// save writes z to the configured cache, if any, logging rather than
// failing on error: the cache is always best-effort.
func (r *Reloader) save(z *zone.Zone) {
	if r.opts.Cache == nil {
		return
	}
	if err := r.opts.Cache.Save(z); err != nil {
		log.Printf("WARN: snapcache save of zone %s failed: %v", z.Origin, err)
	}
}

// Registry returns the currently active, immutable registry.
func (r *Reloader) Registry() *zone.Registry { return r.active }

// Reload re-stats every zone's backing files; a zone whose files'
// composite mtime changed is rebuilt from scratch. A zone that fails to
// rebuild keeps its previous contents and the failure is logged, never
// fatal (this method only ever runs post-init).
func (r *Reloader) Reload() {
	changed := false
	var zones []*zone.Zone

	for _, origin := range r.order {
		prev := r.built[origin]
		if prev != nil && !zoneChanged(prev, r.specs[origin]) {
			zones = append(zones, prev.zone)
			continue
		}

		bz, err := buildZone(origin, r.specs[origin], r.opts)
		if err != nil {
			if last := r.last[origin]; last != nil {
				// Either a normal rebuild failure (fall back to the last
				// parsed contents) or a quickstart cache hit that still
				// hasn't managed a real rebuild (fall back to the cached
				// contents, still better than nothing).
				log.Printf("WARN: reload of zone %s failed, keeping previous contents: %v", origin, err)
				zones = append(zones, last)
				continue
			}
			// Never successfully served from any source: the zone is
			// simply absent from the registry until a later reload
			// succeeds. Queries under its origin are REFUSED in the
			// meantime, same as any other unconfigured zone.
			log.Printf("WARN: zone %s has never loaded successfully: %v", origin, err)
			continue
		}
		r.built[origin] = bz
		zones = append(zones, bz.zone)
		r.last[origin] = bz.zone
		changed = true
		r.save(bz.zone)
		log.Printf("INFO: reloaded zone %s (%d dataset(s))", origin, len(bz.zone.Datasets))
	}

	if changed {
		r.active = zone.NewRegistry(zones)
	}
}

// zoneChanged reports whether any backing file's mtime differs from what
// was recorded the last time this zone was built.
func zoneChanged(prev *builtZone, specs []ZoneSpec) bool {
	if prev == nil {
		return true
	}
	for _, spec := range specs {
		for _, path := range spec.Files {
			info, err := os.Stat(path)
			if err != nil {
				return true // missing/unreadable file: attempt rebuild, which will report the error
			}
			if t, ok := prev.files[path]; !ok || !t.Equal(info.ModTime()) {
				return true
			}
		}
	}
	return false
}
