// Package snapcache is an optional, purely-startup-latency on-disk
// snapshot of the last successfully loaded zone datasets. It is consulted
// only when -q (quickstart) is given, and only at boot: every snapshot it
// returns is superseded by the first real reload tick's stat+parse pass,
// which also writes the snapshot back for next time. A snapcache failure
// of any kind is always non-fatal — the cache can only ever help startup
// latency, never correctness.
package snapcache

import (
	"fmt"
	"time"

	"github.com/syndtr/goleveldb/leveldb"
	"github.com/syndtr/goleveldb/leveldb/opt"
	"github.com/vmihailenco/msgpack/v5"

	"github.com/rbldns/rbldns/dnset"
	"github.com/rbldns/rbldns/ip4set"
	"github.com/rbldns/rbldns/zone"
)

// Cache wraps a LevelDB instance keyed by zone origin.
type Cache struct {
	db *leveldb.DB
}

// Open opens (creating if needed) the snapshot database at path, with
// snappy-compressed values, matching the rest of the ecosystem's default
// goleveldb configuration for this kind of cache.
func Open(path string) (*Cache, error) {
	db, err := leveldb.OpenFile(path, &opt.Options{Compression: opt.SnappyCompression})
	if err != nil {
		return nil, fmt.Errorf("snapcache: open %s: %w", path, err)
	}
	return &Cache{db: db}, nil
}

// Close closes the underlying database.
func (c *Cache) Close() error {
	if c == nil {
		return nil
	}
	return c.db.Close()
}

// datasetRecord is the wire form of one zone.Dataset, msgpack-encoded.
// Exactly one of IP4/DN is populated, matching Kind.
type datasetRecord struct {
	Kind        int
	Default     int
	TxtTemplate string
	BaseA       [3]byte
	IP4         []ip4set.RangeEntry `msgpack:",omitempty"`
	DN          []dnset.NameEntry   `msgpack:",omitempty"`
}

// zoneRecord is the wire form of one zone.Zone's cacheable contents: its
// datasets and the composite mtime they were built from. SOA/NS are not
// persisted; quickstart answers may lack them until the first real reload.
type zoneRecord struct {
	MtimeUnix int64
	Datasets  []datasetRecord
}

// Save persists z's current datasets, best-effort: a write failure here
// never prevents the caller from serving the zone it just built.
func (c *Cache) Save(z *zone.Zone) error {
	if c == nil {
		return nil
	}
	rec := zoneRecord{MtimeUnix: z.Mtime.Unix()}
	for _, ds := range z.Datasets {
		dr := datasetRecord{
			Kind:        int(ds.Kind),
			Default:     ds.Default,
			TxtTemplate: ds.TxtTemplate,
			BaseA:       ds.BaseA,
		}
		switch ds.Kind {
		case zone.KindIP4:
			dr.IP4 = ds.IP4.Snapshot()
		case zone.KindDN:
			dr.DN = ds.DN.Snapshot()
		}
		rec.Datasets = append(rec.Datasets, dr)
	}

	data, err := msgpack.Marshal(rec)
	if err != nil {
		return fmt.Errorf("snapcache: encoding %s: %w", z.Origin, err)
	}
	if err := c.db.Put([]byte(z.Origin), data, nil); err != nil {
		return fmt.Errorf("snapcache: writing %s: %w", z.Origin, err)
	}
	return nil
}

// Load reconstructs a zone.Zone from its last saved snapshot, or reports a
// clean miss (found=false, err=nil) if nothing was ever cached for
// origin. A decode error is returned rather than swallowed so the caller
// can log it, but is never fatal — the caller always has the option to
// fall through to a normal synchronous load.
func (c *Cache) Load(origin string) (z *zone.Zone, found bool, err error) {
	if c == nil {
		return nil, false, nil
	}
	data, err := c.db.Get([]byte(origin), nil)
	if err == leveldb.ErrNotFound {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("snapcache: reading %s: %w", origin, err)
	}

	var rec zoneRecord
	if err := msgpack.Unmarshal(data, &rec); err != nil {
		return nil, false, fmt.Errorf("snapcache: decoding %s: %w", origin, err)
	}

	datasets := make([]*zone.Dataset, 0, len(rec.Datasets))
	for _, dr := range rec.Datasets {
		ds := &zone.Dataset{
			Kind:        zone.Kind(dr.Kind),
			Name:        origin,
			Default:     dr.Default,
			TxtTemplate: dr.TxtTemplate,
			BaseA:       dr.BaseA,
		}
		switch ds.Kind {
		case zone.KindIP4:
			ds.IP4 = ip4set.RestoreSet(dr.IP4)
		case zone.KindDN:
			restored, err := dnset.RestoreSet(dr.DN)
			if err != nil {
				return nil, false, fmt.Errorf("snapcache: restoring %s: %w", origin, err)
			}
			ds.DN = restored
		}
		datasets = append(datasets, ds)
	}

	return &zone.Zone{
		Origin:   origin,
		Datasets: datasets,
		Mtime:    time.Unix(rec.MtimeUnix, 0),
	}, true, nil
}
