package main

import (
	"context"
	"log"
	"net"
	"os"
	"path/filepath"
	"strconv"

	"github.com/rbldns/rbldns/config"
	"github.com/rbldns/rbldns/geoannotate"
	"github.com/rbldns/rbldns/loader"
	"github.com/rbldns/rbldns/netlist"
	"github.com/rbldns/rbldns/runctl"
	"github.com/rbldns/rbldns/snapcache"
)

func main() {
	cfg, err := config.Parse(os.Args[0], os.Args[1:])
	if err != nil {
		log.Fatalf("ERROR: %v", err)
	}
	if len(cfg.ZoneSpecs) == 0 {
		log.Fatalf("ERROR: no zone specs given (expected one or more origin:type:file[,file...] arguments)")
	}

	var cache *snapcache.Cache
	if cfg.CacheDir != "" {
		cache, err = snapcache.Open(filepath.Clean(cfg.CacheDir))
		if err != nil {
			log.Fatalf("ERROR: opening snapshot cache: %v", err)
		}
		defer cache.Close()
	}

	opts := loader.Options{
		DefaultTTL:   cfg.TTL,
		AcceptInCIDR: cfg.AcceptInCIDR,
		Quickstart:   cfg.Quickstart,
	}
	if cache != nil {
		opts.Cache = cache
	}

	rel, err := loader.NewReloader(cfg.ZoneSpecs, opts)
	if err != nil {
		log.Fatalf("ERROR: %v", err)
	}
	if err := rel.Boot(); err != nil {
		// Quickstart never returns an error from Boot: a per-zone failure
		// is logged internally and that zone is simply left out of the
		// registry. Reaching here means a non-quickstart load failed, per
		// the error-handling taxonomy's "fatal pre-init unless -q".
		log.Fatalf("ERROR: %v", err)
	}

	bindAddr := net.JoinHostPort(cfg.BindAddr, strconv.Itoa(cfg.BindPort))
	udpAddr, err := net.ResolveUDPAddr("udp", bindAddr)
	if err != nil {
		log.Fatalf("ERROR: resolving bind address %s: %v", bindAddr, err)
	}
	conn, err := net.ListenUDP("udp", udpAddr)
	if err != nil {
		log.Fatalf("ERROR: binding %s: %v", bindAddr, err)
	}

	if err := runctl.WritePIDFile(cfg.PidFile); err != nil {
		log.Fatalf("ERROR: writing pidfile %s: %v", cfg.PidFile, err)
	}

	if err := runctl.DropPrivileges(cfg.RootDir, cfg.WorkDir, cfg.User); err != nil {
		log.Fatalf("ERROR: %v", err)
	}

	accept, err := parseNetlist(cfg.Accept)
	if err != nil {
		log.Fatalf("ERROR: parsing -a netlist: %v", err)
	}
	logAccept, err := parseNetlist(cfg.LogAccept)
	if err != nil {
		log.Fatalf("ERROR: parsing -L netlist: %v", err)
	}

	queryLog, err := runctl.OpenQueryLog(cfg.LogFile, logAccept)
	if err != nil {
		log.Fatalf("ERROR: %v", err)
	}
	if queryLog != nil {
		defer queryLog.Close()
	}

	var geo *geoannotate.Annotator
	if cfg.GeoCountryDB != "" || cfg.GeoASNDB != "" {
		geo, err = geoannotate.Open(cfg.GeoCountryDB, cfg.GeoASNDB)
		if err != nil {
			log.Fatalf("ERROR: %v", err)
		}
		defer geo.Close()
	}

	if !cfg.Foreground {
		log.Printf("INFO: -n not given, but daemonization is left to the process supervisor; continuing in the foreground")
	}

	ctx := context.Background()

	runCfg := runctl.Config{
		RecheckInterval: cfg.Check,
		Accept:          accept,
		QueryLog:        queryLog,
		Stats:           &runctl.Counters{},
		Verbose:         cfg.Verbose,
	}
	if geo != nil {
		runCfg.Geo = geo
	}

	log.Printf("INFO: serving %d zone(s) on %s", len(rel.Registry().Zones()), bindAddr)
	if err := runctl.Run(ctx, conn, rel, runCfg); err != nil {
		log.Fatalf("ERROR: %v", err)
	}
}

// parseNetlist is netlist.Parse, but treats an empty spec as "no list"
// (nil), matching the CLI convention that an unset -a/-L admits everyone.
func parseNetlist(spec string) (*netlist.List, error) {
	if spec == "" {
		return nil, nil
	}
	return netlist.Parse(spec)
}

