// Package config resolves the server's run-time configuration from CLI
// flags and an optional YAML defaults file into a single immutable
// record, replacing the scattered globals the source exposes (see the
// spec's design note on global mutable state).
package config

import (
	"flag"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// FileDefaults is the optional -config YAML file: operational defaults an
// operator wants without repeating them on every invocation. Every field
// here has a corresponding CLI flag, which always wins when both are set.
type FileDefaults struct {
	TTL       int    `yaml:"ttl"`
	Check     int    `yaml:"check"`
	Accept    string `yaml:"accept"`
	LogAccept string `yaml:"log_accept"`
	Log       string `yaml:"log"`
	Bind      string `yaml:"bind"`
}

// LoadFileDefaults reads and unmarshals path.
func LoadFileDefaults(path string) (*FileDefaults, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: reading %s: %w", path, err)
	}
	var fd FileDefaults
	if err := yaml.Unmarshal(data, &fd); err != nil {
		return nil, fmt.Errorf("config: parsing %s: %w", path, err)
	}
	return &fd, nil
}

// Config is the fully resolved, immutable run-context: every documented
// CLI option plus whatever an optional -config file contributed, merged
// with CLI taking precedence.
type Config struct {
	User         string        // -u: "user" or "user:group"
	RootDir      string        // -r
	WorkDir      string        // -w
	BindAddr     string        // -b, host part
	BindPort     int           // -b, port part
	TTL          uint32        // -t
	Check        time.Duration // -c
	AcceptInCIDR bool          // -e
	PidFile      string        // -p
	Foreground   bool          // -n
	Quickstart   bool          // -q
	LogFile      string        // -l
	LogAccept    string        // -L, netlist text
	Accept       string        // -a, netlist text
	Verbose      bool          // -s
	CacheDir     string        // -cache
	GeoCountryDB string        // -geo-country
	GeoASNDB     string        // -geo-asn
	ZoneSpecs    []string
}

const (
	defaultTTL   = 2048
	defaultCheck = 60
	defaultBind  = "*:53"
)

// Parse parses args (excluding argv[0]) into a Config, applying an
// optional -config YAML file's values under anything the caller actually
// passed on the command line.
func Parse(progname string, args []string) (*Config, error) {
	fs := flag.NewFlagSet(progname, flag.ContinueOnError)

	configFile := fs.String("config", "", "optional YAML file of operator defaults")
	u := fs.String("u", "", "user[:group] to drop privileges to")
	r := fs.String("r", "", "chroot root directory")
	w := fs.String("w", "", "working directory (relative to root, if chrooted)")
	b := fs.String("b", defaultBind, "bind address[:port]")
	t := fs.Int("t", defaultTTL, "default record TTL in seconds")
	c := fs.Int("c", defaultCheck, "mtime recheck interval in seconds")
	e := fs.Bool("e", false, "accept non-boundary CIDRs (clear host bits instead of rejecting)")
	p := fs.String("p", "", "pidfile path")
	n := fs.Bool("n", false, "stay in the foreground")
	q := fs.Bool("q", false, "quickstart: answer from snapshot cache while the first real load runs")
	l := fs.String("l", "", "query log file (prefix '+' to flush every line)")
	L := fs.String("L", "", "netlist restricting which source addresses are logged")
	a := fs.String("a", "", "netlist restricting which source addresses are answered")
	s := fs.Bool("s", false, "verbose reload/stats logging")
	cacheDir := fs.String("cache", "", "snapshot cache directory, consulted at boot only with -q")
	geoCountry := fs.String("geo-country", "", "optional MaxMind country database enabling $country TXT tokens")
	geoASN := fs.String("geo-asn", "", "optional MaxMind ASN database enabling $asn TXT tokens")

	if err := fs.Parse(args); err != nil {
		return nil, err
	}

	explicit := make(map[string]bool)
	fs.Visit(func(f *flag.Flag) { explicit[f.Name] = true })

	cfg := &Config{
		User:         *u,
		RootDir:      *r,
		WorkDir:      *w,
		TTL:          uint32(*t),
		Check:        time.Duration(*c) * time.Second,
		AcceptInCIDR: *e,
		PidFile:      *p,
		Foreground:   *n,
		Quickstart:   *q,
		LogFile:      *l,
		LogAccept:    *L,
		Accept:       *a,
		Verbose:      *s,
		CacheDir:     *cacheDir,
		GeoCountryDB: *geoCountry,
		GeoASNDB:     *geoASN,
		ZoneSpecs:    fs.Args(),
	}
	bindSpec := *b

	if *configFile != "" {
		fd, err := LoadFileDefaults(*configFile)
		if err != nil {
			return nil, err
		}
		if !explicit["t"] && fd.TTL != 0 {
			cfg.TTL = uint32(fd.TTL)
		}
		if !explicit["c"] && fd.Check != 0 {
			cfg.Check = time.Duration(fd.Check) * time.Second
		}
		if !explicit["a"] && fd.Accept != "" {
			cfg.Accept = fd.Accept
		}
		if !explicit["L"] && fd.LogAccept != "" {
			cfg.LogAccept = fd.LogAccept
		}
		if !explicit["l"] && fd.Log != "" {
			cfg.LogFile = fd.Log
		}
		if !explicit["b"] && fd.Bind != "" {
			bindSpec = fd.Bind
		}
	}

	addr, port, err := parseBind(bindSpec)
	if err != nil {
		return nil, err
	}
	cfg.BindAddr, cfg.BindPort = addr, port

	return cfg, nil
}

// parseBind parses -b's "[addr][:port]" grammar: either side may be
// omitted ("*" or empty addr means all interfaces; an omitted port
// defaults to 53).
func parseBind(spec string) (addr string, port int, err error) {
	addr, portText := spec, ""
	if idx := strings.LastIndexByte(spec, ':'); idx >= 0 {
		addr, portText = spec[:idx], spec[idx+1:]
	}
	if addr == "" || addr == "*" {
		addr = ""
	}
	if portText == "" {
		return addr, 53, nil
	}
	port, err = strconv.Atoi(portText)
	if err != nil {
		return "", 0, fmt.Errorf("config: bad -b port in %q: %w", spec, err)
	}
	return addr, port, nil
}
