// Package hostinfo supplies the built-in template bindings every host
// carries into Apply, per spec.md §4.6: "the host's bindings (from config
// plus built-ins hostname, cpu_count, etc.)".
package hostinfo

import (
	"os"
	"runtime"
	"strconv"
)

// Config is the subset of the loaded configuration hostinfo needs. It is
// defined here (rather than imported from internal/config) so this
// package, and anything testing it, does not need the full config loader
// wired up — the teacher's systemduser package takes the same narrow-
// interface approach for the pieces of config it actually reads.
type Config struct {
	// Hostname overrides os.Hostname() when non-empty.
	Hostname string
	// Extra holds operator-supplied bindings from the TOML config's
	// extra_bindings table, merged in after the built-ins so a host-specific
	// override always wins over an ambient one carrying the same name.
	Extra map[string]string
}

// Bindings returns the built-in binding set for this host, merged with
// cfg.Extra. Returns an error only if the hostname cannot be determined
// and cfg.Hostname was not supplied.
func Bindings(cfg Config) (map[string]string, error) {
	hostname := cfg.Hostname
	if hostname == "" {
		h, err := os.Hostname()
		if err != nil {
			return nil, err
		}
		hostname = h
	}

	bindings := map[string]string{
		"hostname":  hostname,
		"cpu_count": strconv.Itoa(runtime.NumCPU()),
		"os":        runtime.GOOS,
		"arch":      runtime.GOARCH,
	}

	for k, v := range cfg.Extra {
		bindings[k] = v
	}

	return bindings, nil
}
