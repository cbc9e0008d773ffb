package config

import (
	"errors"
	"fmt"
	"maps"
	"slices"

	"github.com/BurntSushi/toml"
)

// maxLevenshteinDistance is the maximum edit distance for "did you mean?"
// suggestions when unknown config keys are detected.
const maxLevenshteinDistance = 3

// knownSections lists the valid keys per section. The "" entry holds the
// top-level keys, including the section names themselves.
var knownSections = map[string]map[string]bool{
	"": {
		"data_dir": true, "polling": true, "api": true, "logging": true,
		"mqtt": true, "influxdb": true, "store": true,
	},
	"polling": {
		"interval": true, "cycle_timeout": true, "request_timeout": true,
		"token_refresh_margin": true, "roots": true,
	},
	"api": {
		"base_url": true, "token_url": true,
	},
	"logging": {
		"log_level": true, "log_file": true, "log_format": true,
	},
	"mqtt": {
		"enabled": true, "host": true, "port": true, "tls": true, "client_id": true,
		"username": true, "password": true, "qos": true, "discovery_prefix": true,
		"base_topic": true, "reconnect_initial_delay": true, "reconnect_max_delay": true,
	},
	"influxdb": {
		"enabled": true, "url": true, "token": true, "org": true, "bucket": true,
		"batch_size": true, "flush_interval": true,
	},
	"store": {
		"path": true,
	},
}

// checkUnknownKeys inspects TOML metadata for undecoded keys and returns
// an error with "did you mean?" suggestions for each unknown key.
func checkUnknownKeys(md *toml.MetaData) error {
	var errs []error

	seen := make(map[string]bool)

	for _, key := range md.Undecoded() {
		err := unknownKeyError(key)
		if err == nil || seen[err.Error()] {
			continue
		}

		seen[err.Error()] = true
		errs = append(errs, err)
	}

	return errors.Join(errs...)
}

// unknownKeyError describes one undecoded key. A key under an unknown
// section is reported once, as the section.
func unknownKeyError(key toml.Key) error {
	if len(key) == 0 {
		return nil
	}

	if len(key) == 1 || knownSections[key[0]] == nil {
		return suggest(key[0], "", knownSections[""])
	}

	return suggest(key[1], key[0], knownSections[key[0]])
}

func suggest(field, section string, known map[string]bool) error {
	where := ""
	if section != "" {
		where = fmt.Sprintf(" in [%s]", section)
	}

	if s := closestMatch(field, slices.Sorted(maps.Keys(known))); s != "" {
		return fmt.Errorf("unknown config key %q%s (did you mean %q?)", field, where, s)
	}

	return fmt.Errorf("unknown config key %q%s", field, where)
}

// closestMatch finds the closest known key by Levenshtein distance.
// Returns empty string if no match is within maxLevenshteinDistance.
// known must be sorted for deterministic ties.
func closestMatch(unknown string, known []string) string {
	best := ""
	bestDist := maxLevenshteinDistance + 1

	for _, k := range known {
		d := levenshtein(unknown, k)
		if d < bestDist {
			bestDist = d
			best = k
		}
	}

	if bestDist <= maxLevenshteinDistance {
		return best
	}

	return ""
}

// levenshtein computes the edit distance between two strings.
func levenshtein(a, b string) int {
	if a == "" {
		return len(b)
	}

	if b == "" {
		return len(a)
	}

	// Single-row optimization: two rows instead of a full matrix.
	prev := make([]int, len(b)+1)
	curr := make([]int, len(b)+1)

	for j := range prev {
		prev[j] = j
	}

	for i := range len(a) {
		curr[0] = i + 1

		for j := range len(b) {
			cost := 1
			if a[i] == b[j] {
				cost = 0
			}

			curr[j+1] = min(curr[j]+1, prev[j+1]+1, prev[j]+cost)
		}

		prev, curr = curr, prev
	}

	return prev[len(b)]
}
