// Package pattern implements shell-style glob matching over ordered sets of
// known keys.
//
// Every declarative override in expgrid (attribute mutators, chained
// experiment references, figure-of-merit selection) addresses existing keys
// through glob patterns. The contract here is deliberately strict: a pattern
// that matches zero keys is an error, never a silent no-op, because a
// silently ignored override is more dangerous than an explicit failure.
package pattern

import (
	"fmt"
	"path"
)

// ErrNoMatch reports a glob pattern that matched none of the known keys.
type ErrNoMatch struct {
	Pattern string
	Subject string
}

func (e *ErrNoMatch) Error() string {
	return fmt.Sprintf("pattern %q matched no keys in %s", e.Pattern, e.Subject)
}

// Match reports whether the key matches the shell-style glob pattern.
// A syntactically invalid pattern matches nothing.
func Match(pat, key string) bool {
	ok, err := path.Match(pat, key)
	return err == nil && ok
}

// Filter returns the keys matching pat, preserving their input order. An
// empty result is not an error here; use MatchKeys when zero matches must
// fail.
func Filter(keys []string, pat string) []string {
	var out []string
	for _, k := range keys {
		if Match(pat, k) {
			out = append(out, k)
		}
	}
	return out
}

// MatchKeys returns the keys matching pat, preserving input order. It
// returns an *ErrNoMatch naming the subject when nothing matches.
func MatchKeys(keys []string, pat, subject string) ([]string, error) {
	matched := Filter(keys, pat)
	if len(matched) == 0 {
		return nil, &ErrNoMatch{Pattern: pat, Subject: subject}
	}
	return matched, nil
}
