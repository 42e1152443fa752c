package api

import (
	"fmt"
	"net/url"
	"regexp"
	"strings"
)

var versionSegment = regexp.MustCompile(`^v[0-9]+$`)

// Candidates builds the ordered candidate URL list for a logical path.
//
// For base "http://host/api/v1" and path "/auth/login" the ladder is:
//
//	http://host/api/v1/auth/login
//	http://host/api/auth/login
//	http://host/auth/login
//
// A path that itself starts with the base's version segment is not doubled:
// the first candidate never contains ".../v1/v1/...".
func Candidates(base, path string) ([]string, error) {
	u, err := url.Parse(base)
	if err != nil {
		return nil, fmt.Errorf("parse base url: %w", err)
	}

	baseSegs := splitPath(u.Path)
	pathSegs := splitPath(path)

	// Ladder of base prefixes: as configured, version stripped, bare host.
	prefixes := [][]string{baseSegs}
	if n := len(baseSegs); n > 0 && versionSegment.MatchString(baseSegs[n-1]) {
		prefixes = append(prefixes, baseSegs[:n-1])
	}
	prefixes = append(prefixes, nil)

	seen := make(map[string]struct{}, len(prefixes))
	candidates := make([]string, 0, len(prefixes))
	for _, prefix := range prefixes {
		segs := pathSegs
		// Drop a duplicated version segment where the prefix already ends
		// with the same one.
		if n := len(prefix); n > 0 && len(segs) > 0 &&
			versionSegment.MatchString(prefix[n-1]) && segs[0] == prefix[n-1] {
			segs = segs[1:]
		}

		cu := *u
		cu.Path = "/" + strings.Join(append(append([]string{}, prefix...), segs...), "/")
		s := cu.String()
		if _, dup := seen[s]; dup {
			continue
		}
		seen[s] = struct{}{}
		candidates = append(candidates, s)
	}

	return candidates, nil
}

func splitPath(p string) []string {
	p = strings.Trim(p, "/")
	if p == "" {
		return nil
	}
	return strings.Split(p, "/")
}

// APIError represents an HTTP error response from one candidate.
type APIError struct {
	StatusCode int
	Message    string
	Body       []byte
}

func (e *APIError) Error() string {
	return fmt.Sprintf("api error %d: %s", e.StatusCode, e.Message)
}

// Attempt records one failed candidate.
type Attempt struct {
	URL string
	Err error
}

// LadderError aggregates the per-candidate failures after the whole ladder
// has been exhausted.
type LadderError struct {
	Path     string
	Attempts []Attempt
}

func (e *LadderError) Error() string {
	if len(e.Attempts) == 0 {
		return fmt.Sprintf("no candidates for %s", e.Path)
	}
	last := e.Attempts[len(e.Attempts)-1]
	return fmt.Sprintf("all %d candidates failed for %s (last: %v)",
		len(e.Attempts), e.Path, last.Err)
}

// Unwrap exposes the last attempt's error for errors.Is/As chains.
func (e *LadderError) Unwrap() error {
	if len(e.Attempts) == 0 {
		return nil
	}
	return e.Attempts[len(e.Attempts)-1].Err
}
