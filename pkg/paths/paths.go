// Package paths provides pure path helpers used by the planner.
//
// All functions operate on slash-separated paths. Absolute paths are
// normalized through path.Clean, so "/var//log/." and "/var/log" are the
// same path. Prefix relationships are evaluated on segment boundaries:
// "/persist" is not an ancestor of "/persistence".
package paths

import (
	"path"
	"strings"
)

// Split breaks a path into its non-empty segments.
// Split("/var/log") returns ["var", "log"]; Split("/") returns nil.
func Split(p string) []string {
	p = path.Clean(p)
	p = strings.Trim(p, "/")
	if p == "" || p == "." {
		return nil
	}
	return strings.Split(p, "/")
}

// Join joins segments into an absolute, cleaned path.
func Join(segments ...string) string {
	return path.Clean("/" + strings.Join(segments, "/"))
}

// Parent returns the parent directory of p. The parent of "/" is "/".
func Parent(p string) string {
	return path.Dir(path.Clean(p))
}

// Under reports whether p equals prefix or lies below it.
func Under(p, prefix string) bool {
	p = path.Clean(p)
	prefix = path.Clean(prefix)
	if prefix == "/" {
		return strings.HasPrefix(p, "/")
	}
	if p == prefix {
		return true
	}
	return strings.HasPrefix(p, prefix+"/")
}

// IsAncestor reports whether anc is a strict ancestor of p.
func IsAncestor(anc, p string) bool {
	return path.Clean(anc) != path.Clean(p) && Under(p, anc)
}

// Chain returns every directory strictly below stop on the way down to p,
// including p itself, topmost first. If p is not under stop, the chain is
// computed from "/" instead. Chain(stop, stop) is empty.
//
//	Chain("/", "/a/b/c")  -> ["/a", "/a/b", "/a/b/c"]
//	Chain("/a", "/a/b/c") -> ["/a/b", "/a/b/c"]
func Chain(stop, p string) []string {
	stop = path.Clean(stop)
	p = path.Clean(p)
	if !Under(p, stop) {
		stop = "/"
	}
	if p == stop {
		return nil
	}

	var rel string
	if stop == "/" {
		rel = strings.TrimPrefix(p, "/")
	} else {
		rel = strings.TrimPrefix(p, stop+"/")
	}

	segments := strings.Split(rel, "/")
	chain := make([]string, 0, len(segments))
	current := stop
	for _, segment := range segments {
		current = Join(current, segment)
		chain = append(chain, current)
	}
	return chain
}

// LongestPrefix returns the candidate that is the longest ancestor-or-equal
// of p. Returns "" when no candidate matches; callers treat that as the
// filesystem root being implicitly mounted.
func LongestPrefix(p string, candidates []string) string {
	best := ""
	for _, candidate := range candidates {
		if !Under(p, candidate) {
			continue
		}
		if len(path.Clean(candidate)) > len(best) {
			best = path.Clean(candidate)
		}
	}
	return best
}

// StripFirstSegment removes the leading segment from a relative path.
// StripFirstSegment("dotfiles/.config/git") returns ".config/git".
// A single-segment path strips to "".
func StripFirstSegment(rel string) string {
	segments := Split("/" + rel)
	if len(segments) <= 1 {
		return ""
	}
	return strings.Join(segments[1:], "/")
}
