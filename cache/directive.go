package cache

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"
)

// Directive is the parsed caching intent a query carries in its
// `-- Stash:` comment lines.
type Directive struct {
	// NoCache opts the query out; it supersedes everything else.
	NoCache bool
	// OptIn is set by any TTL or Profile directive.
	OptIn bool
	// TTL is the absolute expiration; zero means "use defaults".
	TTL time.Duration
	// Sliding is the sliding expiration; zero means none requested.
	Sliding time.Duration
	// Profile names a registered TTL preset; empty when not used.
	Profile string
}

var (
	directiveRegex = regexp.MustCompile(`(?m)^\s*--\s*Stash:(\S.*?)\s*$`)
	ttlRegex       = regexp.MustCompile(`^TTL=(\d+)(?:,Sliding=(\d+))?$`)
	profileRegex   = regexp.MustCompile(`^Profile=([\w.-]+)$`)
)

// ParseDirective scans the query text for `-- Stash:` comment lines. One
// directive per query is expected; when both an opt-in and NoCache appear,
// NoCache wins.
func ParseDirective(sql string) Directive {
	var d Directive
	for _, m := range directiveRegex.FindAllStringSubmatch(sql, -1) {
		rhs := m[1]
		switch {
		case rhs == "NoCache":
			d.NoCache = true
		case ttlRegex.MatchString(rhs):
			parts := ttlRegex.FindStringSubmatch(rhs)
			seconds, _ := strconv.Atoi(parts[1])
			d.OptIn = true
			d.TTL = time.Duration(seconds) * time.Second
			if parts[2] != "" {
				sliding, _ := strconv.Atoi(parts[2])
				d.Sliding = time.Duration(sliding) * time.Second
			}
		case profileRegex.MatchString(rhs):
			d.OptIn = true
			d.Profile = profileRegex.FindStringSubmatch(rhs)[1]
		}
	}
	if d.NoCache {
		d.OptIn = false
	}
	return d
}

// TagTTL appends an opt-in directive with an absolute TTL. ttl is rounded
// down to whole seconds; zero means "cache with defaults".
func TagTTL(sql string, ttl time.Duration) string {
	return sql + fmt.Sprintf("\n-- Stash:TTL=%d", int(ttl.Seconds()))
}

// TagTTLSliding appends an opt-in directive with absolute and sliding TTLs.
func TagTTLSliding(sql string, ttl, sliding time.Duration) string {
	return sql + fmt.Sprintf("\n-- Stash:TTL=%d,Sliding=%d", int(ttl.Seconds()), int(sliding.Seconds()))
}

// TagProfile appends an opt-in directive deferring to a named profile.
func TagProfile(sql, name string) string {
	return sql + "\n-- Stash:Profile=" + name
}

// TagNoCache appends an opt-out directive.
func TagNoCache(sql string) string {
	return sql + "\n-- Stash:NoCache"
}

// IsCacheableStatement reports whether the first token of the statement,
// after skipping leading line and block comments, is SELECT or WITH.
func IsCacheableStatement(sql string) bool {
	rest := sql
	for {
		rest = strings.TrimLeft(rest, " \t\r\n")
		switch {
		case strings.HasPrefix(rest, "--"):
			if i := strings.IndexByte(rest, '\n'); i >= 0 {
				rest = rest[i+1:]
				continue
			}
			return false
		case strings.HasPrefix(rest, "/*"):
			if i := strings.Index(rest, "*/"); i >= 0 {
				rest = rest[i+2:]
				continue
			}
			return false
		}
		break
	}
	if len(rest) < 4 {
		return false
	}
	upper := strings.ToUpper(rest)
	return strings.HasPrefix(upper, "SELECT") || strings.HasPrefix(upper, "WITH")
}
