package stash

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// directiveMarker introduces a caching directive inside a SQL comment line.
const directiveMarker = "Stash:"

// Directive is the parsed caching intent embedded in a query text.
// Opt-out always wins over opt-in when both appear.
type Directive struct {
	// OptOut is true when the text carries a NoCache directive.
	OptOut bool

	// OptIn is true when the text carries a TTL or Profile directive.
	OptIn bool

	// Absolute is the requested absolute TTL. Zero means "use defaults".
	Absolute time.Duration

	// Sliding is the requested sliding window. Zero means "use defaults".
	Sliding time.Duration

	// Profile is the requested profile name, if any.
	Profile string
}

// ParseDirectives scans the SQL text for directive comment lines of the
// form "-- Stash:<directive>" and returns the combined parsed intent.
// Unrecognized right-hand sides are ignored.
func ParseDirectives(sql string) Directive {
	var d Directive

	for _, line := range strings.Split(sql, "\n") {
		line = strings.TrimSpace(line)
		if !strings.HasPrefix(line, "--") {
			continue
		}

		body := strings.TrimSpace(strings.TrimPrefix(line, "--"))
		if !strings.HasPrefix(body, directiveMarker) {
			continue
		}

		rhs := strings.TrimSpace(strings.TrimPrefix(body, directiveMarker))
		parseDirectiveBody(rhs, &d)
	}

	if d.OptOut {
		// NoCache supersedes any opt-in on the same query.
		d.OptIn = false
		d.Absolute = 0
		d.Sliding = 0
		d.Profile = ""
	}

	return d
}

// parseDirectiveBody applies a single directive right-hand side to d.
func parseDirectiveBody(rhs string, d *Directive) {
	switch {
	case strings.EqualFold(rhs, "NoCache"):
		d.OptOut = true

	case strings.HasPrefix(rhs, "Profile="):
		name := strings.TrimSpace(strings.TrimPrefix(rhs, "Profile="))
		if name != "" {
			d.OptIn = true
			d.Profile = name
		}

	case strings.HasPrefix(rhs, "TTL="):
		parts := strings.Split(rhs, ",")

		ttl, err := parseSeconds(strings.TrimPrefix(strings.TrimSpace(parts[0]), "TTL="))
		if err != nil {
			return
		}

		d.OptIn = true
		if ttl > 0 {
			d.Absolute = ttl
		}

		for _, part := range parts[1:] {
			part = strings.TrimSpace(part)
			if !strings.HasPrefix(part, "Sliding=") {
				continue
			}
			sliding, err := parseSeconds(strings.TrimPrefix(part, "Sliding="))
			if err != nil {
				continue
			}
			if sliding > 0 {
				d.Sliding = sliding
			}
		}
	}
}

// parseSeconds converts an integer-seconds string to a duration.
func parseSeconds(s string) (time.Duration, error) {
	n, err := strconv.Atoi(strings.TrimSpace(s))
	if err != nil || n < 0 {
		return 0, fmt.Errorf("invalid seconds value %q", s)
	}
	return time.Duration(n) * time.Second, nil
}

// WithTTL appends an opt-in TTL directive to the SQL text.
// ttl of zero requests caching with the configured defaults.
func WithTTL(sql string, ttl time.Duration) string {
	return appendDirective(sql, fmt.Sprintf("TTL=%d", int(ttl.Seconds())))
}

// WithSlidingTTL appends an opt-in TTL directive with a sliding window.
func WithSlidingTTL(sql string, ttl, sliding time.Duration) string {
	return appendDirective(sql, fmt.Sprintf("TTL=%d,Sliding=%d",
		int(ttl.Seconds()), int(sliding.Seconds())))
}

// WithProfile appends an opt-in directive that defers to a named profile.
func WithProfile(sql, profile string) string {
	return appendDirective(sql, "Profile="+profile)
}

// WithNoCache appends an opt-out directive.
func WithNoCache(sql string) string {
	return appendDirective(sql, "NoCache")
}

func appendDirective(sql, rhs string) string {
	return sql + "\n-- " + directiveMarker + rhs
}

// IsCacheableStatement reports whether the first token of the SQL text,
// after skipping leading line and block comments, is SELECT or WITH.
func IsCacheableStatement(sql string) bool {
	rest := skipLeadingComments(sql)
	if rest == "" {
		return false
	}

	upper := strings.ToUpper(rest)
	return strings.HasPrefix(upper, "SELECT") || strings.HasPrefix(upper, "WITH")
}

// skipLeadingComments removes leading whitespace, "--" line comments and
// "/* */" block comments from the text.
func skipLeadingComments(sql string) string {
	rest := strings.TrimSpace(sql)

	for {
		switch {
		case strings.HasPrefix(rest, "--"):
			idx := strings.IndexByte(rest, '\n')
			if idx < 0 {
				return ""
			}
			rest = strings.TrimSpace(rest[idx+1:])

		case strings.HasPrefix(rest, "/*"):
			idx := strings.Index(rest, "*/")
			if idx < 0 {
				return ""
			}
			rest = strings.TrimSpace(rest[idx+2:])

		default:
			return rest
		}
	}
}
