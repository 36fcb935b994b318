package stash

import (
	"regexp"
	"strings"
	"sync"

	"github.com/cespare/xxhash/v2"
)

// tablePattern matches the object reference following a FROM or JOIN
// keyword: an optional schema prefix and one level of bracket or
// double-quote quoting around each part.
var tablePattern = regexp.MustCompile(
	`(?i)\b(?:FROM|JOIN)\s+((?:\[[^\]]+\]|"[^"]+"|[A-Za-z_][A-Za-z0-9_$]*)(?:\s*\.\s*(?:\[[^\]]+\]|"[^"]+"|[A-Za-z_][A-Za-z0-9_$]*))?)`)

// maxMemoEntries bounds the extraction memo. Query texts are reused
// heavily by ORMs, so a small memo covers the working set.
const maxMemoEntries = 4096

// TableExtractor derives the set of table names a query depends on by
// scanning its FROM and JOIN clauses. It is deliberately a shallow
// pattern-level extractor: a missed name would cause staleness, so the
// pattern errs toward over-matching, which at worst costs an unnecessary
// invalidation.
type TableExtractor struct {
	mu   sync.RWMutex
	memo map[uint64][]string
}

// NewTableExtractor creates a table extractor with an empty memo.
func NewTableExtractor() *TableExtractor {
	return &TableExtractor{
		memo: make(map[uint64][]string),
	}
}

// Tables returns the lowercased, deduplicated table names referenced by
// FROM or JOIN clauses in the SQL text. Results are memoized per text.
func (e *TableExtractor) Tables(sql string) []string {
	sum := xxhash.Sum64String(sql)

	e.mu.RLock()
	cached, ok := e.memo[sum]
	e.mu.RUnlock()
	if ok {
		return cached
	}

	tables := extractTables(sql)

	e.mu.Lock()
	if len(e.memo) >= maxMemoEntries {
		// Full memo: drop it rather than track recency.
		e.memo = make(map[uint64][]string)
	}
	e.memo[sum] = tables
	e.mu.Unlock()

	return tables
}

// extractTables performs the actual pattern scan.
func extractTables(sql string) []string {
	matches := tablePattern.FindAllStringSubmatch(sql, -1)
	if len(matches) == 0 {
		return nil
	}

	seen := make(map[string]bool, len(matches))
	tables := make([]string, 0, len(matches))

	for _, m := range matches {
		name := bareTableName(m[1])
		if name == "" {
			continue
		}
		if !seen[name] {
			seen[name] = true
			tables = append(tables, name)
		}
	}

	return tables
}

// bareTableName strips an optional schema prefix and one level of
// bracket or double-quote quoting, then lowercases the remainder.
// "[dbo].[Orders]", `"Products"` and "Products" all yield the bare name.
func bareTableName(ref string) string {
	// Keep only the last dot-separated part (the table itself).
	if idx := lastTopLevelDot(ref); idx >= 0 {
		ref = ref[idx+1:]
	}

	ref = strings.TrimSpace(ref)
	ref = strings.TrimPrefix(ref, "[")
	ref = strings.TrimSuffix(ref, "]")
	ref = strings.Trim(ref, `"`)

	return strings.ToLower(strings.TrimSpace(ref))
}

// lastTopLevelDot finds the last '.' that is not inside brackets or
// quotes, or -1 if there is none.
func lastTopLevelDot(ref string) int {
	depth := 0
	inQuote := false
	last := -1

	for i := 0; i < len(ref); i++ {
		switch ref[i] {
		case '[':
			depth++
		case ']':
			if depth > 0 {
				depth--
			}
		case '"':
			inQuote = !inQuote
		case '.':
			if depth == 0 && !inQuote {
				last = i
			}
		}
	}

	return last
}
