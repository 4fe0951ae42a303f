package cache

import (
	"regexp"
	"sort"
	"strings"
)

var (
	// readTableRegex matches the table reference after FROM or JOIN,
	// with an optional schema prefix and one level of bracket, double
	// quote, or backtick quoting: `FROM [dbo].[Orders]`, `JOIN "Products" p`.
	readTableRegex = regexp.MustCompile(`(?i)\b(?:FROM|JOIN)\s+((?:[\["` + "`" + `]?[\w$]+[\]"` + "`" + `]?\.)?[\["` + "`" + `]?[\w$]+[\]"` + "`" + `]?)`)

	// writeTableRegex matches the target table of INSERT/UPDATE/DELETE
	// statements.
	writeTableRegex = regexp.MustCompile(`(?i)\b(?:INSERT\s+INTO|UPDATE|DELETE\s+FROM|MERGE\s+INTO)\s+((?:[\["` + "`" + `]?[\w$]+[\]"` + "`" + `]?\.)?[\["` + "`" + `]?[\w$]+[\]"` + "`" + `]?)`)
)

// ExtractTables returns the normalized set of table names a query reads,
// taken from its FROM and JOIN clauses. It is deliberately a shallow regex
// extractor: a missed name would cause staleness, a spurious one only an
// unnecessary invalidation, so it errs toward matching.
func ExtractTables(sql string) []string {
	return extract(readTableRegex, sql)
}

// ExtractWriteTables returns the normalized target tables of
// INSERT/UPDATE/DELETE/MERGE statements, plus any FROM/JOIN sources.
func ExtractWriteTables(sql string) []string {
	tables := extract(writeTableRegex, sql)
	return dedupeSorted(append(tables, extract(readTableRegex, sql)...))
}

func extract(re *regexp.Regexp, sql string) []string {
	matches := re.FindAllStringSubmatch(sql, -1)
	if len(matches) == 0 {
		return nil
	}
	tables := make([]string, 0, len(matches))
	for _, m := range matches {
		if tag := NormalizeTag(m[1]); tag != "" {
			tables = append(tables, tag)
		}
	}
	return dedupeSorted(tables)
}

// NormalizeTag lowercases a table reference and strips one schema prefix
// and one level of bracket/double-quote/backtick quoting, so that
// `[dbo].[Orders]`, `"Products"` and `Products` all normalize to bare
// lowercase names. Tag comparison throughout the cache is on normalized
// form.
func NormalizeTag(name string) string {
	name = strings.TrimSpace(name)
	if i := strings.LastIndex(name, "."); i >= 0 {
		name = name[i+1:]
	}
	name = strings.Trim(name, "[]\"`")
	return strings.ToLower(name)
}

// NormalizeTags maps NormalizeTag over names, dropping empties and
// duplicates; the result is sorted for deterministic comparison.
func NormalizeTags(names []string) []string {
	tags := make([]string, 0, len(names))
	for _, n := range names {
		if tag := NormalizeTag(n); tag != "" {
			tags = append(tags, tag)
		}
	}
	return dedupeSorted(tags)
}

func dedupeSorted(tags []string) []string {
	if len(tags) == 0 {
		return nil
	}
	sort.Strings(tags)
	out := tags[:1]
	for _, t := range tags[1:] {
		if t != out[len(out)-1] {
			out = append(out, t)
		}
	}
	return out
}
