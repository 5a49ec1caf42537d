package router

import (
	"regexp"
	"strings"
)

// Statement prefixes that always mutate state. Checked before the read list
// so a statement matching both is treated as a write.
var writeKeywords = map[string]struct{}{
	"insert":   {},
	"update":   {},
	"delete":   {},
	"create":   {},
	"drop":     {},
	"alter":    {},
	"truncate": {},
	"replace":  {},
	"merge":    {},
	"call":     {},
	"exec":     {},
}

var readKeywords = map[string]struct{}{
	"select":   {},
	"explain":  {},
	"show":     {},
	"describe": {},
	"desc":     {},
}

// A CTE is only read-only when no DML appears anywhere in it.
var cteWriteRE = regexp.MustCompile(`\b(insert|update|delete|merge)\b`)

// IsReadOnly reports whether the statement is provably read-only. It inspects
// only the normalized statement prefix; multi-statement strings must be
// classified per-statement by the caller or forced to primary. Anything
// unrecognized reports false so it routes to primary.
func IsReadOnly(sql string) bool {
	stmt := normalize(sql)
	if stmt == "" {
		return false
	}
	kw := firstKeyword(stmt)
	if _, ok := writeKeywords[kw]; ok {
		return false
	}
	if kw == "with" {
		return !cteWriteRE.MatchString(stmt)
	}
	_, ok := readKeywords[kw]
	return ok
}

// normalize lowercases the statement and strips leading whitespace and SQL
// comments so the first keyword is the first token of the statement proper.
func normalize(sql string) string {
	s := strings.ToLower(sql)
	for {
		s = strings.TrimLeft(s, " \t\r\n")
		if strings.HasPrefix(s, "--") {
			idx := strings.IndexByte(s, '\n')
			if idx < 0 {
				return ""
			}
			s = s[idx+1:]
			continue
		}
		if strings.HasPrefix(s, "/*") {
			idx := strings.Index(s, "*/")
			if idx < 0 {
				return ""
			}
			s = s[idx+2:]
			continue
		}
		return s
	}
}

func firstKeyword(stmt string) string {
	for i := 0; i < len(stmt); i++ {
		c := stmt[i]
		if (c < 'a' || c > 'z') && c != '_' {
			return stmt[:i]
		}
	}
	return stmt
}
