package security

import (
	"net/url"
	"regexp"
)

type dangerousPattern struct {
	name string
	re   *regexp.Regexp
}

var dangerousPatterns = []dangerousPattern{
	{name: "<script>", re: regexp.MustCompile(`(?i)<\s*script\b`)},
	{name: "UNION SELECT", re: regexp.MustCompile(`(?i)\bunion\s+(all\s+)?select\b`)},
	{name: "OR 1=1", re: regexp.MustCompile(`(?i)\bor\s+'?1'?\s*=\s*'?1\b`)},
	{name: "DROP TABLE", re: regexp.MustCompile(`(?i)\bdrop\s+table\b`)},
}

// matchDangerous returns the name of the first dangerous pattern found in s.
func matchDangerous(s string) (string, bool) {
	if s == "" {
		return "", false
	}
	for _, p := range dangerousPatterns {
		if p.re.MatchString(s) {
			return p.name, true
		}
	}
	return "", false
}

// matchQuery checks the raw query and its decoded form.
func matchQuery(rawQuery string) (string, bool) {
	if name, ok := matchDangerous(rawQuery); ok {
		return name, true
	}
	decoded, err := url.QueryUnescape(rawQuery)
	if err != nil || decoded == rawQuery {
		return "", false
	}
	return matchDangerous(decoded)
}
