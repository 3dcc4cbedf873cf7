package dsn

import "strings"

const maskedSecret = "****"

// Mask hides the password of a URL carrying user-info, e.g.
// postgresql://alice:s3cr3t@db/app becomes postgresql://alice:****@db/app.
// The password runs from the first ':' of the user-info to the last '@'
// before the query, so passwords containing ':', '@' or '/' stay hidden.
func Mask(url string) string {
	start := 0
	if i := strings.Index(url, "://"); i >= 0 {
		start = i + len("://")
	}

	rest := url[start:]
	if q := strings.IndexByte(rest, '?'); q >= 0 {
		rest = rest[:q]
	}
	at := strings.LastIndexByte(rest, '@')
	if at < 0 {
		return url
	}

	userInfo := rest[:at]
	colon := strings.IndexByte(userInfo, ':')
	// No password, or the ':' belongs to a host:port rather than user-info.
	if colon < 0 || colon == len(userInfo)-1 || strings.ContainsRune(userInfo[:colon], '/') || isPortThenPath(userInfo[colon+1:]) {
		return url
	}

	return url[:start+colon+1] + maskedSecret + url[start+at:]
}

// isPortThenPath reports whether s looks like "5432/db...", the tail of an
// authority without user-info followed by a path.
func isPortThenPath(s string) bool {
	slash := strings.IndexByte(s, '/')
	if slash <= 0 {
		return false
	}
	for _, r := range s[:slash] {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}
