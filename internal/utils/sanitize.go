package utils

import (
	"html"
	"net/mail"
	"net/url"
	"regexp"
	"strings"
	"unicode/utf8"

	"github.com/microcosm-cc/bluemonday"
)

const (
	MaxTextBytes      = 80 * 1024
	MaxCiteBytes      = 128
	MaxUserAgentBytes = 255
	MaxWebsiteBytes   = 250
)

var (
	stripPolicy = bluemonday.StrictPolicy()
	blankRuns   = regexp.MustCompile(`\n{3,}`)
	spaceRuns   = regexp.MustCompile(`[ \t]+`)
)

// StripTags removes all markup and decodes the entities bluemonday leaves behind,
// so the result is plain text.
func StripTags(s string) string {
	return html.UnescapeString(stripPolicy.Sanitize(s))
}

// CleanText normalizes a submitted comment body: invalid UTF-8 replaced,
// tags stripped, newlines normalized to \n, runs of blank lines collapsed to
// one, and the result cut to MaxTextBytes on a rune boundary.
func CleanText(s string) string {
	s = validUTF8(s)
	s = strings.ReplaceAll(s, "\r\n", "\n")
	s = strings.ReplaceAll(s, "\r", "\n")
	s = StripTags(s)
	lines := strings.Split(s, "\n")
	for i, line := range lines {
		lines[i] = strings.TrimRight(line, " \t")
	}
	s = strings.Join(lines, "\n")
	s = blankRuns.ReplaceAllString(s, "\n\n")
	return Truncate(strings.TrimSpace(s), MaxTextBytes)
}

// CleanCite returns a single-line display name without markup.
func CleanCite(s string) string {
	s = StripTags(validUTF8(s))
	s = strings.NewReplacer("\r", " ", "\n", " ", "\t", " ").Replace(s)
	s = spaceRuns.ReplaceAllString(s, " ")
	return Truncate(strings.TrimSpace(s), MaxCiteBytes)
}

// CleanEmail lower-cases and validates an address; "" when invalid.
func CleanEmail(s string) string {
	s = strings.TrimSpace(s)
	addr, err := mail.ParseAddress(s)
	if err != nil || addr.Address != s {
		return ""
	}
	return strings.ToLower(addr.Address)
}

// CleanWebsite accepts absolute http(s) URLs and drops query string and fragment.
// Anything else yields "".
func CleanWebsite(s string) string {
	s = strings.TrimSpace(s)
	if s == "" {
		return ""
	}
	if !strings.Contains(s, "://") {
		s = "http://" + s
	}
	u, err := url.Parse(s)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" || u.User != nil {
		return ""
	}
	u.RawQuery = ""
	u.ForceQuery = false
	u.Fragment = ""
	out := u.String()
	if len(out) > MaxWebsiteBytes {
		return ""
	}
	return out
}

// CleanUserAgent strips control characters and caps the length.
func CleanUserAgent(s string) string {
	s = strings.Map(func(r rune) rune {
		if r < 0x20 || r == 0x7f {
			return -1
		}
		return r
	}, s)
	return Truncate(strings.TrimSpace(s), MaxUserAgentBytes)
}

// validUTF8 replaces each run of invalid bytes with U+FFFD.
func validUTF8(s string) string {
	return strings.ToValidUTF8(s, string(utf8.RuneError))
}

// Truncate cuts s to at most max bytes. The cut moves back to the start of
// the rune it lands in, so valid input stays valid.
func Truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	if max <= 0 {
		return ""
	}
	n := max
	for n > 0 && max-n < utf8.UTFMax-1 && !utf8.RuneStart(s[n]) {
		n--
	}
	return s[:n]
}
