// Package slug turns user supplied labels into names that are safe to use as
// version folders and page file names.
package slug

import (
	"regexp"
	"strconv"
	"strings"
	"time"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

var (
	versionDisallowed  = regexp.MustCompile(`[^A-Za-z0-9\-_]`)
	filenameDisallowed = regexp.MustCompile(`[^a-z0-9_-]+`)
	repeatedDash       = regexp.MustCompile(`-{2,}`)
)

// RemoveAccents folds accented letters to their base letter: "Canción" becomes
// "Cancion" and "ª" becomes "a".
func RemoveAccents(s string) string {
	t := transform.Chain(norm.NFKD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
	out, _, err := transform.String(t, s)
	if err != nil {
		return s
	}
	return out
}

// VersionName sanitizes a version name. Spaces become dashes, accents are
// folded and anything outside letters, digits, dash and underscore is dropped.
// An empty result falls back to the unix timestamp of now.
func VersionName(name string, now time.Time) string {
	name = strings.ReplaceAll(strings.TrimSpace(name), " ", "-")
	name = versionDisallowed.ReplaceAllString(RemoveAccents(name), "")
	if name == "" {
		return strconv.FormatInt(now.Unix(), 10)
	}
	return name
}

// Filename derives a page file name from a TOC label.
func Filename(label string) string {
	s := strings.ToLower(RemoveAccents(strings.TrimSpace(label)))
	s = filenameDisallowed.ReplaceAllString(s, "-")
	s = repeatedDash.ReplaceAllString(s, "-")
	s = strings.Trim(s, "-")
	if s == "" {
		s = "page"
	}
	return s + ".html"
}

// Unique returns name, or name with a numeric suffix before the extension
// when taken reports it is already in use.
func Unique(name string, taken func(string) bool) string {
	if !taken(name) {
		return name
	}
	base, ext := name, ""
	if i := strings.LastIndex(name, "."); i > 0 {
		base, ext = name[:i], name[i:]
	}
	for n := 1; ; n++ {
		candidate := base + "-" + strconv.Itoa(n) + ext
		if !taken(candidate) {
			return candidate
		}
	}
}
