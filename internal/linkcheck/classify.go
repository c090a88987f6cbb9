package linkcheck

import (
	"context"
	"net/url"
	"regexp"
	"strings"

	"github.com/catedu/fp-distancia-plugin-edicion-materiales/internal/records"
)

// Outcome is the classification of one link. Rewrite is set only for
// link_fixed outcomes and holds the URL the element must point at.
type Outcome struct {
	Action  string
	Link    string
	Message string
	Rewrite string
}

var flashExtensions = []string{".swf", ".flv", ".f4v"}

func isFlash(href string) bool {
	lower := strings.ToLower(href)
	for _, ext := range flashExtensions {
		if strings.Contains(lower, ext) {
			return true
		}
	}
	return false
}

// validURL accepts absolute URLs with a scheme and a host made only of
// printable ASCII that needs no escaping.
func validURL(raw string) bool {
	if raw == "" {
		return false
	}
	for _, r := range raw {
		if r <= ' ' || r >= 0x7f || strings.ContainsRune("\"<>\\^`{|}", r) {
			return false
		}
	}
	u, err := url.Parse(raw)
	if err != nil {
		return false
	}
	return u.Scheme != "" && u.Host != ""
}

var hostPattern = regexp.MustCompile(`^\s*(?:[A-Za-z][A-Za-z0-9+.\-]*:)?//(?:[^/?#@]*@)?(\[[^\]]*\]|[^/?#:]*)`)

// hostOf extracts the host of raw without requiring it to be a well formed
// URL. Relative references have no host.
func hostOf(raw string) string {
	m := hostPattern.FindStringSubmatch(raw)
	if m == nil {
		return ""
	}
	return strings.Trim(m[1], "[]")
}

// isExternal reports whether raw points at a host other than the site.
func isExternal(raw, siteHost string) bool {
	host := hostOf(raw)
	return host != "" && !strings.EqualFold(host, siteHost)
}

func upgradeHTTP(raw string) (string, bool) {
	if len(raw) < 5 || !strings.EqualFold(raw[:5], "http:") {
		return "", false
	}
	return "https:" + raw[5:], true
}

// classify runs the probes for href and decides its outcome. It reports
// false for local references, which are not recorded. Flash media on the
// site is flagged straight away; external flash is flagged only when it
// could not be moved to https.
func classify(ctx context.Context, p Prober, siteHost, href string) (Outcome, bool) {
	if !isFlash(href) {
		return classifyURL(ctx, p, siteHost, href)
	}
	if isExternal(href, siteHost) {
		if out, recorded := classifyURL(ctx, p, siteHost, href); recorded && out.Rewrite != "" {
			return out, true
		}
	}
	out := Outcome{Action: records.LinkFlash, Link: href}
	if validURL(href) {
		out.Message = p.Head(ctx, href).Status
	}
	return out, true
}

func classifyURL(ctx context.Context, p Prober, siteHost, href string) (Outcome, bool) {
	if !validURL(href) {
		if !isExternal(href, siteHost) {
			return Outcome{}, false
		}
		if strings.HasPrefix(strings.TrimSpace(href), "//") {
			return retry(ctx, p, "https:"+strings.TrimSpace(href), records.LinkBrokenCantFix, href), true
		}
		probe := p.Head(ctx, href)
		if probe.Invalid() {
			return Outcome{Action: records.LinkNotValid, Link: href, Message: probe.Status}, true
		}
		return Outcome{Action: records.LinkNotValidActive, Link: href, Message: probe.Status}, true
	}

	probe := p.Head(ctx, href)
	secure, insecure := upgradeHTTP(href)
	switch {
	case probe.Invalid() && insecure:
		return retry(ctx, p, secure, records.LinkBrokenCantFix, href), true
	case probe.Invalid():
		return Outcome{Action: records.LinkBroken, Link: href, Message: probe.Status}, true
	case insecure:
		return retry(ctx, p, secure, records.LinkBrokenAfterChangeHTTPS, href), true
	default:
		return Outcome{Action: records.LinkActive, Link: href, Message: probe.Status}, true
	}
}

// retry probes the https form of a link. A working answer fixes the link;
// otherwise the link is recorded with failed. Cant-fix outcomes record the
// https form, the others keep the original URL.
func retry(ctx context.Context, p Prober, secure, failed, original string) Outcome {
	probe := p.Head(ctx, secure)
	if !probe.Invalid() {
		return Outcome{Action: records.LinkFixed, Link: secure, Message: probe.Status, Rewrite: secure}
	}
	link := original
	if failed == records.LinkBrokenCantFix {
		link = secure
	}
	return Outcome{Action: failed, Link: link, Message: probe.Status}
}
