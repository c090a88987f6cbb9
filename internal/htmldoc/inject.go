package htmldoc

import (
	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"
)

const noCacheID = "metacachehttp"

// PrintCSS keeps sections on their own pages when the printable is printed.
const PrintCSS = `#nav-toggler, a#main {
    display: none;
}
section > header:first-child,
div#main {
    break-before: avoid !important;
}
article + header,
#nodeDecoration h1#nodeTitle {
    break-before: page;
    break-inside: avoid !important;
}
article,
a[name="main"] + div#nodeDecoration {
    break-before: avoid;
    break-after: avoid;
    break-inside: avoid !important;
}
tbody tr,
div.iDevice_wrapper {
    break-inside: avoid !important;
}
article[class$="autoevaluacionfpd"],
div[class$="autoevaluacionfpd"] {
    break-before: page;
    break-after: page;
}`

// InjectNoCache appends cache busting meta tags to the head, and the print
// stylesheet when print is set. Documents that already carry the tags are
// left alone. It reports whether anything was added.
func InjectNoCache(d *Document, print bool) bool {
	if d.ByID(noCacheID) != nil {
		return false
	}
	head := d.Head()
	if head == nil {
		return false
	}
	head.AppendChild(NewElement(atom.Meta,
		html.Attribute{Key: "id", Val: noCacheID},
		html.Attribute{Key: "http-equiv", Val: "Cache-Control"},
		html.Attribute{Key: "content", Val: "no-cache, no-store, must-revalidate"},
	))
	head.AppendChild(NewElement(atom.Meta,
		html.Attribute{Key: "http-equiv", Val: "Pragma"},
		html.Attribute{Key: "content", Val: "no-cache"},
	))
	head.AppendChild(NewElement(atom.Meta,
		html.Attribute{Key: "http-equiv", Val: "Expires"},
		html.Attribute{Key: "content", Val: "0"},
	))
	if print {
		style := NewElement(atom.Style)
		style.AppendChild(NewText(PrintCSS))
		head.AppendChild(style)
	}
	return true
}
