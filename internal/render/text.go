// Package render produces the participation certificate PDF and the shared
// text helpers used by the card composer.
package render

import (
	"net/url"
	"regexp"
	"strings"
	"unicode"
	"unicode/utf8"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"
)

// Output filename suffixes.
const (
	CertificateSuffix = "_Certificate.pdf"
	CardPNGSuffix     = "_ID_Card.png"
	CardPDFSuffix     = "_ID_Card.pdf"
)

// Measurer reports the rendered width of text at a font size, in the unit of
// the drawing surface.
type Measurer interface {
	Measure(text string, size float64) float64
}

// MeasureFunc adapts a function to Measurer.
type MeasureFunc func(text string, size float64) float64

func (f MeasureFunc) Measure(text string, size float64) float64 { return f(text, size) }

// FitFontSize shrinks from start one unit at a time until text fits maxWidth
// or the floor is reached.
func FitFontSize(m Measurer, text string, start, floor, maxWidth float64) float64 {
	size := start
	for size > floor && m.Measure(text, size) > maxWidth {
		size--
	}
	if size < floor {
		size = floor
	}
	return size
}

// TitleCase upper-cases the first letter of every whitespace-separated word and
// lower-cases the rest. Whitespace is kept exactly as given.
func TitleCase(s string) string {
	title := cases.Title(language.Und, cases.NoLower)
	lower := cases.Lower(language.Und)

	var b strings.Builder
	b.Grow(len(s))
	word := -1
	flush := func(end int) {
		if word < 0 {
			return
		}
		w := s[word:end]
		_, n := utf8.DecodeRuneInString(w)
		b.WriteString(title.String(w[:n]))
		b.WriteString(lower.String(w[n:]))
		word = -1
	}
	for i, r := range s {
		if unicode.IsSpace(r) {
			flush(i)
			b.WriteRune(r)
			continue
		}
		if word < 0 {
			word = i
		}
	}
	flush(len(s))
	return b.String()
}

var whitespaceRun = regexp.MustCompile(`\s+`)

// DownloadFilename turns "Jane  Doe" into "Jane_Doe<suffix>".
func DownloadFilename(name, suffix string) string {
	base := whitespaceRun.ReplaceAllString(strings.TrimSpace(name), "_")
	if base == "" {
		base = "participant"
	}
	return base + suffix
}

// VerificationURL is the address encoded in the certificate QR code.
func VerificationURL(host, certificateID string) string {
	host = strings.TrimPrefix(strings.TrimPrefix(strings.TrimSpace(host), "https://"), "http://")
	host = strings.TrimRight(host, "/")
	u := url.URL{
		Scheme:   "https",
		Host:     host,
		Path:     "/verify-certificate",
		RawQuery: url.Values{"id": {certificateID}}.Encode(),
	}
	return u.String()
}

// CertificateIDFromURL extracts the id from a verification URL.
func CertificateIDFromURL(raw string) (string, bool) {
	u, err := url.Parse(strings.TrimSpace(raw))
	if err != nil || !strings.HasSuffix(u.Path, "/verify-certificate") {
		return "", false
	}
	id := strings.TrimSpace(u.Query().Get("id"))
	return id, id != ""
}
