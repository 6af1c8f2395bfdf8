package render

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image"
	"image/color"
	_ "image/jpeg"
	_ "image/png"
	"io"
	"strings"
	"time"

	"github.com/go-pdf/fpdf"
	"github.com/go-pdf/fpdf/contrib/gofpdi"
	qrcode "github.com/skip2/go-qrcode"
	"go.uber.org/zap"
	"golang.org/x/image/font/gofont/gobold"
	"golang.org/x/image/font/gofont/goregular"
	"golang.org/x/image/font/opentype"

	"certhub/internal/assets"
	"certhub/internal/matching"
	"certhub/internal/metrics"
)

var (
	// ErrTemplateUnavailable means the certificate template could not be fetched or imported.
	ErrTemplateUnavailable = errors.New("certificate template unavailable")
	// ErrRenderFailed covers PDF serialization errors.
	ErrRenderFailed = errors.New("certificate render failed")
)

// DateLayout formats the issue date, e.g. "14 March 2026".
const DateLayout = "2 January 2006"

// CertificateInput is everything printed on one certificate.
type CertificateInput struct {
	Name          string
	Team          string
	CategoryID    string
	CategoryName  string
	CertificateID string
	IssuedAt      time.Time
}

// InputFromMatch builds the render input for a verified participant.
func InputFromMatch(m matching.VerifiedMatch, certificateID string, issued time.Time) CertificateInput {
	return CertificateInput{
		Name:          m.Record.Name,
		Team:          m.Record.Team,
		CategoryID:    m.Category.ID,
		CategoryName:  m.Category.Name,
		CertificateID: certificateID,
		IssuedAt:      issued,
	}
}

// Layout positions are in points from the top-left corner of the page.
type Layout struct {
	PageWidth     float64
	PageHeight    float64
	CenterOffsetX float64

	NameY        float64
	NameSize     float64
	NameMinSize  float64
	NameMaxWidth float64
	CategoryY    float64
	CategorySize float64
	DateY        float64
	DateSize     float64
	IDY          float64
	IDSize       float64

	QRSize float64
	QRGap  float64

	TextColor color.RGBA
}

// DefaultLayout fits an A4 landscape template.
func DefaultLayout() Layout {
	return Layout{
		PageWidth:     841.89,
		PageHeight:    595.28,
		CenterOffsetX: 20,
		NameY:         300,
		NameSize:      28,
		NameMinSize:   16,
		NameMaxWidth:  640,
		CategoryY:     352,
		CategorySize:  20,
		DateY:         398,
		DateSize:      14,
		IDY:           570,
		IDSize:        10,
		QRSize:        64,
		QRGap:         8,
		TextColor:     color.RGBA{R: 0x1f, G: 0x1f, B: 0x2e, A: 0xff},
	}
}

// FontSet holds TrueType bytes for the embedded faces. A zero FontSet uses
// the PDF core Helvetica faces.
type FontSet struct {
	Regular []byte
	Bold    []byte
}

// GoFonts is the default embedded font set.
func GoFonts() FontSet {
	return FontSet{Regular: goregular.TTF, Bold: gobold.TTF}
}

// CertificateRenderer overlays participant data on the template PDF.
type CertificateRenderer struct {
	fetcher  assets.Fetcher
	template string
	host     string
	layout   Layout
	fonts    FontSet
	compress bool
	log      *zap.Logger
	metrics  *metrics.Metrics
}

type Option func(*CertificateRenderer)

func WithLayout(l Layout) Option { return func(r *CertificateRenderer) { r.layout = l } }

func WithFonts(f FontSet) Option { return func(r *CertificateRenderer) { r.fonts = f } }

func WithLogger(l *zap.Logger) Option { return func(r *CertificateRenderer) { r.log = l } }

func WithMetrics(m *metrics.Metrics) Option { return func(r *CertificateRenderer) { r.metrics = m } }

// WithoutCompression leaves content streams readable, for inspection in tests.
func WithoutCompression() Option { return func(r *CertificateRenderer) { r.compress = false } }

// NewCertificateRenderer loads template (URL or path) through fetcher on every
// render. host is the public host of the verification page.
func NewCertificateRenderer(fetcher assets.Fetcher, template, host string, opts ...Option) *CertificateRenderer {
	r := &CertificateRenderer{
		fetcher:  fetcher,
		template: template,
		host:     host,
		layout:   DefaultLayout(),
		fonts:    GoFonts(),
		compress: true,
		log:      zap.NewNop(),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Render returns the certificate PDF. The same input always yields the same bytes.
func (r *CertificateRenderer) Render(ctx context.Context, in CertificateInput) (out []byte, err error) {
	started := time.Now()
	defer func() { r.metrics.Render("certificate", started, err) }()

	tpl, err := r.fetcher.Fetch(ctx, r.template)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrTemplateUnavailable, err)
	}

	l := r.layout
	pdf := fpdf.NewCustom(&fpdf.InitType{
		OrientationStr: "P",
		UnitStr:        "pt",
		Size:           fpdf.SizeType{Wd: l.PageWidth, Ht: l.PageHeight},
	})
	pdf.SetCompression(r.compress)
	pdf.SetCatalogSort(true)
	pdf.SetCreationDate(in.IssuedAt)
	pdf.SetModificationDate(in.IssuedAt)
	pdf.SetTitle("Certificate of Participation - "+TitleCase(in.Name), true)
	pdf.SetCreator("certhub", false)
	pdf.SetMargins(0, 0, 0)
	pdf.SetAutoPageBreak(false, 0)
	pdf.AddPage()

	if err := drawTemplate(pdf, tpl, l.PageWidth, l.PageHeight); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrTemplateUnavailable, err)
	}

	regular, bold := r.faces(pdf)
	pdf.SetTextColor(int(l.TextColor.R), int(l.TextColor.G), int(l.TextColor.B))
	center := l.PageWidth/2 + l.CenterOffsetX

	nameLine := TitleCase(in.Name)
	if team := strings.TrimSpace(in.Team); team != "" {
		nameLine += " | Team: " + TitleCase(team)
	}
	nameSize := FitFontSize(bold.measurer(pdf), nameLine, l.NameSize, l.NameMinSize, l.NameMaxWidth)
	bold.centered(pdf, nameLine, nameSize, center, l.NameY)

	if in.CategoryID != "" {
		regular.centered(pdf, in.CategoryID+" : "+in.CategoryName, l.CategorySize, center, l.CategoryY)
	}
	if !in.IssuedAt.IsZero() {
		regular.centered(pdf, in.IssuedAt.Format(DateLayout), l.DateSize, center, l.DateY)
	}

	if in.CertificateID != "" {
		regular.centered(pdf, "Certificate ID: "+in.CertificateID, l.IDSize, center, l.IDY)
		r.drawQR(pdf, VerificationURL(r.host, in.CertificateID), center, l)
	}

	if pdf.Err() {
		return nil, fmt.Errorf("%w: %w", ErrRenderFailed, pdf.Error())
	}
	var buf bytes.Buffer
	if err := pdf.Output(&buf); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrRenderFailed, err)
	}
	out, err = canonicalPDF(buf.Bytes())
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrRenderFailed, err)
	}
	return out, nil
}

// drawTemplate places the first page of a PDF template, or a PNG/JPEG
// background, over the whole page.
func drawTemplate(pdf *fpdf.Fpdf, tpl []byte, w, h float64) error {
	if bytes.HasPrefix(tpl, []byte("%PDF")) {
		if err := importFirstPage(pdf, tpl, w, h); err != nil {
			return err
		}
	} else {
		_, format, err := image.DecodeConfig(bytes.NewReader(tpl))
		if err != nil {
			return fmt.Errorf("decode template: %w", err)
		}
		opts := fpdf.ImageOptions{ImageType: strings.ToUpper(format)}
		pdf.RegisterImageOptionsReader("template", opts, bytes.NewReader(tpl))
		pdf.ImageOptions("template", 0, 0, w, h, false, opts, 0, "")
	}
	if pdf.Err() {
		return pdf.Error()
	}
	return nil
}

// importFirstPage recovers from gofpdi, which panics on malformed input.
func importFirstPage(pdf *fpdf.Fpdf, tpl []byte, w, h float64) (err error) {
	defer func() {
		if p := recover(); p != nil {
			err = fmt.Errorf("import template: %v", p)
		}
	}()
	imp := gofpdi.NewImporter()
	var rs io.ReadSeeker = bytes.NewReader(tpl)
	id := imp.ImportPageFromStream(pdf, &rs, 1, "/MediaBox")
	imp.UseImportedTemplate(pdf, id, 0, 0, w, h)
	return nil
}

func (r *CertificateRenderer) drawQR(pdf *fpdf.Fpdf, link string, center float64, l Layout) {
	png, err := qrPNG(link)
	if err != nil {
		r.log.Warn("qr code skipped", zap.String("url", link), zap.Error(err))
		return
	}
	opts := fpdf.ImageOptions{ImageType: "PNG"}
	pdf.RegisterImageOptionsReader("verify-qr", opts, bytes.NewReader(png))
	if pdf.Err() {
		r.log.Warn("qr code skipped", zap.String("url", link), zap.Error(pdf.Error()))
		pdf.ClearError()
		return
	}
	x := center - l.QRSize/2
	y := l.IDY - l.IDSize - l.QRGap - l.QRSize
	pdf.ImageOptions("verify-qr", x, y, l.QRSize, l.QRSize, false, opts, 0, "")
	pdf.LinkString(x, y, l.QRSize, l.QRSize, link)
}

func qrPNG(content string) ([]byte, error) {
	q, err := qrcode.New(content, qrcode.Medium)
	if err != nil {
		return nil, err
	}
	q.BackgroundColor = color.Transparent
	return q.PNG(256)
}

type face struct {
	family    string
	style     string
	translate func(string) string
}

// faces registers the embedded fonts. A font that fails to load is logged and
// replaced by the core Helvetica face.
func (r *CertificateRenderer) faces(pdf *fpdf.Fpdf) (regular, bold face) {
	core := pdf.UnicodeTranslatorFromDescriptor("")
	regular = face{family: "Helvetica", translate: core}
	bold = face{family: "Helvetica", style: "B", translate: core}

	embed := func(family string, ttf []byte, fallback face) (f face) {
		if len(ttf) == 0 {
			return fallback
		}
		if _, err := opentype.Parse(ttf); err != nil {
			r.log.Warn("embedded font unavailable, using Helvetica", zap.String("font", family), zap.Error(err))
			return fallback
		}
		defer func() {
			if p := recover(); p != nil {
				r.log.Warn("embedded font unavailable, using Helvetica", zap.String("font", family), zap.Any("panic", p))
				pdf.ClearError()
				f = fallback
			}
		}()
		pdf.AddUTF8FontFromBytes(family, "", ttf)
		pdf.SetFont(family, "", 12)
		if pdf.Err() {
			r.log.Warn("embedded font unavailable, using Helvetica", zap.String("font", family), zap.Error(pdf.Error()))
			pdf.ClearError()
			return fallback
		}
		return face{family: family}
	}
	return embed("certregular", r.fonts.Regular, regular), embed("certbold", r.fonts.Bold, bold)
}

func (f face) text(s string) string {
	if f.translate != nil {
		return f.translate(s)
	}
	return s
}

func (f face) measurer(pdf *fpdf.Fpdf) Measurer {
	return MeasureFunc(func(text string, size float64) float64 {
		pdf.SetFont(f.family, f.style, size)
		return pdf.GetStringWidth(f.text(text))
	})
}

func (f face) centered(pdf *fpdf.Fpdf, s string, size, center, y float64) {
	pdf.SetFont(f.family, f.style, size)
	s = f.text(s)
	pdf.Text(center-pdf.GetStringWidth(s)/2, y, s)
}
