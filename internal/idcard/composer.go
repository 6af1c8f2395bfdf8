// Package idcard composes the event ID card: role template, cover-fit photo
// and auto-sized name and team lines.
package idcard

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image"
	"image/color"
	_ "image/jpeg"
	"image/png"
	"math"
	"strings"
	"time"

	"github.com/go-pdf/fpdf"
	"go.uber.org/zap"
	"golang.org/x/image/draw"
	"golang.org/x/image/font"
	"golang.org/x/image/font/gofont/gomonobold"
	"golang.org/x/image/font/opentype"
	"golang.org/x/image/math/fixed"
	_ "golang.org/x/image/webp"

	"certhub/internal/assets"
	"certhub/internal/metrics"
	"certhub/internal/records"
	"certhub/internal/render"
)

var (
	// ErrAssetLoadFailed means the role template or the uploaded photo could not be loaded.
	ErrAssetLoadFailed = errors.New("id card asset failed to load")
	// ErrCardTemplateFailed narrows ErrAssetLoadFailed to the role template.
	ErrCardTemplateFailed = fmt.Errorf("%w: template", ErrAssetLoadFailed)
)

// Printed card size in millimetres.
const (
	CardWidthMM  = 101.2
	CardHeightMM = 153.6
)

// Layout is measured in template pixels.
type Layout struct {
	Photo        image.Rectangle
	TextCenterX  float64
	TextTop      float64
	MaxTextWidth float64
	NameSize     float64
	NameMinSize  float64
	TeamMinSize  float64
	TeamOffsetX  float64
	Color        color.RGBA
}

// DefaultLayout matches the 1012x1536 event templates.
func DefaultLayout() Layout {
	photo := image.Rect(160, 232, 160+224, 232+232)
	return Layout{
		Photo:        photo,
		TextCenterX:  160 + 224/2,
		TextTop:      232 + 224 + 60,
		MaxTextWidth: 220,
		NameSize:     38,
		NameMinSize:  24,
		TeamMinSize:  20,
		TeamOffsetX:  -5,
		Color:        color.RGBA{R: 0xff, G: 0x8a, B: 0x2e, A: 0xff},
	}
}

// NameBaseline is where the name is drawn.
func (l Layout) NameBaseline() float64 { return l.TextTop - 10 }

// TeamBaseline depends on the final name size.
func (l Layout) TeamBaseline(nameSize float64) float64 { return l.TextTop - 22 + nameSize + 18 }

// CardInput is one card request.
type CardInput struct {
	Role         records.Role
	Name         string
	Team         string
	TeamPosition string
	Photo        []byte
	IssuedAt     time.Time
}

// InputFromRecord fills the text fields from a participant record.
func InputFromRecord(rec records.ParticipantRecord, photo []byte) CardInput {
	return CardInput{Role: rec.Role, Name: rec.Name, Team: rec.Team, TeamPosition: rec.TeamPosition, Photo: photo}
}

// TeamLine is "<team> Team-<position>", or just the team without a position.
// Only participants and volunteers get one.
func TeamLine(role records.Role, team, position string) (string, bool) {
	team = strings.TrimSpace(team)
	if team == "" || (role != records.RoleParticipant && role != records.RoleVolunteer) {
		return "", false
	}
	if p := strings.TrimSpace(position); p != "" {
		return team + " Team-" + p, true
	}
	return team, true
}

// Composer builds ID cards.
type Composer struct {
	fetcher   assets.Fetcher
	templates map[records.Role]string
	layout    Layout
	font      *opentype.Font
	log       *zap.Logger
	metrics   *metrics.Metrics
}

type Option func(*Composer)

func WithLayout(l Layout) Option { return func(c *Composer) { c.layout = l } }

func WithLogger(l *zap.Logger) Option { return func(c *Composer) { c.log = l } }

func WithMetrics(m *metrics.Metrics) Option { return func(c *Composer) { c.metrics = m } }

// NewComposer parses the card font; ttf nil selects Go Mono Bold.
func NewComposer(fetcher assets.Fetcher, templates map[records.Role]string, ttf []byte, opts ...Option) (*Composer, error) {
	if ttf == nil {
		ttf = gomonobold.TTF
	}
	f, err := opentype.Parse(ttf)
	if err != nil {
		return nil, fmt.Errorf("parse card font: %w", err)
	}
	c := &Composer{
		fetcher:   fetcher,
		templates: templates,
		layout:    DefaultLayout(),
		font:      f,
		log:       zap.NewNop(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// TemplatesFromConfig maps role keys from configuration onto roles.
func TemplatesFromConfig(m map[string]string) map[records.Role]string {
	out := make(map[records.Role]string, len(m))
	for k, v := range m {
		if role := records.ParseRole(k); role != records.RoleUnknown && v != "" {
			out[role] = v
		}
	}
	return out
}

// TemplateFor returns the template source for role. Unknown roles get the mentor card.
func (c *Composer) TemplateFor(role records.Role) string {
	if src, ok := c.templates[role]; ok {
		return src
	}
	return c.templates[records.RoleMentor]
}

// Compose returns the card as PNG.
func (c *Composer) Compose(ctx context.Context, in CardInput) (out []byte, err error) {
	started := time.Now()
	defer func() { c.metrics.Render("id_card_png", started, err) }()

	img, err := c.compose(ctx, in)
	if err != nil {
		return nil, err
	}
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		return nil, fmt.Errorf("encode card: %w", err)
	}
	return buf.Bytes(), nil
}

// ComposePDF wraps the card image in a single page of the printed card size.
func (c *Composer) ComposePDF(ctx context.Context, in CardInput) (out []byte, err error) {
	started := time.Now()
	defer func() { c.metrics.Render("id_card_pdf", started, err) }()

	img, err := c.compose(ctx, in)
	if err != nil {
		return nil, err
	}
	var raster bytes.Buffer
	if err := png.Encode(&raster, img); err != nil {
		return nil, fmt.Errorf("encode card: %w", err)
	}

	pdf := fpdf.NewCustom(&fpdf.InitType{
		OrientationStr: "P",
		UnitStr:        "mm",
		Size:           fpdf.SizeType{Wd: CardWidthMM, Ht: CardHeightMM},
	})
	pdf.SetCatalogSort(true)
	if !in.IssuedAt.IsZero() {
		pdf.SetCreationDate(in.IssuedAt)
		pdf.SetModificationDate(in.IssuedAt)
	}
	pdf.SetTitle("ID Card - "+strings.TrimSpace(in.Name), true)
	pdf.SetMargins(0, 0, 0)
	pdf.SetAutoPageBreak(false, 0)
	pdf.AddPage()
	opts := fpdf.ImageOptions{ImageType: "PNG"}
	pdf.RegisterImageOptionsReader("card", opts, &raster)
	pdf.ImageOptions("card", 0, 0, CardWidthMM, CardHeightMM, false, opts, 0, "")
	if pdf.Err() {
		return nil, fmt.Errorf("card pdf: %w", pdf.Error())
	}
	var buf bytes.Buffer
	if err := pdf.Output(&buf); err != nil {
		return nil, fmt.Errorf("card pdf: %w", err)
	}
	return buf.Bytes(), nil
}

func (c *Composer) compose(ctx context.Context, in CardInput) (*image.RGBA, error) {
	src := c.TemplateFor(in.Role)
	if _, ok := c.templates[in.Role]; !ok {
		c.log.Debug("no card template for role, using mentor", zap.String("role", string(in.Role)))
	}
	raw, err := c.fetcher.Fetch(ctx, src)
	if err != nil {
		return nil, fmt.Errorf("%w %s: %w", ErrCardTemplateFailed, src, err)
	}
	tpl, _, err := image.Decode(bytes.NewReader(raw))
	if err != nil {
		return nil, fmt.Errorf("%w %s: %w", ErrCardTemplateFailed, src, err)
	}
	photo, _, err := image.Decode(bytes.NewReader(in.Photo))
	if err != nil {
		return nil, fmt.Errorf("%w: photo: %w", ErrAssetLoadFailed, err)
	}
	if photo.Bounds().Empty() {
		return nil, fmt.Errorf("%w: photo is empty", ErrAssetLoadFailed)
	}

	l := c.layout
	b := tpl.Bounds()
	dst := image.NewRGBA(image.Rect(0, 0, b.Dx(), b.Dy()))
	draw.Draw(dst, dst.Bounds(), tpl, b.Min, draw.Src)

	// Scale writes only inside the sub-image, which clips the photo to the region.
	region := l.Photo.Intersect(dst.Bounds())
	if !region.Empty() {
		clip := dst.SubImage(region).(*image.RGBA)
		draw.CatmullRom.Scale(clip, CoverFit(photo.Bounds().Size(), l.Photo), photo, photo.Bounds(), draw.Over, nil)
	}

	faces := newFaceSet(c.font)
	defer faces.close()

	name := strings.TrimSpace(in.Name)
	nameSize := render.FitFontSize(faces, name, l.NameSize, l.NameMinSize, l.MaxTextWidth)
	if err := faces.drawCentered(dst, l.Color, name, nameSize, l.TextCenterX, l.NameBaseline()); err != nil {
		return nil, err
	}

	if team, ok := TeamLine(in.Role, in.Team, in.TeamPosition); ok {
		teamSize := render.FitFontSize(faces, team, nameSize, l.TeamMinSize, l.MaxTextWidth)
		if err := faces.drawCentered(dst, l.Color, team, teamSize, l.TextCenterX+l.TeamOffsetX, l.TeamBaseline(nameSize)); err != nil {
			return nil, err
		}
	}
	return dst, nil
}

// CoverFit scales size to cover region completely, keeping the aspect ratio,
// and centers the result on region. The returned rectangle may extend past region.
func CoverFit(size image.Point, region image.Rectangle) image.Rectangle {
	if size.X <= 0 || size.Y <= 0 {
		return region
	}
	rw, rh := region.Dx(), region.Dy()
	scale := math.Max(float64(rw)/float64(size.X), float64(rh)/float64(size.Y))
	w := int(math.Ceil(float64(size.X) * scale))
	h := int(math.Ceil(float64(size.Y) * scale))
	x := region.Min.X + (rw-w)/2
	y := region.Min.Y + (rh-h)/2
	return image.Rect(x, y, x+w, y+h)
}

// faceSet caches one face per size for a single compose call.
type faceSet struct {
	font  *opentype.Font
	faces map[float64]font.Face
}

func newFaceSet(f *opentype.Font) *faceSet {
	return &faceSet{font: f, faces: map[float64]font.Face{}}
}

func (s *faceSet) face(size float64) (font.Face, error) {
	if f, ok := s.faces[size]; ok {
		return f, nil
	}
	f, err := opentype.NewFace(s.font, &opentype.FaceOptions{Size: size, DPI: 72, Hinting: font.HintingNone})
	if err != nil {
		return nil, fmt.Errorf("card font face: %w", err)
	}
	s.faces[size] = f
	return f, nil
}

// Measure implements render.Measurer in pixels.
func (s *faceSet) Measure(text string, size float64) float64 {
	f, err := s.face(size)
	if err != nil {
		return math.Inf(1)
	}
	return fixedToFloat(font.MeasureString(f, text))
}

func (s *faceSet) drawCentered(dst *image.RGBA, col color.Color, text string, size, cx, baseline float64) error {
	if text == "" {
		return nil
	}
	f, err := s.face(size)
	if err != nil {
		return err
	}
	w := font.MeasureString(f, text)
	d := font.Drawer{
		Dst:  dst,
		Src:  image.NewUniform(col),
		Face: f,
		Dot:  fixed.Point26_6{X: floatToFixed(cx) - w/2, Y: floatToFixed(baseline)},
	}
	d.DrawString(text)
	return nil
}

func (s *faceSet) close() {
	for _, f := range s.faces {
		_ = f.Close()
	}
}

func fixedToFloat(v fixed.Int26_6) float64 { return float64(v) / 64 }

func floatToFixed(v float64) fixed.Int26_6 { return fixed.Int26_6(math.Round(v * 64)) }
