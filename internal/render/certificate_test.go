package render

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"image/color"
	"image/png"
	"regexp"
	"testing"
	"time"

	"github.com/go-pdf/fpdf"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"certhub/internal/assets"
	"certhub/internal/matching"
	"certhub/internal/records"
	"certhub/internal/results"
)

type staticFetcher map[string][]byte

func (f staticFetcher) Fetch(_ context.Context, source string) ([]byte, error) {
	b, ok := f[source]
	if !ok {
		return nil, fmt.Errorf("%w: %s not found", assets.ErrUnavailable, source)
	}
	return b, nil
}

func pngTemplate(t *testing.T) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, 210, 149))
	for y := 0; y < 149; y++ {
		for x := 0; x < 210; x++ {
			img.Set(x, y, color.RGBA{R: 250, G: 245, B: 230, A: 255})
		}
	}
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))
	return buf.Bytes()
}

func pdfTemplate(t *testing.T) []byte {
	t.Helper()
	p := fpdf.New("L", "pt", "A4", "")
	p.AddPage()
	p.SetFont("Helvetica", "B", 32)
	p.Text(200, 120, "CERTIFICATE OF PARTICIPATION")
	var buf bytes.Buffer
	require.NoError(t, p.Output(&buf))
	return buf.Bytes()
}

var issued = time.Date(2026, time.March, 14, 0, 0, 0, 0, time.UTC)

func sampleInput() CertificateInput {
	m := matching.VerifiedMatch{
		Record:   records.ParticipantRecord{Email: "jane@x.com", Name: "jane doe", Team: "alpha squad"},
		Category: results.Category{ID: "TH03", Name: "FinTech and Blockchain"},
	}
	return InputFromMatch(m, "INV26-LQ3K9A-X7F2P", issued)
}

var uriPattern = regexp.MustCompile(`/URI ?\((https://[^)]*)\)`)

func TestRender_ImageTemplateIsDeterministic(t *testing.T) {
	f := staticFetcher{"cert.png": pngTemplate(t)}
	r := NewCertificateRenderer(f, "cert.png", "innovit.example.org", WithFonts(FontSet{}), WithoutCompression())

	first, err := r.Render(context.Background(), sampleInput())
	require.NoError(t, err)
	second, err := r.Render(context.Background(), sampleInput())
	require.NoError(t, err)

	assert.True(t, bytes.HasPrefix(first, []byte("%PDF-")))
	assert.Equal(t, first, second)

	assert.Contains(t, string(first), "(Jane Doe | Team: Alpha Squad) Tj")
	assert.Contains(t, string(first), "(TH03 : FinTech and Blockchain) Tj")
	assert.Contains(t, string(first), "(14 March 2026) Tj")
	assert.Contains(t, string(first), "(Certificate ID: INV26-LQ3K9A-X7F2P) Tj")

	m := uriPattern.FindSubmatch(first)
	require.NotNil(t, m, "verification link missing")
	id, ok := CertificateIDFromURL(string(m[1]))
	require.True(t, ok)
	assert.Equal(t, "INV26-LQ3K9A-X7F2P", id)
}

func TestRender_WithoutCertificateIDSkipsCaptionAndQR(t *testing.T) {
	f := staticFetcher{"cert.png": pngTemplate(t)}
	r := NewCertificateRenderer(f, "cert.png", "innovit.example.org", WithFonts(FontSet{}), WithoutCompression())

	in := sampleInput()
	in.CertificateID = ""
	out, err := r.Render(context.Background(), in)
	require.NoError(t, err)
	assert.NotContains(t, string(out), "Certificate ID:")
	assert.Nil(t, uriPattern.FindSubmatch(out))
}

func TestRender_PDFTemplateWithEmbeddedFonts(t *testing.T) {
	f := staticFetcher{"cert.pdf": pdfTemplate(t)}
	r := NewCertificateRenderer(f, "cert.pdf", "innovit.example.org")

	out, err := r.Render(context.Background(), sampleInput())
	require.NoError(t, err)
	assert.True(t, bytes.HasPrefix(out, []byte("%PDF-")))
	assert.Greater(t, len(out), len(f["cert.pdf"]))
}

func TestRender_PDFTemplateIsDeterministic(t *testing.T) {
	f := staticFetcher{"cert.pdf": pdfTemplate(t)}

	var outs [][]byte
	for i := 0; i < 4; i++ {
		r := NewCertificateRenderer(f, "cert.pdf", "innovit.example.org")
		out, err := r.Render(context.Background(), sampleInput())
		require.NoError(t, err)
		outs = append(outs, out)
	}
	for i := 1; i < len(outs); i++ {
		require.Equal(t, outs[0], outs[i], "render %d differs", i)
	}

	again, err := canonicalPDF(outs[0])
	require.NoError(t, err)
	assert.Equal(t, outs[0], again)
	assert.True(t, bytes.HasSuffix(outs[0], []byte("%%EOF\n")))
}

func TestCanonicalPDF_RejectsGarbage(t *testing.T) {
	_, err := canonicalPDF([]byte("%PDF-1.3\nnot really"))
	assert.Error(t, err)
}

func TestRender_BrokenFontFallsBack(t *testing.T) {
	f := staticFetcher{"cert.png": pngTemplate(t)}
	r := NewCertificateRenderer(f, "cert.png", "innovit.example.org",
		WithFonts(FontSet{Regular: []byte("not a font"), Bold: []byte("nope")}), WithoutCompression())

	out, err := r.Render(context.Background(), sampleInput())
	require.NoError(t, err)
	assert.Regexp(t, `/BaseFont ?/Helvetica`, string(out))
	assert.Contains(t, string(out), "(Certificate ID: INV26-LQ3K9A-X7F2P) Tj")
}

func TestRender_TemplateUnavailable(t *testing.T) {
	r := NewCertificateRenderer(staticFetcher{}, "missing.pdf", "innovit.example.org")
	_, err := r.Render(context.Background(), sampleInput())
	assert.ErrorIs(t, err, ErrTemplateUnavailable)

	r = NewCertificateRenderer(staticFetcher{"junk": []byte("not a template")}, "junk", "innovit.example.org")
	_, err = r.Render(context.Background(), sampleInput())
	assert.ErrorIs(t, err, ErrTemplateUnavailable)
}

func TestQRPNGHasTransparentBackground(t *testing.T) {
	b, err := qrPNG(VerificationURL("innovit.example.org", "INV26-LQ3K9A-X7F2P"))
	require.NoError(t, err)
	img, err := png.Decode(bytes.NewReader(b))
	require.NoError(t, err)
	_, _, _, a := img.At(0, 0).RGBA()
	assert.Zero(t, a)
}
