// Package certification runs the verification workflows behind the certificate,
// ID card and verify-certificate pages and converts every failure into a Kind.
package certification

import (
	"context"
	"errors"
	"path"
	"strings"
	"time"

	"go.uber.org/zap"

	"certhub/internal/cloudinary"
	"certhub/internal/idcard"
	"certhub/internal/issuer"
	"certhub/internal/matching"
	"certhub/internal/metrics"
	"certhub/internal/records"
	"certhub/internal/render"
	"certhub/internal/results"
)

// CertificateRenderer renders one certificate PDF.
type CertificateRenderer interface {
	Render(ctx context.Context, in render.CertificateInput) ([]byte, error)
}

// CardComposer renders ID cards.
type CardComposer interface {
	Compose(ctx context.Context, in idcard.CardInput) ([]byte, error)
	ComposePDF(ctx context.Context, in idcard.CardInput) ([]byte, error)
}

// Publisher uploads an artifact and returns where it can be downloaded.
type Publisher interface {
	Upload(ctx context.Context, data []byte, filename, publicID string) (*cloudinary.UploadResult, error)
}

// Deps wires a Service. Publisher, Logger and Metrics may be nil.
type Deps struct {
	Store     records.Store
	Results   *results.Holder
	Issuer    *issuer.Issuer
	Renderer  CertificateRenderer
	Composer  CardComposer
	Publisher Publisher
	Logger    *zap.Logger
	Metrics   *metrics.Metrics
	// IssueDate returns the date printed on certificates; defaults to today (UTC).
	IssueDate func() time.Time
}

// Service implements the verification workflows.
type Service struct {
	store     records.Store
	results   *results.Holder
	issuer    *issuer.Issuer
	renderer  CertificateRenderer
	composer  CardComposer
	publisher Publisher
	log       *zap.Logger
	metrics   *metrics.Metrics
	issueDate func() time.Time
}

func New(d Deps) *Service {
	s := &Service{
		store:     d.Store,
		results:   d.Results,
		issuer:    d.Issuer,
		renderer:  d.Renderer,
		composer:  d.Composer,
		publisher: d.Publisher,
		log:       d.Logger,
		metrics:   d.Metrics,
		issueDate: d.IssueDate,
	}
	if s.log == nil {
		s.log = zap.NewNop()
	}
	if s.issueDate == nil {
		s.issueDate = func() time.Time {
			y, m, day := time.Now().UTC().Date()
			return time.Date(y, m, day, 0, 0, 0, 0, time.UTC)
		}
	}
	return s
}

// Verification is a participant eligible for a certificate.
type Verification struct {
	Record        records.ParticipantRecord `json:"record"`
	Category      results.Category          `json:"category"`
	Row           results.Row               `json:"row"`
	CertificateID string                    `json:"certificate_id"`
}

// Artifact is a rendered file ready to be sent to the client.
type Artifact struct {
	Filename      string
	ContentType   string
	Body          []byte
	CertificateID string
}

// VerifyCertificate looks the participant up, matches their team against the
// result tables and ensures a certificate id exists.
func (s *Service) VerifyCertificate(ctx context.Context, email string) (v Verification, err error) {
	defer func() { s.observe("certificate", err) }()

	rec, err := s.fetch(ctx, email)
	if err != nil {
		return Verification{}, err
	}
	m, err := matching.Match(rec, s.results.Current())
	if err != nil {
		s.log.Info("participant has no category match", zap.String("email", rec.Email), zap.String("team", rec.Team))
		return Verification{}, classify(err)
	}
	id, err := s.issuer.EnsureCertificateID(ctx, rec)
	if err != nil {
		return Verification{}, classify(err)
	}
	rec.CertificateID = id
	return Verification{Record: rec, Category: m.Category, Row: m.Row, CertificateID: id}, nil
}

// DownloadCertificate verifies and renders the certificate PDF.
func (s *Service) DownloadCertificate(ctx context.Context, email string) (Artifact, error) {
	v, err := s.VerifyCertificate(ctx, email)
	if err != nil {
		return Artifact{}, err
	}
	m := matching.VerifiedMatch{Record: v.Record, Category: v.Category, Row: v.Row}
	body, err := s.renderer.Render(ctx, render.InputFromMatch(m, v.CertificateID, s.issueDate()))
	if err != nil {
		s.log.Error("certificate render failed", zap.String("certificate_id", v.CertificateID), zap.Error(err))
		return Artifact{}, classify(err)
	}
	return Artifact{
		Filename:      render.DownloadFilename(render.TitleCase(v.Record.Name), render.CertificateSuffix),
		ContentType:   "application/pdf",
		Body:          body,
		CertificateID: v.CertificateID,
	}, nil
}

// LookupCertificate resolves a certificate id, or a full verification URL, to its holder.
func (s *Service) LookupCertificate(ctx context.Context, idOrURL string) (rec records.ParticipantRecord, err error) {
	defer func() { s.observe("lookup", err) }()

	id := strings.TrimSpace(idOrURL)
	if fromURL, ok := render.CertificateIDFromURL(id); ok {
		id = fromURL
	}
	if id == "" {
		return records.ParticipantRecord{}, invalid("Please enter a certificate ID.")
	}
	rec, err = s.store.FetchByCertificateID(ctx, id)
	if err != nil {
		if KindOf(err) == KindNotFound {
			return records.ParticipantRecord{}, &Error{Kind: KindNotFound, Message: "No certificate was issued with this ID.", Err: err}
		}
		return records.ParticipantRecord{}, classify(err)
	}
	return rec, nil
}

// VerifyCardHolder checks that email belongs to a registered person.
func (s *Service) VerifyCardHolder(ctx context.Context, email string) (rec records.ParticipantRecord, err error) {
	defer func() { s.observe("id_card", err) }()
	return s.fetch(ctx, email)
}

// GenerateCard composes the ID card for email in format "png" or "pdf".
func (s *Service) GenerateCard(ctx context.Context, email string, photo []byte, format string) (Artifact, error) {
	format = strings.ToLower(strings.TrimSpace(format))
	if format == "" {
		format = "png"
	}
	if format != "png" && format != "pdf" {
		return Artifact{}, invalid("Format must be png or pdf.")
	}
	if len(photo) == 0 {
		return Artifact{}, invalid("Please upload a photo.")
	}
	rec, err := s.VerifyCardHolder(ctx, email)
	if err != nil {
		return Artifact{}, err
	}

	in := idcard.InputFromRecord(rec, photo)
	in.IssuedAt = s.issueDate()
	var body []byte
	art := Artifact{}
	if format == "pdf" {
		body, err = s.composer.ComposePDF(ctx, in)
		art.Filename = render.DownloadFilename(rec.Name, render.CardPDFSuffix)
		art.ContentType = "application/pdf"
	} else {
		body, err = s.composer.Compose(ctx, in)
		art.Filename = render.DownloadFilename(rec.Name, render.CardPNGSuffix)
		art.ContentType = "image/png"
	}
	if err != nil {
		s.log.Warn("id card compose failed", zap.String("email", rec.Email), zap.Error(err))
		if errors.Is(err, idcard.ErrCardTemplateFailed) {
			return Artifact{}, &Error{Kind: KindAssetLoadFailed, Message: cardTemplateMessage, Err: err}
		}
		return Artifact{}, classify(err)
	}
	art.Body = body
	return art, nil
}

// Publish uploads an artifact to the CDN and returns its URL.
func (s *Service) Publish(ctx context.Context, a Artifact) (string, error) {
	if s.publisher == nil {
		return "", ErrPublishingDisabled
	}
	publicID := strings.TrimSuffix(a.Filename, path.Ext(a.Filename))
	if a.CertificateID != "" {
		publicID = a.CertificateID
	}
	res, err := s.publisher.Upload(ctx, a.Body, a.Filename, publicID)
	if err != nil {
		s.log.Warn("artifact upload failed", zap.String("file", a.Filename), zap.Error(err))
		return "", classify(err)
	}
	return res.SecureURL, nil
}

// CanPublish reports whether a CDN publisher is configured.
func (s *Service) CanPublish() bool { return s.publisher != nil }

// Results exposes the current result snapshot.
func (s *Service) Results() *results.Snapshot { return s.results.Current() }

// ReloadResults rebuilds the result snapshot.
func (s *Service) ReloadResults(ctx context.Context) *results.Snapshot {
	return s.results.Reload(ctx)
}

func (s *Service) fetch(ctx context.Context, email string) (records.ParticipantRecord, error) {
	email = records.NormalizeEmail(email)
	if email == "" || !strings.Contains(email, "@") {
		return records.ParticipantRecord{}, invalid("Please enter a valid email address.")
	}
	rec, err := s.store.FetchByEmail(ctx, email)
	if err != nil {
		if KindOf(err) != KindNotFound {
			s.log.Warn("record store lookup failed", zap.String("email", email), zap.Error(err))
		}
		return records.ParticipantRecord{}, classify(err)
	}
	return rec, nil
}

func (s *Service) observe(flow string, err error) {
	outcome := "ok"
	if err != nil {
		outcome = string(KindOf(err))
	}
	s.metrics.Verification(flow, outcome)
}
