// Package handler exposes the certification workflows over HTTP.
package handler

import (
	"context"
	"errors"
	"io"
	"mime"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"certhub/internal/auth"
	"certhub/internal/certification"
	"certhub/internal/records"
	"certhub/internal/render"
)

// Options configures the handlers that are not part of the certification service.
type Options struct {
	PublicHost    string
	JWTIssuer     string
	JWTSigningKey string
	AdminAPIKey   string
	AccessTTL     time.Duration
	MaxPhotoBytes int64
	// Health reports named dependency checks for /healthz.
	Health func(ctx context.Context) map[string]bool
	Logger *zap.Logger
}

type Handler struct {
	svc  *certification.Service
	opts Options
	log  *zap.Logger
}

func New(svc *certification.Service, opts Options) *Handler {
	if opts.MaxPhotoBytes <= 0 {
		opts.MaxPhotoBytes = 8 << 20
	}
	if opts.AccessTTL <= 0 {
		opts.AccessTTL = 30 * time.Minute
	}
	log := opts.Logger
	if log == nil {
		log = zap.NewNop()
	}
	return &Handler{svc: svc, opts: opts, log: log}
}

// Register mounts every route on r.
func (h *Handler) Register(r gin.IRouter) {
	r.GET("/healthz", h.Healthz)
	r.GET("/verify-certificate", h.LookupCertificate)

	v1 := r.Group("/v1")
	{
		v1.POST("/certificates/verify", h.VerifyCertificate)
		v1.POST("/certificates/download", h.DownloadCertificate)
		v1.GET("/certificates/:id", h.LookupCertificate)

		v1.POST("/id-cards/verify", h.VerifyCardHolder)
		v1.POST("/id-cards", h.GenerateCard)

		v1.POST("/admin/token", h.AdminToken)
		admin := v1.Group("/admin", auth.AdminAuth(h.opts.JWTSigningKey, h.opts.JWTIssuer))
		admin.GET("/results", h.ResultSummary)
		admin.POST("/results/reload", h.ReloadResults)
	}
}

// ---------- Health ----------

func (h *Handler) Healthz(c *gin.Context) {
	body := gin.H{"status": "ok"}
	status := http.StatusOK
	if h.opts.Health != nil {
		for name, ok := range h.opts.Health(c.Request.Context()) {
			body[name] = ok
			if !ok {
				status = http.StatusServiceUnavailable
				body["status"] = "degraded"
			}
		}
	}
	c.JSON(status, body)
}

// ---------- Certificates ----------

type emailRequest struct {
	Email string `json:"email" form:"email"`
}

type downloadRequest struct {
	Email   string `json:"email" form:"email"`
	Publish bool   `json:"publish" form:"publish"`
}

func (h *Handler) VerifyCertificate(c *gin.Context) {
	var req emailRequest
	if err := c.ShouldBind(&req); err != nil {
		h.badRequest(c, "Please enter a valid email address.")
		return
	}
	v, err := h.svc.VerifyCertificate(c.Request.Context(), req.Email)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"name":             v.Record.Name,
		"email":            v.Record.Email,
		"team":             v.Record.Team,
		"role":             v.Record.Role.Label(),
		"category":         v.Category,
		"category_label":   v.Category.Label(),
		"certificate_id":   v.CertificateID,
		"verification_url": render.VerificationURL(h.opts.PublicHost, v.CertificateID),
	})
}

// DownloadCertificate streams the PDF, or returns a CDN link when the caller
// asks for one and publishing is configured.
func (h *Handler) DownloadCertificate(c *gin.Context) {
	var req downloadRequest
	if err := c.ShouldBind(&req); err != nil {
		h.badRequest(c, "Please enter a valid email address.")
		return
	}
	art, err := h.svc.DownloadCertificate(c.Request.Context(), req.Email)
	if err != nil {
		h.fail(c, err)
		return
	}
	if req.Publish && h.svc.CanPublish() {
		url, err := h.svc.Publish(c.Request.Context(), art)
		if err != nil {
			h.fail(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"url": url, "filename": art.Filename, "certificate_id": art.CertificateID})
		return
	}
	h.attachment(c, art)
}

// LookupCertificate serves both /v1/certificates/:id and the ?id= form linked from the QR code.
func (h *Handler) LookupCertificate(c *gin.Context) {
	id := c.Param("id")
	if id == "" {
		id = c.Query("id")
	}
	rec, err := h.svc.LookupCertificate(c.Request.Context(), id)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"valid":          true,
		"certificate_id": rec.CertificateID,
		"name":           render.TitleCase(rec.Name),
		"team":           rec.Team,
		"role":           rec.Role.Label(),
	})
}

// ---------- ID cards ----------

func (h *Handler) VerifyCardHolder(c *gin.Context) {
	var req emailRequest
	if err := c.ShouldBind(&req); err != nil {
		h.badRequest(c, "Please enter a valid email address.")
		return
	}
	rec, err := h.svc.VerifyCardHolder(c.Request.Context(), req.Email)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, cardHolder(rec))
}

// GenerateCard expects multipart fields email, photo (file) and optional format=png|pdf.
func (h *Handler) GenerateCard(c *gin.Context) {
	c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, h.opts.MaxPhotoBytes+1<<20)

	file, _, err := c.Request.FormFile("photo")
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			c.JSON(http.StatusRequestEntityTooLarge, gin.H{"error": "The photo is too large.", "kind": certification.KindInvalidInput})
			return
		}
		h.badRequest(c, "Please upload a photo.")
		return
	}
	defer file.Close()

	photo, err := io.ReadAll(io.LimitReader(file, h.opts.MaxPhotoBytes+1))
	if err != nil {
		h.badRequest(c, "Please upload a photo.")
		return
	}
	if int64(len(photo)) > h.opts.MaxPhotoBytes {
		c.JSON(http.StatusRequestEntityTooLarge, gin.H{"error": "The photo is too large.", "kind": certification.KindInvalidInput})
		return
	}

	art, err := h.svc.GenerateCard(c.Request.Context(), c.PostForm("email"), photo, c.DefaultPostForm("format", "png"))
	if err != nil {
		h.fail(c, err)
		return
	}
	h.attachment(c, art)
}

func cardHolder(rec records.ParticipantRecord) gin.H {
	return gin.H{
		"name":          rec.Name,
		"email":         rec.Email,
		"team":          rec.Team,
		"role":          rec.Role,
		"role_label":    rec.Role.Label(),
		"team_position": rec.TeamPosition,
	}
}

// ---------- Admin ----------

func (h *Handler) AdminToken(c *gin.Context) {
	var req struct {
		APIKey string `json:"api_key" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "api_key is required"})
		return
	}
	if err := auth.CheckAPIKey(req.APIKey, h.opts.AdminAPIKey); err != nil {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid api key"})
		return
	}
	tok, err := auth.Issue("operator", auth.RoleAdmin, h.opts.JWTIssuer, h.opts.JWTSigningKey, h.opts.AccessTTL)
	if err != nil {
		h.log.Error("admin token issue failed", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "token issue failed"})
		return
	}
	c.JSON(http.StatusCreated, gin.H{"access_token": tok.AccessToken, "expires_at": tok.ExpiresAt.Unix()})
}

func (h *Handler) ResultSummary(c *gin.Context) {
	snap := h.svc.Results()
	c.JSON(http.StatusOK, gin.H{
		"loaded_at":  snap.LoadedAt,
		"total":      snap.Total(),
		"categories": snap.Summaries(),
	})
}

func (h *Handler) ReloadResults(c *gin.Context) {
	snap := h.svc.ReloadResults(c.Request.Context())
	h.log.Info("result tables reloaded", zap.Int("rows", snap.Total()), zap.Int("failed_categories", len(snap.Errors)))
	c.JSON(http.StatusOK, gin.H{
		"loaded_at":  snap.LoadedAt,
		"total":      snap.Total(),
		"categories": snap.Summaries(),
	})
}

// ---------- Responses ----------

func (h *Handler) attachment(c *gin.Context, art certification.Artifact) {
	c.Header("Content-Disposition", mime.FormatMediaType("attachment", map[string]string{"filename": art.Filename}))
	if art.CertificateID != "" {
		c.Header("X-Certificate-Id", art.CertificateID)
	}
	c.Data(http.StatusOK, art.ContentType, art.Body)
}

func (h *Handler) badRequest(c *gin.Context, msg string) {
	c.JSON(http.StatusBadRequest, gin.H{"error": msg, "kind": certification.KindInvalidInput})
}

func (h *Handler) fail(c *gin.Context, err error) {
	kind := certification.KindOf(err)
	status := StatusFor(kind)
	if status >= http.StatusInternalServerError {
		h.log.Warn("request failed", zap.String("path", c.FullPath()), zap.String("kind", string(kind)), zap.Error(err))
	}
	c.JSON(status, gin.H{"error": certification.UserMessage(err), "kind": kind})
}

// StatusFor maps an error kind onto an HTTP status.
func StatusFor(kind certification.Kind) int {
	switch kind {
	case certification.KindNotFound:
		return http.StatusNotFound
	case certification.KindNoMatch:
		return http.StatusUnprocessableEntity
	case certification.KindTemplateUnavailable, certification.KindAssetLoadFailed:
		return http.StatusServiceUnavailable
	case certification.KindInvalidInput:
		return http.StatusBadRequest
	default:
		return http.StatusBadGateway
	}
}
