package app

import (
	"bytes"
	"context"
	"image"
	"image/png"
	"os"
	"path/filepath"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"certhub/internal/config"
	"certhub/internal/queue"
	"certhub/internal/records"
)

func testConfig(t *testing.T) config.App {
	t.Helper()
	dir := t.TempDir()
	write := func(name string, data []byte) string {
		path := filepath.Join(dir, name)
		require.NoError(t, os.WriteFile(path, data, 0o644))
		return path
	}
	var tpl bytes.Buffer
	require.NoError(t, png.Encode(&tpl, image.NewRGBA(image.Rect(0, 0, 297, 210))))

	write("TH03.csv", []byte("Team Name,Team Leader Name\nAlpha Squad,Jane Doe\n"))
	catalog := write("categories.yaml", []byte("categories:\n  - id: th03\n    name: FinTech\n"))

	return config.App{
		Env:              "test",
		RecordBackend:    "sql",
		DBDriver:         "sqlite",
		DatabaseURL:      ":memory:",
		AutoMigrate:      true,
		ResultsBaseURL:   dir,
		CategoriesFile:   catalog,
		CertTemplate:     write("certificate.png", tpl.Bytes()),
		CardTemplates:    map[string]string{"mentor": write("mentor.png", tpl.Bytes())},
		PublicHost:       "innovit.example.org",
		CertIDPrefix:     "INV26",
		IssuePersistMode: "direct",
		QueueBackend:     "memory",
		IssueDate:        "2026-03-14",
	}
}

func seed(t *testing.T, a *App) {
	t.Helper()
	sql, ok := a.Records.(*records.SQLStore)
	require.True(t, ok)
	require.NoError(t, sql.Insert(context.Background(), records.ParticipantRecord{
		Email: "jane@x.com", Name: "jane doe", Team: "alpha squad", Role: records.RoleParticipant,
	}))
}

func TestNew_DirectPersistence(t *testing.T) {
	ctx := context.Background()
	a, err := New(ctx, testConfig(t), nil, prometheus.NewRegistry())
	require.NoError(t, err)
	defer a.Close()
	seed(t, a)

	assert.Equal(t, []string{"TH03"}, a.Catalog.IDs())
	assert.Equal(t, 1, a.Results.Current().Total())
	assert.Equal(t, map[string]bool{"db": true}, a.Health(ctx))
	assert.False(t, a.Service.CanPublish())

	art, err := a.Service.DownloadCertificate(ctx, "jane@x.com")
	require.NoError(t, err)
	assert.Equal(t, "Jane_Doe_Certificate.pdf", art.Filename)

	rec, err := a.Records.FetchByEmail(ctx, "jane@x.com")
	require.NoError(t, err)
	assert.Equal(t, art.CertificateID, rec.CertificateID)
}

func TestNew_QueuedPersistence(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	cfg := testConfig(t)
	cfg.IssuePersistMode = "queue"

	a, err := New(ctx, cfg, nil, prometheus.NewRegistry())
	require.NoError(t, err)
	defer a.Close()
	seed(t, a)

	v, err := a.Service.VerifyCertificate(ctx, "jane@x.com")
	require.NoError(t, err)

	rec, err := a.Records.FetchByEmail(ctx, "jane@x.com")
	require.NoError(t, err)
	assert.Empty(t, rec.CertificateID, "write is deferred to the worker")

	ch, err := a.Queue.Consume(ctx)
	require.NoError(t, err)
	job, err := queue.DecodeCertificateID(<-ch)
	require.NoError(t, err)
	assert.Equal(t, v.CertificateID, job.CertificateID)
}

func TestNew_BadCatalog(t *testing.T) {
	cfg := testConfig(t)
	cfg.CategoriesFile = filepath.Join(t.TempDir(), "missing.yaml")
	_, err := New(context.Background(), cfg, nil, prometheus.NewRegistry())
	assert.Error(t, err)
}
