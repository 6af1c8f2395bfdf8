package cloudinary

import (
	"context"
	"crypto/sha1"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSign(t *testing.T) {
	c := New("demo", "key", "secret", "")
	got := c.sign(map[string]string{"timestamp": "1700000000", "public_id": "INV26-X", "api_key": "key", "folder": ""})
	want := fmt.Sprintf("%x", sha1.Sum([]byte("public_id=INV26-X&timestamp=1700000000secret")))
	assert.Equal(t, want, got)
}

func TestUpload(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1_1/demo/auto/upload", r.URL.Path)
		if !assert.NoError(t, r.ParseMultipartForm(1<<20)) {
			return
		}
		assert.Equal(t, "INV26-LQ3K9A-X7F2P", r.FormValue("public_id"))
		assert.Equal(t, "certificates", r.FormValue("folder"))
		assert.Equal(t, "true", r.FormValue("overwrite"))
		assert.NotEmpty(t, r.FormValue("signature"))

		f, hdr, err := r.FormFile("file")
		if !assert.NoError(t, err) {
			return
		}
		defer f.Close()
		body, _ := io.ReadAll(f)
		assert.Equal(t, "Jane_Doe_Certificate.pdf", hdr.Filename)
		assert.Equal(t, "%PDF-1.3", string(body))

		_, _ = w.Write([]byte(`{"public_id":"certificates/INV26-LQ3K9A-X7F2P","secure_url":"https://res.cloudinary.com/demo/raw/upload/x.pdf","resource_type":"image","bytes":8}`))
	}))
	defer srv.Close()

	c := New("demo", "key", "secret", "certificates")
	c.BaseURL = srv.URL
	c.now = func() time.Time { return time.Unix(1_700_000_000, 0) }

	res, err := c.Upload(context.Background(), []byte("%PDF-1.3"), "Jane_Doe_Certificate.pdf", "INV26-LQ3K9A-X7F2P")
	require.NoError(t, err)
	assert.Equal(t, "https://res.cloudinary.com/demo/raw/upload/x.pdf", res.SecureURL)
	assert.Equal(t, 8, res.Bytes)
}

func TestUploadError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"error":{"message":"Invalid Signature"}}`, http.StatusUnauthorized)
	}))
	defer srv.Close()

	c := New("demo", "key", "secret", "")
	c.BaseURL = srv.URL
	_, err := c.Upload(context.Background(), []byte("x"), "x.png", "")
	assert.ErrorContains(t, err, "401")
}
