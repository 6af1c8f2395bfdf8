package auth

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testKey = "test-signing-key"

func TestIssueAndParse(t *testing.T) {
	tok, err := Issue("ops", RoleAdmin, "certhub", testKey, time.Minute)
	require.NoError(t, err)
	assert.WithinDuration(t, time.Now().Add(time.Minute), tok.ExpiresAt, 2*time.Second)

	claims, err := Parse(tok.AccessToken, testKey, "certhub")
	require.NoError(t, err)
	assert.Equal(t, "ops", claims.Subject)
	assert.Equal(t, RoleAdmin, claims.Role)

	_, err = Parse(tok.AccessToken, "other-key", "certhub")
	assert.ErrorIs(t, err, ErrInvalidToken)

	_, err = Parse(tok.AccessToken, testKey, "someone-else")
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestParseRejectsExpired(t *testing.T) {
	tok, err := Issue("ops", RoleAdmin, "certhub", testKey, -time.Minute)
	require.NoError(t, err)
	_, err = Parse(tok.AccessToken, testKey, "certhub")
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestCheckAPIKey(t *testing.T) {
	assert.NoError(t, CheckAPIKey("s3cret", "s3cret"))
	assert.ErrorIs(t, CheckAPIKey("nope", "s3cret"), ErrInvalidAPIKey)
	assert.ErrorIs(t, CheckAPIKey("", ""), ErrInvalidAPIKey)
}

func TestAdminAuthMiddleware(t *testing.T) {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.GET("/admin", AdminAuth(testKey, "certhub"), func(c *gin.Context) {
		claims := c.MustGet(ClaimsKey).(Claims)
		c.String(http.StatusOK, claims.Subject)
	})

	call := func(header string) *httptest.ResponseRecorder {
		w := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodGet, "/admin", nil)
		if header != "" {
			req.Header.Set("Authorization", header)
		}
		r.ServeHTTP(w, req)
		return w
	}

	assert.Equal(t, http.StatusUnauthorized, call("").Code)
	assert.Equal(t, http.StatusUnauthorized, call("Bearer garbage").Code)

	viewer, err := Issue("bob", "viewer", "certhub", testKey, time.Minute)
	require.NoError(t, err)
	assert.Equal(t, http.StatusForbidden, call("Bearer "+viewer.AccessToken).Code)

	admin, err := Issue("ops", RoleAdmin, "certhub", testKey, time.Minute)
	require.NoError(t, err)
	w := call("bearer " + admin.AccessToken)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "ops", w.Body.String())
}
