package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseBearer(t *testing.T) {
	a := NewAuth("secret", "ops")

	tok, err := IssueToken("secret", "acme", time.Hour)
	require.NoError(t, err)
	claims, err := a.parseBearer("Bearer " + tok)
	require.NoError(t, err)
	assert.Equal(t, "acme", claims.TenantID)

	// Tokens from the platform auth service may only carry sub.
	subOnly, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.RegisteredClaims{
		Subject:   "beta",
		ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
	}).SignedString([]byte("secret"))
	require.NoError(t, err)
	claims, err = a.parseBearer("Bearer " + subOnly)
	require.NoError(t, err)
	assert.Equal(t, "beta", claims.TenantID)

	none, err := jwt.NewWithClaims(jwt.SigningMethodNone, jwt.RegisteredClaims{Subject: "x"}).
		SignedString(jwt.UnsafeAllowNoneSignatureType)
	require.NoError(t, err)
	_, err = a.parseBearer("Bearer " + none)
	assert.Error(t, err)

	_, err = a.parseBearer(tok)
	assert.Error(t, err, "missing Bearer prefix")

	_, err = NewAuth("", "").parseBearer("Bearer " + tok)
	assert.Error(t, err, "no secret configured")
}

func TestOpsAuthMiddleware(t *testing.T) {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.GET("/ops", NewAuth("secret", "ops-key").OpsAuthMiddleware(), func(c *gin.Context) {
		assert.True(t, IsOps(c))
		c.Status(http.StatusNoContent)
	})
	r.GET("/closed", NewAuth("secret", "").OpsAuthMiddleware(), func(c *gin.Context) {
		c.Status(http.StatusNoContent)
	})

	cases := []struct {
		path, key string
		want      int
	}{
		{"/ops", "ops-key", http.StatusNoContent},
		{"/ops", "wrong", http.StatusUnauthorized},
		{"/ops", "", http.StatusUnauthorized},
		{"/closed", "", http.StatusUnauthorized},
	}
	for _, tc := range cases {
		req := httptest.NewRequest(http.MethodGet, tc.path, nil)
		if tc.key != "" {
			req.Header.Set(HeaderOpsKey, tc.key)
		}
		w := httptest.NewRecorder()
		r.ServeHTTP(w, req)
		assert.Equal(t, tc.want, w.Code, "%s with key %q", tc.path, tc.key)
	}
}

func TestRequestIDMiddleware(t *testing.T) {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(RequestIDMiddleware())
	r.GET("/", func(c *gin.Context) { c.Status(http.StatusOK) })

	const given = "8f14e45f-ceea-467f-a8f0-2b5b1c7d9e10"
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set(HeaderRequestID, given)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	assert.Equal(t, given, w.Header().Get(HeaderRequestID))

	req = httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set(HeaderRequestID, "not-a-uuid")
	w = httptest.NewRecorder()
	r.ServeHTTP(w, req)
	assert.NotEqual(t, "not-a-uuid", w.Header().Get(HeaderRequestID))
	assert.Len(t, w.Header().Get(HeaderRequestID), 36)
}
