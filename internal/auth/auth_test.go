package auth

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

func init() {
	gin.SetMode(gin.TestMode)
}

func newRouter(v *Verifier, required bool) *gin.Engine {
	r := gin.New()
	r.Use(v.Middleware())
	handlers := []gin.HandlerFunc{}
	if required {
		handlers = append(handlers, RequirePrincipal())
	}
	handlers = append(handlers, func(c *gin.Context) {
		principal, _ := PrincipalFrom(c)
		c.String(http.StatusOK, principal)
	})
	r.GET("/whoami", handlers...)
	return r
}

func TestVerifier_IssueAndVerify(t *testing.T) {
	v := NewVerifier("secret", "shortlink")

	token, err := v.Issue("user-42", time.Minute)
	require.NoError(t, err)

	subject, err := v.Verify(token)
	require.NoError(t, err)
	assert.Equal(t, "user-42", subject)
}

func TestVerifier_Rejects(t *testing.T) {
	v := NewVerifier("secret", "shortlink")

	expired, err := v.Issue("user-42", -time.Minute)
	require.NoError(t, err)

	otherIssuer, err := NewVerifier("secret", "elsewhere").Issue("user-42", time.Minute)
	require.NoError(t, err)

	otherSecret, err := NewVerifier("nope", "shortlink").Issue("user-42", time.Minute)
	require.NoError(t, err)

	noSubject, err := jwt.NewWithClaims(jwt.SigningMethodHS256, &jwt.RegisteredClaims{
		Issuer:    "shortlink",
		ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Minute)),
	}).SignedString([]byte("secret"))
	require.NoError(t, err)

	tests := map[string]string{
		"expired":      expired,
		"wrong issuer": otherIssuer,
		"wrong secret": otherSecret,
		"no subject":   noSubject,
		"garbage":      "not-a-token",
	}
	for name, token := range tests {
		t.Run(name, func(t *testing.T) {
			_, err := v.Verify(token)
			assert.ErrorIs(t, err, ErrInvalidToken)
		})
	}
}

func TestMiddleware(t *testing.T) {
	v := NewVerifier("secret", "shortlink")
	valid, err := v.Issue("alice", time.Minute)
	require.NoError(t, err)

	tests := []struct {
		name       string
		required   bool
		header     string
		wantStatus int
		wantBody   string
	}{
		{"anonymous allowed", false, "", http.StatusOK, ""},
		{"principal attached", false, "Bearer " + valid, http.StatusOK, "alice"},
		{"lowercase scheme", false, "bearer " + valid, http.StatusOK, "alice"},
		{"bad token rejected", false, "Bearer garbage", http.StatusUnauthorized, ""},
		{"wrong scheme rejected", false, "Basic abc", http.StatusUnauthorized, ""},
		{"required without token", true, "", http.StatusUnauthorized, ""},
		{"required with token", true, "Bearer " + valid, http.StatusOK, "alice"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/whoami", nil)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			rec := httptest.NewRecorder()

			newRouter(v, tt.required).ServeHTTP(rec, req)

			assert.Equal(t, tt.wantStatus, rec.Code)
			if tt.wantStatus == http.StatusOK {
				assert.Equal(t, tt.wantBody, rec.Body.String())
			}
		})
	}
}
