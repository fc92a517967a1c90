package middleware

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/andybalholm/brotli"
	"github.com/gin-gonic/gin"
	"github.com/stemsi/exstem-assessment/internal/service"
)

func init() {
	gin.SetMode(gin.TestMode)
}

type stubValidator map[string]*service.Claims

func (s stubValidator) ValidateToken(tokenStr string) (*service.Claims, error) {
	if claims, ok := s[tokenStr]; ok {
		return claims, nil
	}
	return nil, errors.New("bad token")
}

func ok(c *gin.Context) { c.Status(http.StatusNoContent) }

func TestRequireTokenTypes(t *testing.T) {
	auth := stubValidator{
		"student": {TokenType: service.TokenTypeStudent, UserID: 1},
		"staff":   {TokenType: service.TokenTypeStaff, UserID: 2, Permissions: []string{"attempts:read"}},
	}

	r := gin.New()
	r.GET("/student", RequireStudentJWT(auth), ok)
	r.GET("/staff", RequireStaffJWT(auth), RequirePermission("attempts:read"), ok)
	r.GET("/grade", RequireStaffJWT(auth), RequireAnyPermission("attempts:grade"), ok)
	r.GET("/ws", RequireStudentWSAuth(auth), ok)

	tests := []struct {
		name   string
		path   string
		header string
		want   int
	}{
		{"student header", "/student", "Bearer student", http.StatusNoContent},
		{"student query fallback", "/student?token=student", "", http.StatusNoContent},
		{"missing token", "/student", "", http.StatusUnauthorized},
		{"bad token", "/student", "Bearer nope", http.StatusUnauthorized},
		{"staff on student route", "/student", "Bearer staff", http.StatusForbidden},
		{"staff with permission", "/staff", "Bearer staff", http.StatusNoContent},
		{"staff without permission", "/grade", "Bearer staff", http.StatusForbidden},
		{"ws query", "/ws?token=student", "", http.StatusNoContent},
		{"ws ignores header", "/ws", "Bearer student", http.StatusUnauthorized},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, tt.path, nil)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			w := httptest.NewRecorder()
			r.ServeHTTP(w, req)
			if w.Code != tt.want {
				t.Errorf("status = %d, want %d (%s)", w.Code, tt.want, w.Body.String())
			}
		})
	}
}

func TestRateLimiterPerUser(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	auth := stubValidator{
		"a": {TokenType: service.TokenTypeStudent, UserID: 1},
		"b": {TokenType: service.TokenTypeStudent, UserID: 2},
	}
	rl := NewRateLimiter(ctx, 0.001, 2)

	r := gin.New()
	r.POST("/warn", RequireStudentJWT(auth), rl.Middleware(), ok)

	call := func(token string) int {
		req := httptest.NewRequest(http.MethodPost, "/warn", nil)
		req.Header.Set("Authorization", "Bearer "+token)
		w := httptest.NewRecorder()
		r.ServeHTTP(w, req)
		return w.Code
	}

	for i := 0; i < 2; i++ {
		if got := call("a"); got != http.StatusNoContent {
			t.Fatalf("request %d = %d, want 204", i, got)
		}
	}
	if got := call("a"); got != http.StatusTooManyRequests {
		t.Errorf("over limit = %d, want 429", got)
	}
	if got := call("b"); got != http.StatusNoContent {
		t.Errorf("other user = %d, want 204", got)
	}
}

func TestNoStore(t *testing.T) {
	r := gin.New()
	r.GET("/", NoStore(), ok)

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/", nil))
	if got := w.Header().Get("Cache-Control"); got != "no-store" {
		t.Errorf("Cache-Control = %q", got)
	}
}

func TestCompress(t *testing.T) {
	large := strings.Repeat("question snapshot ", 200)

	r := gin.New()
	r.Use(Compress(CompressionConfig{MinBytes: 1024, SkipPaths: []string{"/health"}}))
	r.GET("/large", func(c *gin.Context) { c.String(http.StatusOK, large) })
	r.GET("/small", func(c *gin.Context) { c.String(http.StatusOK, "ok") })
	r.GET("/health", func(c *gin.Context) { c.String(http.StatusOK, large) })

	tests := []struct {
		name           string
		path           string
		acceptEncoding string
		wantBrotli     bool
	}{
		{"large body", "/large", "gzip, br", true},
		{"small body", "/small", "br", false},
		{"skipped path", "/health", "br", false},
		{"client without br", "/large", "gzip", false},
		{"br refused by q=0", "/large", "br;q=0, gzip", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, tt.path, nil)
			req.Header.Set("Accept-Encoding", tt.acceptEncoding)
			w := httptest.NewRecorder()
			r.ServeHTTP(w, req)

			gotBrotli := w.Header().Get("Content-Encoding") == "br"
			if gotBrotli != tt.wantBrotli {
				t.Fatalf("Content-Encoding = %q, want brotli %v", w.Header().Get("Content-Encoding"), tt.wantBrotli)
			}

			body := w.Body.Bytes()
			if gotBrotli {
				decoded, err := io.ReadAll(brotli.NewReader(w.Body))
				if err != nil {
					t.Fatalf("decode: %v", err)
				}
				body = decoded
			}
			want := large
			if tt.path == "/small" {
				want = "ok"
			}
			if string(body) != want {
				t.Errorf("body mismatch: got %d bytes, want %d", len(body), len(want))
			}
		})
	}
}
