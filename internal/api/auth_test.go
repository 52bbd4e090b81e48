package api

import (
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestBearerAuth(t *testing.T) {
	ok := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(http.StatusTeapot) })
	h := BearerAuth("secret")(ok)

	tests := []struct {
		header string
		want   int
	}{
		{"Bearer secret", http.StatusTeapot},
		{"Bearer nope", http.StatusUnauthorized},
		{"secret", http.StatusUnauthorized},
		{"", http.StatusUnauthorized},
	}
	for _, tt := range tests {
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		if tt.header != "" {
			req.Header.Set("Authorization", tt.header)
		}
		rr := httptest.NewRecorder()
		h.ServeHTTP(rr, req)
		if rr.Code != tt.want {
			t.Errorf("Authorization %q: status = %d, want %d", tt.header, rr.Code, tt.want)
		}
	}
}
