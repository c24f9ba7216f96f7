package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestAuthMiddleware_WithValidCookie(t *testing.T) {
	m := NewAuthMiddleware("test-secret")

	nextCalled := false
	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		nextCalled = true
		email, ok := GetIdentityFromContext(r.Context())
		if !ok {
			t.Fatalf("identity not in context")
		}
		if email != "worker@example.com" {
			t.Fatalf("identity from context = %q, want %q", email, "worker@example.com")
		}
	})

	w := httptest.NewRecorder()
	r := httptest.NewRequest(http.MethodGet, "/protected", nil)

	m.SetAuthCookie(w, "worker@example.com")
	res := w.Result()
	resCookies := res.Cookies()
	if len(resCookies) == 0 {
		t.Fatalf("no cookies set by SetAuthCookie")
	}

	r.AddCookie(resCookies[0])

	handler := m.Middleware(next)
	handler.ServeHTTP(httptest.NewRecorder(), r)

	if !nextCalled {
		t.Fatalf("next handler was not called")
	}
}

func TestAuthMiddleware_WithoutCookie(t *testing.T) {
	m := NewAuthMiddleware("test-secret")

	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Fatalf("next handler should not be called")
	})

	w := httptest.NewRecorder()
	r := httptest.NewRequest(http.MethodGet, "/protected", nil)

	handler := m.Middleware(next)
	handler.ServeHTTP(w, r)

	res := w.Result()
	if res.StatusCode != http.StatusUnauthorized {
		t.Fatalf("status = %d, want %d", res.StatusCode, http.StatusUnauthorized)
	}
}

func TestAuthMiddleware_TamperedCookie(t *testing.T) {
	m := NewAuthMiddleware("test-secret")

	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Fatalf("next handler should not be called")
	})

	for _, value := range []string{
		"deadbeef.worker@example.com",
		"no-separator",
		".",
	} {
		w := httptest.NewRecorder()
		r := httptest.NewRequest(http.MethodGet, "/protected", nil)
		r.AddCookie(&http.Cookie{Name: "auth_token", Value: value})

		handler := m.Middleware(next)
		handler.ServeHTTP(w, r)

		res := w.Result()
		if res.StatusCode != http.StatusUnauthorized {
			t.Fatalf("cookie %q: status = %d, want %d", value, res.StatusCode, http.StatusUnauthorized)
		}
	}
}

// Email содержит точки, поэтому в значении cookie подпись идёт первой.
func TestAuthMiddleware_EmailWithDots(t *testing.T) {
	m := NewAuthMiddleware("test-secret")

	const email = "first.last@mail.example.com"

	var got string
	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got, _ = GetIdentityFromContext(r.Context())
	})

	w := httptest.NewRecorder()
	m.SetAuthCookie(w, email)

	r := httptest.NewRequest(http.MethodGet, "/protected", nil)
	r.AddCookie(w.Result().Cookies()[0])

	m.Middleware(next).ServeHTTP(httptest.NewRecorder(), r)

	if got != email {
		t.Fatalf("identity = %q, want %q", got, email)
	}
}
