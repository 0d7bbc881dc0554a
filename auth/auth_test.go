package auth

import (
	"net/http/httptest"
	"reflect"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"

	perrors "github.com/vinayprograms/podium/errors"
)

func TestCapabilitiesFor(t *testing.T) {
	tests := []struct {
		roles []string
		want  []Capability
	}{
		{[]string{"viewer"}, []Capability{CapView}},
		{[]string{"Presenter"}, []Capability{CapControlSlides, CapControlTimer, CapView}},
		{[]string{"viewer", "presenter"}, []Capability{CapControlSlides, CapControlTimer, CapView}},
		{[]string{"moderator"}, []Capability{CapControlAnnounce, CapControlRole, CapControlSlides, CapControlTimer, CapView}},
		{[]string{"janitor"}, []Capability{}},
	}
	for _, tt := range tests {
		got := CapabilitiesFor(tt.roles...)
		if !reflect.DeepEqual(got, tt.want) {
			t.Errorf("CapabilitiesFor(%v) = %v, want %v", tt.roles, got, tt.want)
		}
	}
}

func TestOpenAuthorizer(t *testing.T) {
	g, err := OpenAuthorizer{}.Authorize(httptest.NewRequest("GET", "/ws", nil))
	if err != nil {
		t.Fatal(err)
	}
	for _, c := range AllCapabilities {
		if !g.Has(c) {
			t.Errorf("open grant missing %s", c)
		}
	}
}

var now = time.Date(2026, 5, 4, 10, 0, 0, 0, time.UTC)

func newAuthorizer(t *testing.T) *JWTAuthorizer {
	t.Helper()
	a, err := NewJWTAuthorizer(JWTConfig{
		Secret: []byte("room-secret"),
		Issuer: "podium",
		Now:    func() time.Time { return now },
	})
	if err != nil {
		t.Fatal(err)
	}
	return a
}

func TestNewJWTAuthorizer_RequiresSecret(t *testing.T) {
	if _, err := NewJWTAuthorizer(JWTConfig{}); err == nil {
		t.Error("expected error for empty secret")
	}
}

func TestJWTAuthorizer_Authorize(t *testing.T) {
	a := newAuthorizer(t)
	token, err := a.Issue("alice", []string{"presenter"}, time.Hour)
	if err != nil {
		t.Fatal(err)
	}

	t.Run("header", func(t *testing.T) {
		r := httptest.NewRequest("GET", "/ws", nil)
		r.Header.Set("Authorization", "Bearer "+token)
		g, err := a.Authorize(r)
		if err != nil {
			t.Fatalf("Authorize: %v", err)
		}
		if g.Subject != "alice" || !g.Has(CapControlSlides) || g.Has(CapControlRole) {
			t.Errorf("grant = %+v", g)
		}
	})

	t.Run("query", func(t *testing.T) {
		r := httptest.NewRequest("GET", "/ws?token="+token, nil)
		if _, err := a.Authorize(r); err != nil {
			t.Errorf("Authorize: %v", err)
		}
	})

	t.Run("missing", func(t *testing.T) {
		_, err := a.Authorize(httptest.NewRequest("GET", "/ws", nil))
		if !perrors.Is(err, perrors.ErrCodeUnauthorized) {
			t.Errorf("err = %v, want UNAUTHORIZED", err)
		}
	})
}

func TestJWTAuthorizer_Verify(t *testing.T) {
	a := newAuthorizer(t)

	sign := func(secret string, claims jwt.Claims, method jwt.SigningMethod) string {
		s, err := jwt.NewWithClaims(method, claims).SignedString([]byte(secret))
		if err != nil {
			t.Fatal(err)
		}
		return s
	}
	valid := func(mod func(*Claims)) Claims {
		c := Claims{
			RegisteredClaims: jwt.RegisteredClaims{
				Subject:   "bob",
				Issuer:    "podium",
				ExpiresAt: jwt.NewNumericDate(now.Add(time.Hour)),
			},
			Role: "viewer",
		}
		if mod != nil {
			mod(&c)
		}
		return c
	}

	tests := []struct {
		name     string
		token    string
		wantCode perrors.ErrorCode
	}{
		{"single role claim", sign("room-secret", valid(nil), jwt.SigningMethodHS256), ""},
		{"expired", sign("room-secret", valid(func(c *Claims) { c.ExpiresAt = jwt.NewNumericDate(now.Add(-time.Minute)) }), jwt.SigningMethodHS256), perrors.ErrCodeUnauthorized},
		{"no expiry", sign("room-secret", valid(func(c *Claims) { c.ExpiresAt = nil }), jwt.SigningMethodHS256), perrors.ErrCodeUnauthorized},
		{"wrong secret", sign("other", valid(nil), jwt.SigningMethodHS256), perrors.ErrCodeUnauthorized},
		{"wrong issuer", sign("room-secret", valid(func(c *Claims) { c.Issuer = "evil" }), jwt.SigningMethodHS256), perrors.ErrCodeUnauthorized},
		{"wrong alg", sign("room-secret", valid(nil), jwt.SigningMethodHS512), perrors.ErrCodeUnauthorized},
		{"unknown role", sign("room-secret", valid(func(c *Claims) { c.Role = "janitor" }), jwt.SigningMethodHS256), perrors.ErrCodeForbidden},
		{"garbage", "not.a.token", perrors.ErrCodeUnauthorized},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			g, err := a.Verify(tt.token)
			if tt.wantCode == "" {
				if err != nil {
					t.Fatalf("Verify: %v", err)
				}
				if !g.Has(CapView) || len(g.Capabilities) != 1 {
					t.Errorf("grant = %+v", g)
				}
				return
			}
			if !perrors.Is(err, tt.wantCode) {
				t.Errorf("err = %v, want %s", err, tt.wantCode)
			}
		})
	}
}
