package gate

import (
	"context"
	"errors"
	"net/http/httptest"
	"net/url"
	"testing"
)

const validProfile = `{"name":"Sam","age":27,"gender":"female","datingPreference":"straight","interests":["music"]}`

func newRequest(uid, profileJSON string) *url.URL {
	u := &url.URL{Path: "/ws"}
	q := u.Query()
	if uid != "" {
		q.Set("firebase_uid", uid)
	}
	if profileJSON != "" {
		q.Set("profile", profileJSON)
	}
	u.RawQuery = q.Encode()
	return u
}

func TestAuthenticateValid(t *testing.T) {
	g := New(AllowAll, nil)

	r := httptest.NewRequest("GET", newRequest("uid-1", validProfile).String(), nil)
	r.Header.Set("User-Agent", "test-agent")
	r.RemoteAddr = "192.0.2.1:51234"

	ctx, err := g.Authenticate(r)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if ctx.IdentityID != "uid-1" {
		t.Errorf("expected identity uid-1, got %s", ctx.IdentityID)
	}
	if ctx.IP != "192.0.2.1" {
		t.Errorf("expected ip 192.0.2.1, got %s", ctx.IP)
	}
	if ctx.Fingerprint == "" {
		t.Error("expected non-empty fingerprint")
	}
	if ctx.Profile.Name != "Sam" || ctx.Profile.DatingPreference != "straight" {
		t.Errorf("profile not decoded: %+v", ctx.Profile)
	}
}

func TestAuthenticateMissingUID(t *testing.T) {
	g := New(AllowAll, nil)
	r := httptest.NewRequest("GET", newRequest("", validProfile).String(), nil)

	if _, err := g.Authenticate(r); !errors.Is(err, ErrUnauthenticated) {
		t.Fatalf("expected ErrUnauthenticated, got %v", err)
	}
}

func TestAuthenticateVerifierRejects(t *testing.T) {
	reject := VerifierFunc(func(ctx context.Context, uid string) error {
		return errors.New("no such account")
	})
	g := New(reject, nil)
	r := httptest.NewRequest("GET", newRequest("uid-1", validProfile).String(), nil)

	if _, err := g.Authenticate(r); !errors.Is(err, ErrUnauthenticated) {
		t.Fatalf("expected ErrUnauthenticated, got %v", err)
	}
}

func TestAuthenticateInvalidProfile(t *testing.T) {
	g := New(AllowAll, nil)

	tests := []struct {
		name    string
		profile string
	}{
		{"missing profile", ""},
		{"malformed json", `{not json`},
		{"incomplete profile", `{"name":"Sam"}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := httptest.NewRequest("GET", newRequest("uid-1", tt.profile).String(), nil)
			if _, err := g.Authenticate(r); !errors.Is(err, ErrInvalidProfile) {
				t.Fatalf("expected ErrInvalidProfile, got %v", err)
			}
		})
	}
}

func TestClientIPForwardedFor(t *testing.T) {
	r := httptest.NewRequest("GET", "/ws", nil)
	r.RemoteAddr = "10.0.0.1:4444"

	if got := ClientIP(r); got != "10.0.0.1" {
		t.Errorf("expected remote addr host, got %s", got)
	}

	r.Header.Set("X-Forwarded-For", "203.0.113.9, 10.0.0.1")
	if got := ClientIP(r); got != "203.0.113.9" {
		t.Errorf("expected first forwarded hop, got %s", got)
	}
}

func TestFingerprintStable(t *testing.T) {
	r1 := httptest.NewRequest("GET", "/ws", nil)
	r1.Header.Set("User-Agent", "browser/1.0")
	r1.Header.Set("Accept-Language", "en-US")
	r1.Header.Set("Accept-Encoding", "gzip")

	r2 := httptest.NewRequest("GET", "/ws", nil)
	r2.Header.Set("User-Agent", "browser/1.0")
	r2.Header.Set("Accept-Language", "en-US")
	r2.Header.Set("Accept-Encoding", "gzip")

	if Fingerprint(r1) != Fingerprint(r2) {
		t.Error("fingerprint must be stable across identical headers")
	}

	r2.Header.Set("User-Agent", "browser/2.0")
	if Fingerprint(r1) == Fingerprint(r2) {
		t.Error("fingerprint must differ when headers differ")
	}

	if len(Fingerprint(r1)) != 32 {
		t.Errorf("expected 32-char hex digest, got %q", Fingerprint(r1))
	}
}

func TestCheckBanNilStore(t *testing.T) {
	g := New(AllowAll, nil)
	status := g.CheckBan(context.Background(), &Context{IP: "10.0.0.1", Fingerprint: "fp"})
	if status.Banned {
		t.Error("nil ban store must admit everyone")
	}
}
