// Package gate admits WebSocket connections. It authenticates the identity
// token and profile carried in the upgrade request's query string, derives
// the client's network address and browser fingerprint, and checks the ban
// list.
//
// Ban checks fail open: if the ban store errors, the connection is admitted
// rather than every user being locked out by a database outage.
package gate

import (
	"context"
	"crypto/md5"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net"
	"net/http"
	"strings"

	"github.com/nikhil-thb/hushh-online/internal/ban"
	"github.com/nikhil-thb/hushh-online/internal/session"
)

var (
	// ErrUnauthenticated is returned when the request carries no identity
	// token or the token fails verification.
	ErrUnauthenticated = errors.New("gate: unauthenticated")

	// ErrInvalidProfile is returned when the profile parameter is missing,
	// malformed, or incomplete.
	ErrInvalidProfile = errors.New("gate: invalid profile")
)

// Verifier checks that an identity token refers to a real account.
type Verifier interface {
	Verify(ctx context.Context, uid string) error
}

// VerifierFunc adapts a function to the Verifier interface.
type VerifierFunc func(ctx context.Context, uid string) error

// Verify calls f.
func (f VerifierFunc) Verify(ctx context.Context, uid string) error { return f(ctx, uid) }

// AllowAll is a Verifier that accepts any non-empty uid. Used when no
// identity backend is configured.
var AllowAll = VerifierFunc(func(ctx context.Context, uid string) error { return nil })

// Context holds everything the gate learned about an admitted connection.
type Context struct {
	IdentityID  string
	IP          string
	Fingerprint string
	Profile     session.Profile
}

// Gate performs admission checks on upgrade requests.
type Gate struct {
	verifier Verifier
	bans     *ban.Store // nil disables ban checks
}

// New creates a Gate. verifier must be non-nil; bans may be nil.
func New(verifier Verifier, bans *ban.Store) *Gate {
	return &Gate{verifier: verifier, bans: bans}
}

// Authenticate validates the identity and profile on an upgrade request.
// It does not consult the ban list; call CheckBan separately so the caller
// can deliver the ban notice over the established socket.
func (g *Gate) Authenticate(r *http.Request) (*Context, error) {
	q := r.URL.Query()

	uid := q.Get("firebase_uid")
	if uid == "" {
		return nil, ErrUnauthenticated
	}
	if err := g.verifier.Verify(r.Context(), uid); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnauthenticated, err)
	}

	profileJSON := q.Get("profile")
	if profileJSON == "" {
		return nil, ErrInvalidProfile
	}
	var profile session.Profile
	if err := json.Unmarshal([]byte(profileJSON), &profile); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidProfile, err)
	}
	if err := profile.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidProfile, err)
	}

	return &Context{
		IdentityID:  uid,
		IP:          ClientIP(r),
		Fingerprint: Fingerprint(r),
		Profile:     profile,
	}, nil
}

// CheckBan looks up the ban record for the connection. Store errors are
// logged and treated as not banned.
func (g *Gate) CheckBan(ctx context.Context, c *Context) ban.Status {
	if g.bans == nil {
		return ban.Status{}
	}
	status, err := g.bans.Check(ctx, c.IP, c.Fingerprint)
	if err != nil {
		log.Printf("[gate] ban check failed for ip=%s, admitting: %v", c.IP, err)
		return ban.Status{}
	}
	return status
}

// ClientIP extracts the client's address, preferring the first hop of
// X-Forwarded-For when the server sits behind a proxy.
func ClientIP(r *http.Request) string {
	if fwd := r.Header.Get("X-Forwarded-For"); fwd != "" {
		if i := strings.IndexByte(fwd, ','); i >= 0 {
			fwd = fwd[:i]
		}
		return strings.TrimSpace(fwd)
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

// Fingerprint derives a stable browser fingerprint from request headers.
func Fingerprint(r *http.Request) string {
	data := r.Header.Get("User-Agent") + "|" +
		r.Header.Get("Accept-Language") + "|" +
		r.Header.Get("Accept-Encoding")
	sum := md5.Sum([]byte(data))
	return hex.EncodeToString(sum[:])
}
