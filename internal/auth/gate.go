// Package auth verifies externally issued sign-in tokens. Issuing them is
// somebody else's job; the gate only decides whether a request may proceed.
package auth

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/golang-jwt/jwt/v5"

	"edit-text-server/internal/httpx/response"
	"edit-text-server/internal/logger"
	"edit-text-server/internal/ratelimit"
)

var log = logger.WithComponent("AUTH")

// DefaultCookieName holds the token when no Authorization header is sent.
const DefaultCookieName = "jwt"

var (
	ErrNoToken      = errors.New("no token")
	ErrInvalidToken = errors.New("invalid token")
)

// Claims are the verified token claims.
type Claims = jwt.MapClaims

type contextKey struct{}

// Options configures a Gate.
type Options struct {
	Secret     []byte
	CookieName string
	SignInURL  string
	// Disabled lets every request through without claims.
	Disabled bool
	// Limiter, when set, locks out clients that keep sending rejected tokens.
	Limiter *ratelimit.Limiter
}

// Gate is the signedIn/hasClaims pair guarding the editor routes.
type Gate struct {
	secret     []byte
	cookieName string
	signInURL  string
	disabled   bool
	limiter    *ratelimit.Limiter
	parser     *jwt.Parser
}

// NewGate creates a gate. A secret is required unless the gate is disabled.
func NewGate(opts Options) (*Gate, error) {
	if !opts.Disabled && len(opts.Secret) == 0 {
		return nil, errors.New("auth secret is required")
	}
	if opts.CookieName == "" {
		opts.CookieName = DefaultCookieName
	}
	if opts.Disabled {
		log.Warn("Authentication is DISABLED, every request is treated as signed in")
	}
	return &Gate{
		secret:     opts.Secret,
		cookieName: opts.CookieName,
		signInURL:  opts.SignInURL,
		disabled:   opts.Disabled,
		limiter:    opts.Limiter,
		parser:     jwt.NewParser(jwt.WithValidMethods([]string{"HS256", "HS384", "HS512"})),
	}, nil
}

// Disabled reports whether the gate lets everything through.
func (g *Gate) Disabled() bool {
	return g.disabled
}

// Verify parses and validates an HMAC-signed token.
func (g *Gate) Verify(tokenStr string) (Claims, error) {
	if tokenStr == "" {
		return nil, ErrNoToken
	}
	token, err := g.parser.Parse(tokenStr, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return g.secret, nil
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidToken, err)
	}

	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok || !token.Valid {
		return nil, ErrInvalidToken
	}
	return claims, nil
}

// tokenFromRequest reads the Authorization bearer token, then the cookie.
func (g *Gate) tokenFromRequest(r *http.Request) string {
	if h := r.Header.Get("Authorization"); h != "" {
		if token, ok := strings.CutPrefix(h, "Bearer "); ok {
			return strings.TrimSpace(token)
		}
	}
	if cookie, err := r.Cookie(g.cookieName); err == nil {
		return cookie.Value
	}
	return ""
}

// SignedIn requires a valid token. Browsers (GET) are sent to the sign-in
// page; everything else gets 401. Locked out clients get 429.
func (g *Gate) SignedIn(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if g.disabled {
			next.ServeHTTP(w, r)
			return
		}

		key := clientKey(r)
		if g.limiter != nil {
			if res := g.limiter.Check(key); res.Limited {
				w.Header().Set("Retry-After", strconv.Itoa(int(res.RetryAfter.Seconds())+1))
				response.Error(w, http.StatusTooManyRequests, "Too many rejected sign-in attempts")
				return
			}
		}

		claims, err := g.Verify(g.tokenFromRequest(r))
		if err != nil {
			if !errors.Is(err, ErrNoToken) {
				log.Warn("Rejected token | path=%s client=%s err=%v", r.URL.Path, key, err)
				if g.limiter != nil {
					if remaining := g.limiter.RecordFailure(key); remaining == 0 {
						log.Warn("Client locked out | client=%s", key)
					}
				}
			}
			if r.Method == http.MethodGet && g.signInURL != "" {
				http.Redirect(w, r, g.signInRedirect(r), http.StatusSeeOther)
				return
			}
			response.Unauthorized(w)
			return
		}

		if g.limiter != nil {
			g.limiter.Clear(key)
		}
		next.ServeHTTP(w, r.WithContext(WithClaims(r.Context(), claims)))
	})
}

// clientKey identifies the client for lockouts. It is the socket peer;
// forwarded-for headers are client controlled and never consulted.
func clientKey(r *http.Request) string {
	if host, _, err := net.SplitHostPort(r.RemoteAddr); err == nil {
		return host
	}
	return r.RemoteAddr
}

func (g *Gate) signInRedirect(r *http.Request) string {
	sep := "?"
	if strings.Contains(g.signInURL, "?") {
		sep = "&"
	}
	return g.signInURL + sep + "redirect=" + url.QueryEscape(r.URL.RequestURI())
}

// HasClaims requires the claims placed by SignedIn to satisfy pred.
func (g *Gate) HasClaims(pred func(Claims) bool) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if g.disabled {
				next.ServeHTTP(w, r)
				return
			}
			claims, ok := ClaimsFromContext(r.Context())
			if !ok || !pred(claims) {
				log.Warn("Forbidden | path=%s user=%s", r.URL.Path, User(r.Context()))
				response.Forbidden(w)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// IsAdmin is the claim check guarding the edit route.
func IsAdmin(c Claims) bool {
	admin, _ := c["admin"].(bool)
	return admin
}

// WithClaims stores claims on ctx.
func WithClaims(ctx context.Context, claims Claims) context.Context {
	return context.WithValue(ctx, contextKey{}, claims)
}

// ClaimsFromContext returns the claims stored by SignedIn.
func ClaimsFromContext(ctx context.Context) (Claims, bool) {
	claims, ok := ctx.Value(contextKey{}).(Claims)
	return claims, ok && claims != nil
}

// User names the signed-in user for display, or "" when unknown.
func User(ctx context.Context) string {
	claims, ok := ClaimsFromContext(ctx)
	if !ok {
		return ""
	}
	for _, key := range []string{"name", "email", "sub"} {
		if v, ok := claims[key].(string); ok && v != "" {
			return v
		}
	}
	return ""
}
