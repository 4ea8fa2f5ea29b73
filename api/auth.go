package api

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/MicahParks/keyfunc"
	"github.com/golang-jwt/jwt/v4"
	"github.com/labstack/echo/v4"

	"dozenflow-api/config"
	"dozenflow-api/domain"
)

const defaultJWKSCacheTTL = 15 * time.Minute

// userContextKey holds the authenticated subject on the echo context.
const userContextKey = "user"

// Auth validates bearer JWTs, either RS256 against a JWKS or HS256 against a
// shared secret.
type Auth struct {
	JWKS     *keyfunc.JWKS
	Audience string
	Issuer   string
	Secret   []byte

	parser      *jwt.Parser
	keyCache    sync.Map
	keyCacheTTL time.Duration
}

type cachedKey struct {
	key       any
	expiresAt time.Time
}

// NewJWKSAuth verifies RS256 tokens with keys from jwks.
func NewJWKSAuth(jwks *keyfunc.JWKS, audience, issuer string) *Auth {
	return &Auth{
		JWKS:        jwks,
		Audience:    audience,
		Issuer:      issuer,
		parser:      jwt.NewParser(jwt.WithValidMethods([]string{"RS256"})),
		keyCacheTTL: defaultJWKSCacheTTL,
	}
}

// NewSharedSecretAuth verifies HS256 tokens signed with secret.
func NewSharedSecretAuth(secret []byte, audience, issuer string) *Auth {
	return &Auth{
		Secret:   secret,
		Audience: audience,
		Issuer:   issuer,
		parser:   jwt.NewParser(jwt.WithValidMethods([]string{"HS256"})),
	}
}

// NewAuthFromConfig builds the authenticator for cfg.Mode. Mode none yields a
// nil Auth, meaning every request is allowed.
func NewAuthFromConfig(cfg config.AuthConfig) (*Auth, error) {
	switch cfg.Mode {
	case config.AuthNone, "":
		return nil, nil
	case config.AuthHS256:
		return NewSharedSecretAuth([]byte(cfg.Secret), cfg.Audience, ""), nil
	case config.AuthJWKS:
		jwksURL := fmt.Sprintf("https://%s/.well-known/jwks.json", cfg.Domain)
		jwks, err := keyfunc.Get(jwksURL, keyfunc.Options{RefreshUnknownKID: true})
		if err != nil {
			return nil, fmt.Errorf("jwks: %w", err)
		}
		return NewJWKSAuth(jwks, cfg.Audience, "https://"+cfg.Domain+"/"), nil
	default:
		return nil, fmt.Errorf("unsupported auth mode %q", cfg.Mode)
	}
}

// UserIDFromAuthHeader extracts the user identifier from the Authorization header.
func (a *Auth) UserIDFromAuthHeader(h string) (string, error) {
	token, err := bearerToken(h)
	if err != nil {
		return "", err
	}
	return a.UserIDFromBearer(token)
}

// UserIDFromBearer validates a compact token and returns its subject.
func (a *Auth) UserIDFromBearer(token string) (string, error) {
	if token == "" {
		return "", errBadAuthorization
	}

	parsed, err := a.parser.Parse(token, a.keyFor)
	if err != nil {
		return "", err
	}

	claims, ok := parsed.Claims.(jwt.MapClaims)
	if !ok {
		return "", errors.New("invalid claims")
	}

	now := time.Now().Add(time.Minute).Unix()
	if !claims.VerifyExpiresAt(now, true) {
		return "", errors.New("token expired")
	}
	if !claims.VerifyNotBefore(now, false) {
		return "", errors.New("token not valid yet")
	}
	if !claims.VerifyIssuedAt(now, false) {
		return "", errors.New("token used before issued")
	}
	if a.Audience != "" && !claims.VerifyAudience(a.Audience, false) {
		return "", errors.New("invalid audience")
	}
	if a.Issuer != "" && !claims.VerifyIssuer(a.Issuer, false) {
		return "", errors.New("invalid issuer")
	}

	sub, ok := claims["sub"].(string)
	if !ok || sub == "" {
		return "", errors.New("missing sub")
	}
	return sub, nil
}

func (a *Auth) keyFor(token *jwt.Token) (any, error) {
	if a.Secret != nil {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, errors.New("invalid signing method")
		}
		return a.Secret, nil
	}
	if a.JWKS == nil {
		return nil, errors.New("jwks not configured")
	}

	kid, _ := token.Header["kid"].(string)
	if kid != "" && a.keyCacheTTL > 0 {
		if cached, ok := a.keyCache.Load(kid); ok {
			entry := cached.(cachedKey)
			if time.Now().Before(entry.expiresAt) {
				return entry.key, nil
			}
			a.keyCache.Delete(kid)
		}
	}

	key, err := a.JWKS.Keyfunc(token)
	if err != nil {
		return nil, err
	}
	if kid != "" && a.keyCacheTTL > 0 {
		a.keyCache.Store(kid, cachedKey{key: key, expiresAt: time.Now().Add(a.keyCacheTTL)})
	}
	return key, nil
}

// RequireAuth rejects requests without a valid bearer token.
func RequireAuth(auth Authenticator) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			userID, err := auth.UserIDFromAuthHeader(c.Request().Header.Get(echo.HeaderAuthorization))
			if err != nil {
				return &domain.Error{Kind: domain.KindUnauthorized, Msg: "Unauthorized: " + err.Error(), Err: err}
			}
			c.Set(userContextKey, userID)
			return next(c)
		}
	}
}
