package auth

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// ErrUnauthenticated is returned when a request carries no usable identity.
var ErrUnauthenticated = errors.New("unauthenticated")

// UserHeader carries the user id when no token secret is configured.
const UserHeader = "X-User-ID"

// IdentityResolver maps a request to the id of the signed-in user.
type IdentityResolver interface {
	Resolve(r *http.Request) (string, error)
}

// Claims are the token claims issued and accepted by JWTResolver. The user
// id is the subject.
type Claims struct {
	jwt.RegisteredClaims
}

// JWTResolver accepts HS256 bearer tokens. EventSource clients cannot set
// headers, so the token is also read from the access_token query parameter.
type JWTResolver struct {
	secret []byte
}

// NewJWTResolver returns a resolver verifying tokens with secret.
func NewJWTResolver(secret string) (*JWTResolver, error) {
	if secret == "" {
		return nil, fmt.Errorf("empty JWT secret")
	}
	return &JWTResolver{secret: []byte(secret)}, nil
}

func (j *JWTResolver) Resolve(r *http.Request) (string, error) {
	token := bearerToken(r)
	if token == "" {
		return "", ErrUnauthenticated
	}

	parsed, err := jwt.ParseWithClaims(token, &Claims{}, func(*jwt.Token) (any, error) {
		return j.secret, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrUnauthenticated, err)
	}
	claims, ok := parsed.Claims.(*Claims)
	if !ok || !parsed.Valid || claims.Subject == "" {
		return "", fmt.Errorf("%w: token has no subject", ErrUnauthenticated)
	}
	return claims.Subject, nil
}

// Issue signs a token for userID valid for ttl.
func (j *JWTResolver) Issue(userID string, ttl time.Duration) (string, error) {
	now := time.Now()
	claims := Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   userID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(j.secret)
}

func bearerToken(r *http.Request) string {
	if h := r.Header.Get("Authorization"); h != "" {
		scheme, token, ok := strings.Cut(h, " ")
		if ok && strings.EqualFold(scheme, "Bearer") {
			return strings.TrimSpace(token)
		}
		return ""
	}
	return r.URL.Query().Get("access_token")
}

// HeaderResolver trusts the UserHeader set by a fronting proxy or a local
// developer. It is only used when no JWT secret is configured.
type HeaderResolver struct{}

func (HeaderResolver) Resolve(r *http.Request) (string, error) {
	id := strings.TrimSpace(r.Header.Get(UserHeader))
	if id == "" {
		return "", ErrUnauthenticated
	}
	return id, nil
}

// NewResolver picks JWTResolver when secret is set, HeaderResolver otherwise.
func NewResolver(secret string) IdentityResolver {
	if secret == "" {
		return HeaderResolver{}
	}
	return &JWTResolver{secret: []byte(secret)}
}
