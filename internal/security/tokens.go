package security

import (
	"crypto"
	"crypto/ecdsa"
	"crypto/rsa"
	"errors"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// ErrInvalidToken is returned when a token is malformed, expired, or fails
// signature/issuer/audience validation.
var ErrInvalidToken = errors.New("invalid token")

// AccessClaims holds the JWT claims carried by an access token. Role and
// Guard are authorization inputs for the consuming surface; the lifecycle
// core only issues and verifies them.
type AccessClaims struct {
	jwt.RegisteredClaims
	Role  string `json:"role"`
	Guard string `json:"guard"`
}

// Issuer signs and verifies access tokens using RS256 or ES256 key material.
// Key misconfiguration surfaces at construction time, never per request.
type Issuer struct {
	privateKey crypto.Signer
	publicKey  crypto.PublicKey
	issuer     string
	audience   string
	accessTTL  time.Duration
}

// NewIssuer returns an Issuer signing with privateKey. It fails if the key
// type is not RSA or ECDSA so that a bad key is caught at boot.
func NewIssuer(privateKey crypto.Signer, publicKey crypto.PublicKey, issuer, audience string, accessTTL time.Duration) (*Issuer, error) {
	switch privateKey.Public().(type) {
	case *rsa.PublicKey, *ecdsa.PublicKey:
	default:
		return nil, ErrInvalidKey
	}
	return &Issuer{
		privateKey: privateKey,
		publicKey:  publicKey,
		issuer:     issuer,
		audience:   audience,
		accessTTL:  accessTTL,
	}, nil
}

// IssueAccess issues a short-lived access token for the given subject under
// the given guard. Returns the signed token and its expiry.
func (i *Issuer) IssueAccess(subjectID, role, guard string) (string, time.Time, error) {
	now := time.Now().UTC()
	expiresAt := now.Add(i.accessTTL)
	claims := AccessClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   subjectID,
			Issuer:    i.issuer,
			Audience:  jwt.ClaimStrings{i.audience},
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(expiresAt),
		},
		Role:  role,
		Guard: guard,
	}
	var method jwt.SigningMethod
	switch i.privateKey.Public().(type) {
	case *rsa.PublicKey:
		method = jwt.SigningMethodRS256
	case *ecdsa.PublicKey:
		method = jwt.SigningMethodES256
	default:
		return "", time.Time{}, ErrInvalidKey
	}
	token, err := jwt.NewWithClaims(method, claims).SignedString(i.privateKey)
	if err != nil {
		return "", time.Time{}, err
	}
	return token, expiresAt, nil
}

// VerifyAccess parses and validates an access token: signature, expiry,
// issuer, and audience. Returns the claims or ErrInvalidToken.
func (i *Issuer) VerifyAccess(tokenString string) (*AccessClaims, error) {
	token, err := jwt.ParseWithClaims(tokenString, &AccessClaims{}, func(token *jwt.Token) (interface{}, error) {
		switch token.Method.(type) {
		case *jwt.SigningMethodRSA, *jwt.SigningMethodECDSA:
			return i.publicKey, nil
		}
		return nil, ErrInvalidToken
	}, jwt.WithIssuer(i.issuer), jwt.WithAudience(i.audience))
	if err != nil {
		return nil, ErrInvalidToken
	}
	claims, ok := token.Claims.(*AccessClaims)
	if !ok || !token.Valid {
		return nil, ErrInvalidToken
	}
	return claims, nil
}

// DecodeUnverified extracts claims without checking the signature or expiry.
// Used only to read exp when computing a blacklist TTL at logout; never use
// the result for an authentication decision.
func (i *Issuer) DecodeUnverified(tokenString string) (*AccessClaims, error) {
	claims := &AccessClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(tokenString, claims); err != nil {
		return nil, ErrInvalidToken
	}
	return claims, nil
}
