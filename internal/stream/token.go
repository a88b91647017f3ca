package stream

import (
	"crypto/sha256"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"golang.org/x/crypto/hkdf"
)

// minSecretLen is the minimum accepted signing-secret length in bytes.
const minSecretLen = 32

// signingKeyInfo is the HKDF info string binding derived keys to this use.
const signingKeyInfo = "coldvault-stream-token"

// AccessClaims is the payload of a media access token. One token grants
// time-limited access to exactly one file.
type AccessClaims struct {
	User     string `json:"user"`
	Session  string `json:"session"`
	Filename string `json:"filename"`
	jwt.RegisteredClaims
}

// deriveSigningKey stretches the configured secret into a 32-byte HMAC key.
func deriveSigningKey(secret []byte) ([]byte, error) {
	if len(secret) < minSecretLen {
		return nil, fmt.Errorf("%w: need at least %d bytes, got %d",
			ErrWeakSecret, minSecretLen, len(secret))
	}
	key := make([]byte, 32)
	reader := hkdf.New(sha256.New, secret, nil, []byte(signingKeyInfo))
	if _, err := io.ReadFull(reader, key); err != nil {
		return nil, fmt.Errorf("derive signing key: %w", err)
	}
	return key, nil
}

// signToken issues a compact HS256 token for one file.
func (st *Streamer) signToken(user, session, filename string, now time.Time) (string, error) {
	claims := AccessClaims{
		User:     user,
		Session:  session,
		Filename: filename,
		RegisteredClaims: jwt.RegisteredClaims{
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(st.tokenTTL)),
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(st.signingKey)
	if err != nil {
		return "", fmt.Errorf("sign token: %w", err)
	}
	return signed, nil
}

// VerifyToken checks structure, signature, and expiry, and returns the
// claims. Signature comparison inside the JWT library is constant-time.
func (st *Streamer) VerifyToken(tokenStr string) (*AccessClaims, error) {
	claims := &AccessClaims{}
	token, err := jwt.ParseWithClaims(tokenStr, claims,
		func(token *jwt.Token) (interface{}, error) {
			if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
				return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
			}
			return st.signingKey, nil
		},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithTimeFunc(st.now),
	)
	if err != nil {
		if st.metrics != nil {
			st.metrics.TokensRejected.Inc()
		}
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, ErrTokenExpired
		}
		return nil, fmt.Errorf("%w: %v", ErrTokenInvalid, err)
	}
	if !token.Valid {
		if st.metrics != nil {
			st.metrics.TokensRejected.Inc()
		}
		return nil, ErrTokenInvalid
	}
	return claims, nil
}
