package auth

import (
	"crypto/sha256"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/lestrrat-go/jwx/v3/jwa"
	"github.com/lestrrat-go/jwx/v3/jwe"
	"github.com/lestrrat-go/jwx/v3/jwt"
	"golang.org/x/crypto/hkdf"

	"github.com/lienmarket/marketplace-server/pkg/errors"
)

const sessionCookie = "authjs.session-token"

// Validator checks Auth.js session cookies issued by the marketplace
// frontend against the shared secret.
type Validator struct {
	secret string
}

func NewValidator(secret string) *Validator {
	return &Validator{secret: secret}
}

// encryptionKey derives the Auth.js JWE key from the shared secret.
func (v *Validator) encryptionKey() ([]byte, error) {
	if v.secret == "" {
		return nil, errors.New(errors.ErrInternalServer, "auth secret not configured")
	}

	salt := sessionCookie
	info := fmt.Sprintf("Auth.js Generated Encryption Key (%s)", salt)

	// HKDF with SHA-256
	hash := sha256.New
	kdf := hkdf.New(hash, []byte(v.secret), []byte(salt), []byte(info))

	key := make([]byte, 64)
	if _, err := io.ReadFull(kdf, key); err != nil {
		return nil, errors.Wrap(err, "failed to generate key")
	}

	return key, nil
}

// jweToJwt decrypts the Auth.js JWE cookie and re-signs its claims as a
// verifiable JWT.
func (v *Validator) jweToJwt(encryptedToken string) (string, error) {
	key, err := v.encryptionKey()
	if err != nil {
		return "", errors.Wrap(err, "failed to generate encryption key")
	}

	// Decrypt JWE using DIRECT key encryption and A256GCM content encryption
	decrypted, err := jwe.Decrypt([]byte(encryptedToken),
		jwe.WithKey(jwa.DIRECT(), key))
	if err != nil {
		return "", errors.Wrap(err, "failed to decrypt JWE")
	}

	var payload map[string]interface{}
	if err := json.Unmarshal(decrypted, &payload); err != nil {
		return "", errors.Wrap(err, "failed to unmarshal decrypted payload")
	}

	token := jwt.New()
	for k, val := range payload {
		token.Set(k, val)
	}

	signed, err := jwt.Sign(token, jwt.WithKey(jwa.HS256(), []byte(v.secret)))
	if err != nil {
		return "", errors.Wrap(err, "failed to sign JWT")
	}

	return string(signed), nil
}

// ValidateTokenFromCookie extracts and verifies the session token from the
// request cookie. The returned token carries the bidder's email claim.
func (v *Validator) ValidateTokenFromCookie(r *http.Request) (jwt.Token, error) {
	cookie, err := r.Cookie(sessionCookie)
	if err != nil {
		return nil, errors.New(http.StatusUnauthorized, "missing session token cookie")
	}

	jwtString, err := v.jweToJwt(cookie.Value)
	if err != nil {
		return nil, errors.Wrap(err, "failed to convert JWE to JWT")
	}

	token, err := jwt.Parse([]byte(jwtString),
		jwt.WithKey(jwa.HS256(), []byte(v.secret)),
		jwt.WithValidate(true))
	if err != nil {
		return nil, errors.Wrap(err, "failed to validate token")
	}

	if exp, ok := token.Expiration(); ok && exp.Before(time.Now()) {
		return nil, errors.New(http.StatusUnauthorized, "session token expired")
	}

	return token, nil
}
