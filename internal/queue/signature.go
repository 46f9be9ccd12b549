package queue

import (
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// Signer produces and verifies the detached signature the push queue attaches
// to every delivery. The signature is a JWT over the delivery URL and a hash
// of the raw body, so a message replayed against a different endpoint, or
// with a tampered body, fails verification. Two keys are supported so signing
// keys can rotate without dropping in-flight messages.
type Signer struct {
	currentKey []byte
	nextKey    []byte
}

const signatureIssuer = "pushqueue"

func NewSigner(currentKey, nextKey string) *Signer {
	s := &Signer{currentKey: []byte(currentKey)}
	if nextKey != "" {
		s.nextKey = []byte(nextKey)
	}
	return s
}

// Sign signs body for delivery to url.
func (s *Signer) Sign(url string, body []byte) (string, error) {
	now := time.Now()
	claims := jwt.MapClaims{
		"iss":  signatureIssuer,
		"sub":  url,
		"body": bodyHash(body),
		"iat":  now.Unix(),
		"nbf":  now.Unix(),
		"exp":  now.Add(5 * time.Minute).Unix(),
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.currentKey)
}

// Verify checks token against the exact URL the message was delivered to and
// the raw request body. The URL must come from the inbound request, not from
// config: signatures are bound to the delivery address.
func (s *Signer) Verify(token, url string, body []byte) error {
	err := s.verifyWithKey(token, url, body, s.currentKey)
	if err != nil && len(s.nextKey) > 0 {
		if nextErr := s.verifyWithKey(token, url, body, s.nextKey); nextErr == nil {
			return nil
		}
	}
	return err
}

func (s *Signer) verifyWithKey(token, url string, body, key []byte) error {
	parsed, err := jwt.Parse(token,
		func(t *jwt.Token) (any, error) { return key, nil },
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(signatureIssuer),
		jwt.WithExpirationRequired(),
	)
	if err != nil {
		return err
	}

	claims, ok := parsed.Claims.(jwt.MapClaims)
	if !ok {
		return errors.New("signature: unexpected claims type")
	}

	sub, _ := claims.GetSubject()
	if sub != url {
		return fmt.Errorf("signature: url mismatch (signed for %q)", sub)
	}

	want, _ := claims["body"].(string)
	if want == "" || want != bodyHash(body) {
		return errors.New("signature: body hash mismatch")
	}
	return nil
}

func bodyHash(body []byte) string {
	sum := sha256.Sum256(body)
	return base64.URLEncoding.EncodeToString(sum[:])
}
