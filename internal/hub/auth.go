/**
 * @description
 * HMAC-signed JWT verification for the WebSocket authenticate flow. The proof
 * a client presents is an HS256 token whose subject is the wallet address it
 * claims to own.
 *
 * @dependencies
 * - github.com/golang-jwt/jwt/v5: JWT parsing and validation.
 */

package hub

import (
	"fmt"

	"github.com/golang-jwt/jwt/v5"
)

// HMACVerifier verifies HS256 proofs signed with a shared secret.
type HMACVerifier struct {
	Secret []byte
}

// NewHMACVerifier creates a verifier for the given shared secret.
func NewHMACVerifier(secret string) *HMACVerifier {
	return &HMACVerifier{Secret: []byte(secret)}
}

// Verify parses and validates the proof and returns its subject.
func (v *HMACVerifier) Verify(proof string) (string, error) {
	token, err := jwt.Parse(proof, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return v.Secret, nil
	})
	if err != nil {
		return "", err
	}
	if !token.Valid {
		return "", fmt.Errorf("invalid token")
	}

	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok {
		return "", fmt.Errorf("invalid token claims")
	}
	subject, ok := claims["sub"].(string)
	if !ok || subject == "" {
		return "", fmt.Errorf("subject not found in token")
	}
	return subject, nil
}
