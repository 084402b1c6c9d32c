// internal/backend/oauth/session.go
package oauth

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

// sessionTTL bounds how long an established session cookie is honored.
const sessionTTL = 30 * time.Minute

// sessionData holds the authenticated identity stored in the cookie.
type sessionData struct {
	Username string    `json:"username"`
	Expiry   time.Time `json:"expiry"`
}

// saveSessionCookie encrypts and saves the session data in a cookie
func (b *Backend) saveSessionCookie(w http.ResponseWriter, username string) error {
	data := sessionData{
		Username: username,
		Expiry:   time.Now().Add(sessionTTL),
	}

	plaintext, err := json.Marshal(data)
	if err != nil {
		return fmt.Errorf("failed to marshal session data: %w", err)
	}

	block, err := aes.NewCipher(b.cookieSecretKey)
	if err != nil {
		return fmt.Errorf("failed to create cipher: %w", err)
	}

	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return fmt.Errorf("failed to create GCM: %w", err)
	}

	nonce := make([]byte, gcm.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return fmt.Errorf("failed to generate nonce: %w", err)
	}

	ciphertext := gcm.Seal(nonce, nonce, plaintext, nil)

	http.SetCookie(w, &http.Cookie{
		Name:     b.cookieName,
		Value:    base64.URLEncoding.EncodeToString(ciphertext),
		Path:     "/",
		HttpOnly: true,
		Secure:   true,
		SameSite: http.SameSiteLaxMode,
		MaxAge:   int(sessionTTL.Seconds()),
	})
	return nil
}

// getSessionCookie retrieves and decrypts the session data from a cookie
func (b *Backend) getSessionCookie(r *http.Request) (*sessionData, error) {
	cookie, err := r.Cookie(b.cookieName)
	if err != nil {
		return nil, err
	}

	encrypted, err := base64.URLEncoding.DecodeString(cookie.Value)
	if err != nil {
		return nil, fmt.Errorf("failed to decode session cookie: %w", err)
	}

	block, err := aes.NewCipher(b.cookieSecretKey)
	if err != nil {
		return nil, fmt.Errorf("failed to create cipher: %w", err)
	}

	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("failed to create GCM: %w", err)
	}

	nonceSize := gcm.NonceSize()
	if len(encrypted) < nonceSize {
		return nil, fmt.Errorf("encrypted data too short")
	}

	nonce, ciphertext := encrypted[:nonceSize], encrypted[nonceSize:]
	plaintext, err := gcm.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to decrypt session data: %w", err)
	}

	var data sessionData
	if err := json.Unmarshal(plaintext, &data); err != nil {
		return nil, fmt.Errorf("failed to unmarshal session data: %w", err)
	}

	if time.Now().After(data.Expiry) {
		return nil, fmt.Errorf("session expired")
	}

	return &data, nil
}

// clearSessionCookie clears the session cookie
func (b *Backend) clearSessionCookie(w http.ResponseWriter) {
	http.SetCookie(w, &http.Cookie{
		Name:     b.cookieName,
		Value:    "",
		Path:     "/",
		MaxAge:   -1,
		HttpOnly: true,
		Secure:   true,
	})
}
