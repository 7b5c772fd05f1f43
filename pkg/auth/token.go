// Package auth handles the credentials formbridge carries: the bearer
// token presented to a WebSocket host and the direct provider API key.
package auth

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
)

var ErrEmptyToken = errors.New("token cannot be empty")

// PasteToken prompts on w and reads one token line from r.
func PasteToken(what string, r io.Reader, w io.Writer) (string, error) {
	fmt.Fprintf(w, "Paste your %s:\n", what)
	fmt.Fprint(w, "> ")

	scanner := bufio.NewScanner(r)
	if !scanner.Scan() {
		if err := scanner.Err(); err != nil {
			return "", fmt.Errorf("reading token: %w", err)
		}
		return "", errors.New("no input received")
	}

	token := strings.TrimSpace(scanner.Text())
	if token == "" {
		return "", ErrEmptyToken
	}
	return token, nil
}

// BearerHeader returns the handshake header for a host that requires a
// token, or nil when token is empty.
func BearerHeader(token string) http.Header {
	token = strings.TrimSpace(token)
	if token == "" {
		return nil
	}
	h := http.Header{}
	h.Set("Authorization", "Bearer "+token)
	return h
}

// Redact shortens a secret for display.
func Redact(secret string) string {
	if len(secret) <= 8 {
		return strings.Repeat("*", len(secret))
	}
	return secret[:4] + strings.Repeat("*", len(secret)-8) + secret[len(secret)-4:]
}
