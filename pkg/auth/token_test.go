package auth

import (
	"bytes"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPasteToken(t *testing.T) {
	var prompt bytes.Buffer
	tok, err := PasteToken("provider API key", strings.NewReader("  abc123 \n"), &prompt)
	require.NoError(t, err)
	assert.Equal(t, "abc123", tok)
	assert.Contains(t, prompt.String(), "Paste your provider API key")

	_, err = PasteToken("key", strings.NewReader("   \n"), &prompt)
	assert.ErrorIs(t, err, ErrEmptyToken)

	_, err = PasteToken("key", strings.NewReader(""), &prompt)
	assert.ErrorContains(t, err, "no input")
}

func TestBearerHeader(t *testing.T) {
	assert.Nil(t, BearerHeader(""))
	assert.Equal(t, "Bearer t0k", BearerHeader(" t0k ").Get("Authorization"))
}

func TestRedact(t *testing.T) {
	assert.Equal(t, "***", Redact("abc"))
	assert.Equal(t, "abcd****mnop", Redact("abcdefghmnop"))
}
