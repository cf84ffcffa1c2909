package logger

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSanitizedEmail(t *testing.T) {
	tests := []struct {
		in, want string
	}{
		{"alice@example.com", "a****@*******.com"},
		{"a@mail.example.org", "a@****.*******.org"},
		{"not-an-email", "[invalid-email]"},
		{"@example.com", "[invalid-email]"},
		{"a@b@c.com", "[invalid-email]"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, SanitizedEmail(tt.in), tt.in)
	}
}

func TestMaskIdentifier(t *testing.T) {
	assert.Equal(t, "a****", MaskIdentifier("alice"))
	assert.Equal(t, "a****@*******.com", MaskIdentifier("alice@example.com"))
	assert.Equal(t, "x", MaskIdentifier("x"))
	assert.Equal(t, "", MaskIdentifier(""))
}

func TestSanitizeQueryString(t *testing.T) {
	assert.True(t, SanitizeQueryString("code=123456"))
	assert.True(t, SanitizeQueryString("ID_TOKEN=abc"))
	assert.False(t, SanitizeQueryString("page=2&brand=toyota"))
}

func TestRedactedAttr(t *testing.T) {
	assert.Equal(t, "[REDACTED]", RedactedAttr("k", "v", "production").Value.String())
	assert.Equal(t, "v", RedactedAttr("k", "v", "development").Value.String())
}

func TestAuditLogger_LogLogin(t *testing.T) {
	var buf bytes.Buffer
	al := NewAuditLogger(slog.New(slog.NewJSONHandler(&buf, nil)))

	al.LogLogin(context.Background(), LoginAuditEntry{
		Identifier: "alice@example.com",
		Method:     "PLAINTEXT",
		Outcome:    "bad_secret",
		ClientID:   "10.0.0.5",
	})

	var line map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &line))
	assert.Equal(t, "WARN", line["level"])
	assert.Equal(t, "audit_event", line["msg"])
	assert.Equal(t, "auth", line["audit_type"])
	assert.Equal(t, "a****@*******.com", line["identifier"])
	assert.Equal(t, "bad_secret", line["outcome"])
	assert.NotContains(t, line, "principal_id")
}
