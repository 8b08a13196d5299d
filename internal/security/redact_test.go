package security

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMaskCredential(t *testing.T) {
	assert.Equal(t, "", MaskCredential(""))
	assert.Equal(t, "***", MaskCredential("abc"))
	assert.Equal(t, "ab****", MaskCredential("abcdef"))
	assert.Equal(t, "abcd****mnop", MaskCredential("abcdefghmnop"))
}

func TestRedact(t *testing.T) {
	tests := []struct {
		name   string
		input  string
		leaked string
	}{
		{"telegram url", `Post "https://api.telegram.org/bot123456:AAHdqTcvCH1vGWJxfSeofSAs0K5PALDsaw/sendMessage": dial tcp: timeout`, "AAHdqTcvCH1vGWJxfSeofSAs0K5PALDsaw"},
		{"libpq key value", "host=db user=pulse password=hunter2secret dbname=insiders", "hunter2secret"},
		{"api key", "api_key: sk-or-v1-0123456789abcdef0123", "0123456789abcdef0123"},
		{"url userinfo", "dial postgres://pulse:s3cretpass@db:5432/insiders failed", "s3cretpass"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			out := Redact(tt.input)
			assert.NotContains(t, out, tt.leaked)
			assert.True(t, ContainsSensitiveData(tt.input))
		})
	}

	assert.Equal(t, "crawl 2025-04-24: 3 filings", Redact("crawl 2025-04-24: 3 filings"))
}

func TestRedactDSN(t *testing.T) {
	assert.Equal(t, "postgres://pulse:xxxxx@db:5432/insiders?sslmode=disable",
		RedactDSN("postgres://pulse:topsecret@db:5432/insiders?sslmode=disable"))
	assert.Equal(t, "/home/me/.config/pulsereveal/insider_trading.db",
		RedactDSN("/home/me/.config/pulsereveal/insider_trading.db"))
	assert.NotContains(t, RedactDSN("host=db password=topsecret"), "topsecret")
}

func TestRedactError_KeepsChain(t *testing.T) {
	sentinel := errors.New("unreachable")
	err := fmt.Errorf("sending telegram to /bot42:ABCDEFGHIJKLMNOP/sendMessage: %w", sentinel)

	red := RedactError(err)
	require.Error(t, red)
	assert.NotContains(t, red.Error(), "ABCDEFGHIJKLMNOP")
	assert.ErrorIs(t, red, sentinel)

	plain := errors.New("status 500")
	assert.Same(t, plain, RedactError(plain))
	assert.NoError(t, RedactError(nil))
}
