package main

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/storefront/livesync/internal/auth"
)

func TestEmitPayload(t *testing.T) {
	p, err := emitPayload([]string{"analytics:updated"})
	require.NoError(t, err)
	assert.Equal(t, "{}", string(p))

	p, err = emitPayload([]string{"couponUsed", `{"couponId":"c1"}`})
	require.NoError(t, err)
	assert.JSONEq(t, `{"couponId":"c1"}`, string(p))

	_, err = emitPayload([]string{"couponUsed", `{nope`})
	assert.Error(t, err)
}

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "relay.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestTokenCmd_SignsForConfiguredSecret(t *testing.T) {
	const secret = "cli-test-secret-at-least-32-chars!"
	path := writeConfig(t, "auth:\n  secret: "+secret+"\n  issuer: cli-test\n")

	var out, errOut bytes.Buffer
	cmd := newRootCmd()
	cmd.SetOut(&out)
	cmd.SetErr(&errOut)
	cmd.SetArgs([]string{"--config", path, "token", "--user", "ops", "--email", "ops@example.com"})
	require.NoError(t, cmd.Execute())

	issuer, err := auth.NewIssuer(secret, "cli-test", 0)
	require.NoError(t, err)
	claims, err := issuer.Validate(strings.TrimSpace(out.String()))
	require.NoError(t, err)
	assert.Equal(t, "ops", claims.Subject)
	assert.Contains(t, errOut.String(), "expires")
}

func TestTokenCmd_NoSecret(t *testing.T) {
	path := writeConfig(t, "server:\n  port: 9000\n")
	cmd := newRootCmd()
	cmd.SetOut(&bytes.Buffer{})
	cmd.SetArgs([]string{"--config", path, "token"})
	assert.ErrorContains(t, cmd.Execute(), "auth.secret")
}

func TestServe_UnknownSource(t *testing.T) {
	path := writeConfig(t, "log:\n  output: stderr\n")
	cmd := newRootCmd()
	cmd.SetArgs([]string{"--config", path, "serve", "--source", "carrier-pigeon", "--port", "1"})
	assert.ErrorContains(t, cmd.Execute(), "unknown source mode")
}
