package main

import (
	"bytes"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	_ "modernc.org/sqlite"
)

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	root := newRootCmd()
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetErr(&out)
	root.SetArgs(args)
	err := root.ExecuteContext(context.Background())
	return out.String(), err
}

func TestCommandTree(t *testing.T) {
	root := newRootCmd()
	var names []string
	for _, c := range root.Commands() {
		names = append(names, c.Name())
	}
	for _, want := range []string{"serve", "run", "auth", "token", "init-db"} {
		assert.Contains(t, names, want)
	}
	require.NotNil(t, root.PersistentFlags().Lookup("config"))
}

func TestTokenCommandReportsExpired(t *testing.T) {
	dir := t.TempDir()
	t.Chdir(dir)
	path := filepath.Join(dir, "token.json")
	expiry := time.Now().Add(-time.Hour).UTC().Truncate(time.Second)
	data, err := json.Marshal(map[string]any{"access_token": "a", "refresh_token": "r", "expiry": expiry})
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(path, data, 0o600))
	t.Setenv("ORDERPOLL_GMAIL_TOKEN_FILE", path)

	out, err := execute(t, "token")
	require.NoError(t, err)

	var st tokenStatus
	require.NoError(t, json.Unmarshal([]byte(out), &st))
	assert.Equal(t, path, st.Path)
	assert.Equal(t, "restart", st.Decision)
	require.NotNil(t, st.Expiry)
	assert.True(t, st.Expiry.Equal(expiry))
}

func TestTokenCommandWithoutToken(t *testing.T) {
	dir := t.TempDir()
	t.Chdir(dir)
	t.Setenv("ORDERPOLL_GMAIL_TOKEN_FILE", filepath.Join(dir, "missing.json"))
	t.Setenv("ORDERPOLL_LOG_LEVEL", "error")

	out, err := execute(t, "token")
	require.NoError(t, err)
	assert.Contains(t, out, `"decision": "noop"`)
	assert.NotContains(t, out, "expiry")
}

func TestTokenCommandRejectsIMAP(t *testing.T) {
	t.Chdir(t.TempDir())
	t.Setenv("ORDERPOLL_MAIL_PROVIDER", "imap")

	_, err := execute(t, "token")
	assert.ErrorContains(t, err, "no oauth token")
}

func TestInitDBCreatesTable(t *testing.T) {
	dir := t.TempDir()
	t.Chdir(dir)
	dsn := "file:" + filepath.Join(dir, "orders.db")
	t.Setenv("ORDERPOLL_STORE_DRIVER", "sqlite")
	t.Setenv("ORDERPOLL_STORE_DSN", dsn)
	t.Setenv("ORDERPOLL_LOG_LEVEL", "error")

	_, err := execute(t, "init-db")
	require.NoError(t, err)

	db, err := sqlx.Open("sqlite", dsn)
	require.NoError(t, err)
	defer db.Close()
	var n int
	require.NoError(t, db.Get(&n, `SELECT COUNT(*) FROM "reporte"`))
	assert.Zero(t, n)
}

func TestRunFailsOnInvalidConfig(t *testing.T) {
	t.Chdir(t.TempDir())
	t.Setenv("ORDERPOLL_LOG_LEVEL", "error")

	_, err := execute(t, "run")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid config")
}

func TestAuthExchangeRequiresCode(t *testing.T) {
	t.Chdir(t.TempDir())

	_, err := execute(t, "auth", "exchange")
	assert.ErrorContains(t, err, "code")
}
