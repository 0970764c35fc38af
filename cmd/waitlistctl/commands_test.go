package main

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/aurlink/waitlist/internal/auth"
	"github.com/aurlink/waitlist/internal/config"
	"github.com/aurlink/waitlist/internal/domain"
	"github.com/aurlink/waitlist/internal/store"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func execute(t *testing.T, stdin string, args ...string) (string, error) {
	t.Helper()
	cmd := newRootCmd()
	var out, errOut bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&errOut)
	cmd.SetIn(strings.NewReader(stdin))
	cmd.SetArgs(args)
	err := cmd.ExecuteContext(context.Background())
	return out.String(), err
}

// seedSQLite points the CLI at a fresh SQLite file holding emails.
func seedSQLite(t *testing.T, emails ...string) string {
	t.Helper()
	dir := t.TempDir()
	chdir(t, dir)
	path := filepath.Join(dir, "waitlist.db")
	t.Setenv("STORE_DRIVER", config.DriverSQLite)
	t.Setenv("SQLITE_PATH", path)

	ctx := context.Background()
	st, err := store.NewSQLite(ctx, path)
	require.NoError(t, err)
	defer st.Close()
	for i, email := range emails {
		require.NoError(t, st.Insert(ctx, &domain.Subscriber{
			ID:                email,
			Email:             email,
			InviteCode:        strings.Repeat(string(rune('a'+i)), 8),
			ConfirmationToken: email + "-token",
			Confirmed:         true,
			CreatedAt:         time.Now().UTC(),
		}))
	}
	return dir
}

func TestStatsCmd(t *testing.T) {
	seedSQLite(t, "a@x.com", "b@x.com")

	out, err := execute(t, "", "stats")
	require.NoError(t, err)
	assert.Contains(t, out, "total:       2")
	assert.Contains(t, out, "last 7 days: 2")
}

func TestLookupCmd(t *testing.T) {
	seedSQLite(t, "a@x.com", "b@x.com")

	out, err := execute(t, "", "lookup", " B@X.com ")
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(out, "#2 b@x.com"), out)

	_, err = execute(t, "", "lookup", "nobody@x.com")
	assert.ErrorContains(t, err, "not on the waitlist")
}

func TestExportCmd_ToFile(t *testing.T) {
	dir := seedSQLite(t, "a@x.com", "b@x.com")
	out := filepath.Join(dir, "export.csv")

	_, err := execute(t, "", "export", "--out", out)
	require.NoError(t, err)

	data, err := os.ReadFile(out)
	require.NoError(t, err)
	lines := strings.Split(strings.TrimSpace(string(data)), "\n")
	require.Len(t, lines, 3)
	assert.True(t, strings.HasPrefix(lines[0], "position,email"))
	assert.True(t, strings.HasPrefix(lines[2], "2,b@x.com,"))
}

func TestExportCmd_JSONToStdout(t *testing.T) {
	seedSQLite(t, "a@x.com")

	out, err := execute(t, "", "export", "--format", "json")
	require.NoError(t, err)
	assert.Contains(t, out, `"count": 1`)

	_, err = execute(t, "", "export", "--format", "xml")
	assert.ErrorContains(t, err, "unsupported format")
}

func TestMigrateCmd_RefusesMemory(t *testing.T) {
	chdir(t, t.TempDir())
	t.Setenv("STORE_DRIVER", config.DriverMemory)

	_, err := execute(t, "", "migrate")
	assert.ErrorContains(t, err, "memory")
}

func TestHashPasswordCmd(t *testing.T) {
	out, err := execute(t, "s3cret\n", "hash-password")
	require.NoError(t, err)

	hash := strings.TrimSpace(out)
	a := auth.New(config.AdminConfig{Username: "admin", PasswordHash: hash, JWTSecret: "k"})
	_, _, err = a.Login("admin", "s3cret")
	assert.NoError(t, err)
}

func TestTokenCmd(t *testing.T) {
	chdir(t, t.TempDir())
	t.Setenv("JWT_SECRET", "cli-secret")

	out, err := execute(t, "", "token", "--subject", "ops")
	require.NoError(t, err)

	a := auth.New(config.AdminConfig{JWTSecret: "cli-secret"})
	claims, err := a.Parse(strings.TrimSpace(out))
	require.NoError(t, err)
	assert.Equal(t, "ops", claims.Subject)
}

// chdir changes the working directory for the duration of the test
// (equivalent of testing.T.Chdir, which needs Go 1.24).
func chdir(t *testing.T, dir string) {
	t.Helper()
	wd, err := os.Getwd()
	if err != nil {
		t.Fatal(err)
	}
	if err := os.Chdir(dir); err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() {
		if err := os.Chdir(wd); err != nil {
			t.Fatal(err)
		}
	})
}
