package opprovider

import (
	"context"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/dreamdesk/dreamdesk/credentials"
)

// fakeOp writes a shell script standing in for the 1Password CLI. It echoes
// "secret-for:<ref>" and fails for refs containing "missing".
func fakeOp(t *testing.T) string {
	t.Helper()
	if runtime.GOOS == "windows" {
		t.Skip("shell script stand-in requires a POSIX shell")
	}
	path := filepath.Join(t.TempDir(), "op")
	script := `#!/bin/sh
ref="$3"
case "$ref" in
  *missing*) echo "item not found" >&2; exit 1 ;;
esac
printf 'secret-for:%s' "$ref"
`
	require.NoError(t, os.WriteFile(path, []byte(script), 0o755))
	return path
}

func TestRead(t *testing.T) {
	read := Read(WithBinary(fakeOp(t)))

	val, err := read(context.Background(), "op://dev/openai/credential")
	require.NoError(t, err)
	require.Equal(t, "secret-for:op://dev/openai/credential", val)
}

func TestRead_Failure(t *testing.T) {
	read := Read(WithBinary(fakeOp(t)))

	_, err := read(context.Background(), "op://dev/missing/credential")
	require.Error(t, err)
	require.Contains(t, err.Error(), "item not found")
}

func TestRead_RejectsNonReference(t *testing.T) {
	_, err := Read()(context.Background(), "plain-text")
	require.ErrorContains(t, err, "must start with op://")
}

func TestWithOnePassword_Template(t *testing.T) {
	r := credentials.NewResolver(WithOnePassword(WithBinary(fakeOp(t))))

	creds, err := r.ResolveReader(context.Background(),
		strings.NewReader(`{"firecrawl_api_key": {{ op "op://dev/firecrawl/key" | json }}}`))
	require.NoError(t, err)
	require.Equal(t, "secret-for:op://dev/firecrawl/key", creds.FirecrawlAPIKey)
}
