package hypr

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestQueryVersion(t *testing.T) {
	installHyprctlStub(t, `
if [[ "${1:-}" == "-j" && "${2:-}" == "version" ]]; then
  echo '{"tag":" v0.45.2 ","branch":"main"}'
  exit 0
fi
exit 1
`)

	info, err := QueryVersion(context.Background())
	require.NoError(t, err)
	require.Equal(t, "v0.45.2", info.Tag)
	require.Equal(t, "main", info.Branch)
}

func TestQueryVersionRejectsEmptyTag(t *testing.T) {
	installHyprctlStub(t, `
echo '{"tag":""}'
`)

	_, err := QueryVersion(context.Background())
	require.Error(t, err)
	require.Contains(t, err.Error(), "empty tag")
}

func TestQueryVersionRejectsInvalidJSON(t *testing.T) {
	installHyprctlStub(t, `
echo 'not json'
`)

	_, err := QueryVersion(context.Background())
	require.Error(t, err)
	require.Contains(t, err.Error(), "decode hyprctl version json")
}

func TestNotifyAndDismissUseHyprctlDispatch(t *testing.T) {
	argsFile := filepath.Join(t.TempDir(), "hypr-args.log")
	t.Setenv("HYPR_ARGS_FILE", argsFile)
	installHyprctlStub(t, `
printf '%s\n' "$*" >> "${HYPR_ARGS_FILE}"
`)

	err := Notify(context.Background(), 3, 1200, "", "Live link error")
	require.NoError(t, err)

	err = DismissNotify(context.Background())
	require.NoError(t, err)

	data, err := os.ReadFile(argsFile)
	require.NoError(t, err)
	lines := strings.Split(strings.TrimSpace(string(data)), "\n")
	require.Len(t, lines, 2)
	require.Equal(t, "--quiet dispatch notify 3 1200 rgb(89b4fa) Live link error", lines[0])
	require.Equal(t, "--quiet dispatch dismissnotify", lines[1])
}

func TestNotifyReturnsCombinedOutputOnFailure(t *testing.T) {
	installHyprctlStub(t, `
echo 'boom from hyprctl' >&2
exit 1
`)

	err := Notify(context.Background(), 1, 1000, "rgb(a6e3a1)", "Live")
	require.Error(t, err)
	require.Contains(t, err.Error(), "boom from hyprctl")
}

func installHyprctlStub(t *testing.T, body string) {
	t.Helper()

	dir := t.TempDir()
	path := filepath.Join(dir, "hyprctl")
	script := "#!/usr/bin/env bash\nset -euo pipefail\n" + body + "\n"
	require.NoError(t, os.WriteFile(path, []byte(script), 0o755))
	t.Setenv("PATH", dir+":"+os.Getenv("PATH"))
}
