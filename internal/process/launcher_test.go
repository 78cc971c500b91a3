// File: internal/process/launcher_test.go
package process

import (
	"context"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// writeFakeBrowser drops an executable script that records its argv and exits.
func writeFakeBrowser(t *testing.T, dir, name string) (bin, argsFile string) {
	t.Helper()
	if runtime.GOOS == "windows" {
		t.Skip("fake browser script requires a POSIX shell")
	}
	argsFile = filepath.Join(dir, "args.txt")
	bin = filepath.Join(dir, name)
	script := "#!/bin/sh\necho \"$@\" > " + argsFile + "\n"
	require.NoError(t, os.WriteFile(bin, []byte(script), 0o755))
	return bin, argsFile
}

func TestFindBinary(t *testing.T) {
	t.Run("ExplicitPathWins", func(t *testing.T) {
		dir := t.TempDir()
		bin, _ := writeFakeBrowser(t, dir, "custom-browser")

		l := &ChromeLauncher{ExecPath: bin}
		found, err := l.findBinary()
		require.NoError(t, err)
		assert.Equal(t, bin, found)
	})

	t.Run("ExplicitPathMissing", func(t *testing.T) {
		l := &ChromeLauncher{ExecPath: "/nonexistent/browser"}
		_, err := l.findBinary()
		require.ErrorIs(t, err, ErrSpawn)
	})

	t.Run("EnvOverride", func(t *testing.T) {
		dir := t.TempDir()
		bin, _ := writeFakeBrowser(t, dir, "env-browser")
		t.Setenv("BROWSERPILOT_BROWSER_PATH", bin)

		l := &ChromeLauncher{}
		found, err := l.findBinary()
		require.NoError(t, err)
		assert.Equal(t, bin, found)
	})

	t.Run("NothingOnPath", func(t *testing.T) {
		t.Setenv("PATH", t.TempDir())
		t.Setenv("BROWSERPILOT_BROWSER_PATH", "")

		l := &ChromeLauncher{}
		_, err := l.findBinary()
		require.ErrorIs(t, err, ErrSpawn)
		assert.Contains(t, err.Error(), "no Chrome or Chromium binary found")
	})
}

func TestLaunchArguments(t *testing.T) {
	dir := t.TempDir()
	bin, argsFile := writeFakeBrowser(t, dir, "arg-recorder")

	l := &ChromeLauncher{ExecPath: bin}
	proc, err := l.Launch(context.Background(), LaunchSpec{
		Port:      9250,
		DataDir:   "/tmp/profile-x",
		Headless:  true,
		ExtraArgs: []string{"--lang=en-US"},
	})
	require.NoError(t, err)
	require.NoError(t, proc.Wait())

	data, err := os.ReadFile(argsFile)
	require.NoError(t, err)
	args := string(data)

	assert.Contains(t, args, "--remote-debugging-port=9250")
	assert.Contains(t, args, "--remote-allow-origins=*")
	assert.Contains(t, args, "--user-data-dir=/tmp/profile-x")
	assert.Contains(t, args, "--no-first-run")
	assert.Contains(t, args, "--headless=new")
	assert.Contains(t, args, "--lang=en-US")
	assert.True(t, strings.HasSuffix(strings.TrimSpace(args), "--lang=en-US"),
		"extra arguments must come last")
}

func TestLaunchHeadful(t *testing.T) {
	dir := t.TempDir()
	bin, argsFile := writeFakeBrowser(t, dir, "arg-recorder")

	l := &ChromeLauncher{ExecPath: bin}
	proc, err := l.Launch(context.Background(), LaunchSpec{Port: 9251, DataDir: dir})
	require.NoError(t, err)
	require.NoError(t, proc.Wait())

	data, err := os.ReadFile(argsFile)
	require.NoError(t, err)
	assert.NotContains(t, string(data), "--headless")
}
