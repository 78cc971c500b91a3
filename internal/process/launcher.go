// File: internal/process/launcher.go
package process

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"syscall"
)

// chromeCandidates are probed in order when no explicit binary is configured.
var chromeCandidates = []string{
	"google-chrome",
	"google-chrome-stable",
	"chromium",
	"chromium-browser",
	"/Applications/Google Chrome.app/Contents/MacOS/Google Chrome",
}

// Launcher spawns one browser process. The indirection exists so tests can
// run the manager without a real browser.
type Launcher interface {
	Launch(ctx context.Context, spec LaunchSpec) (Process, error)
}

// LaunchSpec describes one browser invocation.
type LaunchSpec struct {
	Port     int
	DataDir  string
	Headless bool
	// ExtraArgs are appended after the standard flag set.
	ExtraArgs []string
}

// Process is a handle on a spawned browser process.
type Process interface {
	// PID identifies the process for diagnostics.
	PID() int
	// Terminate requests a graceful shutdown.
	Terminate() error
	// Kill forcibly ends the process.
	Kill() error
	// Wait blocks until the process exits and reaps it. It must be called
	// exactly once.
	Wait() error
}

// ChromeLauncher launches Chrome/Chromium via os/exec.
type ChromeLauncher struct {
	// ExecPath overrides binary discovery when non-empty.
	ExecPath string
}

// Launch finds a browser binary and starts it with remote debugging enabled
// on the spec's port, using the spec's isolated data directory.
func (l *ChromeLauncher) Launch(ctx context.Context, spec LaunchSpec) (Process, error) {
	bin, err := l.findBinary()
	if err != nil {
		return nil, err
	}

	args := []string{
		fmt.Sprintf("--remote-debugging-port=%d", spec.Port),
		"--remote-allow-origins=*",
		fmt.Sprintf("--user-data-dir=%s", spec.DataDir),
		"--no-first-run",
		"--no-default-browser-check",
		"--disable-background-networking",
		"--disable-background-timer-throttling",
		"--disable-backgrounding-occluded-windows",
		"--disable-renderer-backgrounding",
		"--disable-ipc-flooding-protection",
		"--disable-features=TranslateUI",
	}
	if spec.Headless {
		args = append(args, "--headless=new", "--disable-gpu")
	}
	args = append(args, spec.ExtraArgs...)

	cmd := exec.Command(bin, args...)
	// Detach stdio; browser chatter goes nowhere useful.
	cmd.Stdout = nil
	cmd.Stderr = nil

	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("%w: starting %s: %v", ErrSpawn, bin, err)
	}
	return &osProcess{cmd: cmd}, nil
}

func (l *ChromeLauncher) findBinary() (string, error) {
	if l.ExecPath != "" {
		if _, err := exec.LookPath(l.ExecPath); err != nil {
			return "", fmt.Errorf("%w: configured binary %q: %v", ErrSpawn, l.ExecPath, err)
		}
		return l.ExecPath, nil
	}
	if env := os.Getenv("BROWSERPILOT_BROWSER_PATH"); env != "" {
		if _, err := exec.LookPath(env); err != nil {
			return "", fmt.Errorf("%w: BROWSERPILOT_BROWSER_PATH %q: %v", ErrSpawn, env, err)
		}
		return env, nil
	}
	for _, cand := range chromeCandidates {
		if path, err := exec.LookPath(cand); err == nil {
			return path, nil
		}
	}
	return "", fmt.Errorf("%w: no Chrome or Chromium binary found", ErrSpawn)
}

type osProcess struct {
	cmd *exec.Cmd
}

func (p *osProcess) PID() int { return p.cmd.Process.Pid }

func (p *osProcess) Terminate() error {
	return p.cmd.Process.Signal(syscall.SIGTERM)
}

func (p *osProcess) Kill() error {
	return p.cmd.Process.Kill()
}

func (p *osProcess) Wait() error {
	return p.cmd.Wait()
}
