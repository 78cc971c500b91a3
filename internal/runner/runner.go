// File: internal/runner/runner.go

// Package runner executes a declarative sequence of browser actions against
// the action executor, producing a per-action outcome record. It exists for
// external task tooling; no evaluation or scoring of outcomes happens here.
package runner

import (
	"context"
	"errors"
	"fmt"
	"time"

	jsoniter "github.com/json-iterator/go"
	"go.uber.org/zap"

	"github.com/xkilldash9x/browserpilot/internal/actions"
)

var jsonAPI = jsoniter.ConfigCompatibleWithStandardLibrary

// Driver is the executor surface the runner drives.
type Driver interface {
	Navigate(ctx context.Context, url string) error
	Click(ctx context.Context, selector string) error
	CoordinateClick(ctx context.Context, x, y float64) error
	Fill(ctx context.Context, selector, text string) error
	Type(ctx context.Context, text string) error
	Key(ctx context.Context, keyName string) error
	Evaluate(ctx context.Context, expression string) (actions.EvalResult, error)
	Screenshot(ctx context.Context, path string, opts actions.ScreenshotOptions) (string, error)
	Wait(ctx context.Context, target string, timeout time.Duration) error
}

// Action is one step of a task sequence.
type Action struct {
	Type     string  `json:"type"`
	URL      string  `json:"url,omitempty"`
	Selector string  `json:"selector,omitempty"`
	Text     string  `json:"text,omitempty"`
	Key      string  `json:"key,omitempty"`
	Script   string  `json:"script,omitempty"`
	X        float64 `json:"x,omitempty"`
	Y        float64 `json:"y,omitempty"`
	Path     string  `json:"path,omitempty"`
	// Timeout applies to wait and sleep, in seconds.
	Timeout float64 `json:"timeout,omitempty"`
	// StopOnError aborts the remainder of the sequence if this step fails.
	StopOnError bool `json:"stop_on_error,omitempty"`
}

// Outcome records how one action went.
type Outcome struct {
	Action string `json:"action"`
	OK     bool   `json:"ok"`
	Error  string `json:"error,omitempty"`
	// Detail carries action-specific output: the screenshot path, the
	// evaluated value, and so on.
	Detail string `json:"detail,omitempty"`
}

// Parse decodes a JSON action sequence.
func Parse(data []byte) ([]Action, error) {
	var acts []Action
	if err := jsonAPI.Unmarshal(data, &acts); err != nil {
		return nil, fmt.Errorf("runner: parsing action sequence: %w", err)
	}
	return acts, nil
}

// Runner executes action sequences.
type Runner struct {
	driver Driver
	logger *zap.Logger
}

// New creates a Runner over the given driver.
func New(d Driver, logger *zap.Logger) *Runner {
	return &Runner{driver: d, logger: logger.Named("runner")}
}

// Execute runs the sequence in order. A failed step records an error outcome
// and, unless it asked to stop on error, the sequence continues — selector
// failures in particular are meant to be retried by a later explicit
// coordinate_click step.
func (r *Runner) Execute(ctx context.Context, acts []Action) []Outcome {
	outcomes := make([]Outcome, 0, len(acts))
	for i, act := range acts {
		detail, err := r.run(ctx, act)
		out := Outcome{Action: act.Type, OK: err == nil, Detail: detail}
		if err != nil {
			out.Error = err.Error()
			r.logger.Warn("Action failed",
				zap.Int("step", i), zap.String("type", act.Type), zap.Error(err))
		}
		outcomes = append(outcomes, out)

		if err != nil && act.StopOnError {
			r.logger.Info("Stopping sequence on error", zap.Int("step", i))
			break
		}
		if ctx.Err() != nil {
			break
		}
	}
	return outcomes
}

func (r *Runner) run(ctx context.Context, act Action) (string, error) {
	switch act.Type {
	case "navigate":
		return act.URL, r.driver.Navigate(ctx, act.URL)
	case "click":
		return act.Selector, r.driver.Click(ctx, act.Selector)
	case "coordinate_click":
		return fmt.Sprintf("(%.0f, %.0f)", act.X, act.Y), r.driver.CoordinateClick(ctx, act.X, act.Y)
	case "fill":
		return act.Selector, r.driver.Fill(ctx, act.Selector, act.Text)
	case "type":
		return "", r.driver.Type(ctx, act.Text)
	case "key":
		return act.Key, r.driver.Key(ctx, act.Key)
	case "evaluate":
		res, err := r.driver.Evaluate(ctx, act.Script)
		if err != nil {
			return "", err
		}
		if err := res.Err(); err != nil {
			return "", err
		}
		return string(res.Value), nil
	case "wait":
		timeout := time.Duration(act.Timeout * float64(time.Second))
		if timeout <= 0 {
			timeout = 10 * time.Second
		}
		return act.Selector, r.driver.Wait(ctx, act.Selector, timeout)
	case "screenshot":
		return r.driver.Screenshot(ctx, act.Path, actions.ScreenshotOptions{})
	case "sleep":
		d := time.Duration(act.Timeout * float64(time.Second))
		if d <= 0 {
			d = time.Second
		}
		select {
		case <-time.After(d):
			return d.String(), nil
		case <-ctx.Done():
			return "", ctx.Err()
		}
	default:
		return "", errors.New("runner: unknown action type " + act.Type)
	}
}
