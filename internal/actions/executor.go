// File: internal/actions/executor.go

// Package actions translates high-level browser intents (navigate, click,
// fill, evaluate, screenshot, wait) into protocol command sequences over a
// transport. It never retries or falls back on its own: a failed selector
// resolution surfaces as ErrElementNotFound and the caller decides whether to
// reach for CoordinateClick.
package actions

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	jsoniter "github.com/json-iterator/go"
	"go.uber.org/zap"

	"github.com/xkilldash9x/browserpilot/internal/config"
)

var jsonAPI = jsoniter.ConfigCompatibleWithStandardLibrary

var (
	// ErrElementNotFound means the selector matched nothing in the live
	// document. Recoverable: the caller may retry with CoordinateClick.
	ErrElementNotFound = errors.New("actions: element not found")
	// ErrWaitTimeout means the awaited condition never held.
	ErrWaitTimeout = errors.New("actions: wait timed out")
	// ErrExecution wraps a script execution failure (throw, syntax error).
	ErrExecution = errors.New("actions: script execution failed")
)

// Transport is the slice of the protocol client the executor needs.
type Transport interface {
	Call(ctx context.Context, method string, params any) (json.RawMessage, error)
}

// Executor issues semantic actions through one Transport. Calls are
// synchronous from the caller's perspective; distinct executors on distinct
// connections never serialize against each other.
type Executor struct {
	t      Transport
	logger *zap.Logger

	pollEvery time.Duration
	shots     config.ScreenshotConfig
}

// New wires an Executor to a transport.
func New(t Transport, cfg *config.Config, logger *zap.Logger) *Executor {
	return &Executor{
		t:         t,
		logger:    logger.Named("actions"),
		pollEvery: cfg.Network.WaitPollEvery,
		shots:     cfg.Screenshot,
	}
}

// Attach enables the protocol domains every action depends on.
func (e *Executor) Attach(ctx context.Context) error {
	for _, domain := range []string{"Page.enable", "DOM.enable", "Runtime.enable"} {
		if _, err := e.t.Call(ctx, domain, nil); err != nil {
			return fmt.Errorf("actions: enabling %s: %w", domain, err)
		}
	}
	return nil
}

// Navigate issues a navigation command and returns once it is acknowledged.
// The page is not necessarily loaded yet; combine with Wait for that.
func (e *Executor) Navigate(ctx context.Context, url string) error {
	res, err := e.t.Call(ctx, "Page.navigate", map[string]any{"url": url})
	if err != nil {
		return fmt.Errorf("actions: navigate %q: %w", url, err)
	}
	var ack struct {
		ErrorText string `json:"errorText"`
	}
	if err := jsonAPI.Unmarshal(res, &ack); err == nil && ack.ErrorText != "" {
		return fmt.Errorf("actions: navigate %q: %s", url, ack.ErrorText)
	}
	e.logger.Debug("Navigated", zap.String("url", url))
	return nil
}

// Click resolves the selector to the first matching node in document order
// and dispatches a real pointer press/release pair at its center.
func (e *Executor) Click(ctx context.Context, selector string) error {
	x, y, err := e.locate(ctx, selector)
	if err != nil {
		return err
	}
	return e.CoordinateClick(ctx, x, y)
}

// CoordinateClick dispatches a pointer press/release pair at raw viewport
// coordinates, bypassing selector resolution entirely. This is the explicit
// fallback path when selector targeting is unusable.
func (e *Executor) CoordinateClick(ctx context.Context, x, y float64) error {
	for _, evType := range []string{"mousePressed", "mouseReleased"} {
		params := map[string]any{
			"type":       evType,
			"x":          x,
			"y":          y,
			"button":     "left",
			"clickCount": 1,
		}
		if _, err := e.t.Call(ctx, "Input.dispatchMouseEvent", params); err != nil {
			return fmt.Errorf("actions: click at (%.0f, %.0f): %w", x, y, err)
		}
	}
	return nil
}

// locate resolves a selector to the screen coordinates of its center.
func (e *Executor) locate(ctx context.Context, selector string) (float64, float64, error) {
	doc, err := e.t.Call(ctx, "DOM.getDocument", nil)
	if err != nil {
		return 0, 0, fmt.Errorf("actions: resolving %q: %w", selector, err)
	}
	var docRes struct {
		Root struct {
			NodeID int64 `json:"nodeId"`
		} `json:"root"`
	}
	if err := jsonAPI.Unmarshal(doc, &docRes); err != nil {
		return 0, 0, fmt.Errorf("actions: decoding document root: %w", err)
	}

	q, err := e.t.Call(ctx, "DOM.querySelector", map[string]any{
		"nodeId":   docRes.Root.NodeID,
		"selector": selector,
	})
	if err != nil {
		return 0, 0, fmt.Errorf("actions: resolving %q: %w", selector, err)
	}
	var qRes struct {
		NodeID int64 `json:"nodeId"`
	}
	if err := jsonAPI.Unmarshal(q, &qRes); err != nil {
		return 0, 0, fmt.Errorf("actions: decoding query result: %w", err)
	}
	if qRes.NodeID == 0 {
		return 0, 0, fmt.Errorf("%w: selector %q", ErrElementNotFound, selector)
	}

	// Best effort; elements can be clickable without this succeeding.
	if _, err := e.t.Call(ctx, "DOM.scrollIntoViewIfNeeded", map[string]any{"nodeId": qRes.NodeID}); err != nil {
		e.logger.Debug("scrollIntoViewIfNeeded failed", zap.String("selector", selector), zap.Error(err))
	}

	box, err := e.t.Call(ctx, "DOM.getBoxModel", map[string]any{"nodeId": qRes.NodeID})
	if err != nil {
		return 0, 0, fmt.Errorf("%w: selector %q has no box model: %v", ErrElementNotFound, selector, err)
	}
	var boxRes struct {
		Model struct {
			Content []float64 `json:"content"`
		} `json:"model"`
	}
	if err := jsonAPI.Unmarshal(box, &boxRes); err != nil || len(boxRes.Model.Content) < 6 {
		return 0, 0, fmt.Errorf("%w: selector %q: unusable box model", ErrElementNotFound, selector)
	}

	c := boxRes.Model.Content
	return (c[0] + c[4]) / 2, (c[1] + c[5]) / 2, nil
}

// Fill sets the target input's value directly and synthesizes the input and
// change events page logic expects. It is NOT interchangeable with Type:
// interleaving the two on one field within a single interaction can leave the
// field's internal state inconsistent with its displayed value.
func (e *Executor) Fill(ctx context.Context, selector, text string) error {
	sel, _ := jsonAPI.Marshal(selector)
	val, _ := jsonAPI.Marshal(text)
	script := fmt.Sprintf(`(() => {
	const el = document.querySelector(%s);
	if (!el) return false;
	el.focus();
	el.value = %s;
	el.dispatchEvent(new Event('input', {bubbles: true}));
	el.dispatchEvent(new Event('change', {bubbles: true}));
	return true;
})()`, sel, val)

	res, err := e.Evaluate(ctx, script)
	if err != nil {
		return fmt.Errorf("actions: fill %q: %w", selector, err)
	}
	if res.Kind == KindError {
		return fmt.Errorf("actions: fill %q: %w: %s", selector, ErrExecution, res.Message)
	}
	var found bool
	if err := jsonAPI.Unmarshal(res.Value, &found); err != nil || !found {
		return fmt.Errorf("%w: selector %q", ErrElementNotFound, selector)
	}
	return nil
}

// Type simulates per-character key events against whatever element currently
// holds focus. See Fill for why the two must not be mixed on one field.
func (e *Executor) Type(ctx context.Context, text string) error {
	for _, r := range text {
		params := map[string]any{"type": "char", "text": string(r)}
		if _, err := e.t.Call(ctx, "Input.dispatchKeyEvent", params); err != nil {
			return fmt.Errorf("actions: typing: %w", err)
		}
	}
	return nil
}

// Key dispatches a single named key press (down then up) to the focused
// element.
func (e *Executor) Key(ctx context.Context, keyName string) error {
	for _, evType := range []string{"keyDown", "keyUp"} {
		params := map[string]any{"type": evType, "key": keyName}
		if _, err := e.t.Call(ctx, "Input.dispatchKeyEvent", params); err != nil {
			return fmt.Errorf("actions: key %q: %w", keyName, err)
		}
	}
	return nil
}

// Wait blocks until the condition holds or the timeout elapses. The target is
// a CSS selector, or a JavaScript predicate when prefixed with "js:". Script
// errors during polling count as "condition not yet true"; transport failures
// abort immediately.
func (e *Executor) Wait(ctx context.Context, target string, timeout time.Duration) error {
	var expr string
	if pred, ok := strings.CutPrefix(target, "js:"); ok {
		expr = "!!(" + pred + ")"
	} else {
		sel, _ := jsonAPI.Marshal(target)
		expr = fmt.Sprintf("!!document.querySelector(%s)", sel)
	}

	deadline := time.Now().Add(timeout)
	ticker := time.NewTicker(e.pollEvery)
	defer ticker.Stop()

	for {
		res, err := e.Evaluate(ctx, expr)
		if err != nil {
			return fmt.Errorf("actions: wait %q: %w", target, err)
		}
		if res.Kind == KindValue {
			var ok bool
			if jsonAPI.Unmarshal(res.Value, &ok) == nil && ok {
				return nil
			}
		}
		if res.Kind == KindError {
			e.logger.Debug("Wait predicate errored; treating as not-yet",
				zap.String("target", target), zap.String("error", res.Message))
		}

		if time.Now().After(deadline) {
			return fmt.Errorf("%w: %q after %s", ErrWaitTimeout, target, timeout)
		}
		select {
		case <-ctx.Done():
			return fmt.Errorf("actions: wait %q: %w", target, ctx.Err())
		case <-ticker.C:
		}
	}
}

// ScreenshotOptions control capture encoding.
type ScreenshotOptions struct {
	// HighQuality captures lossless png instead of the default
	// quality-reduced jpeg. Captures are primarily consumed by downstream
	// automated reasoning, so small payloads are the default.
	HighQuality bool
	// Quality overrides the configured jpeg quality when non-zero.
	Quality int
}

// Screenshot captures the full page and writes it to path. An empty path
// lands the capture in the configured screenshot directory under a generated
// name. Returns the written path.
func (e *Executor) Screenshot(ctx context.Context, path string, opts ScreenshotOptions) (string, error) {
	format := "jpeg"
	quality := e.shots.Quality
	if opts.Quality > 0 {
		quality = opts.Quality
	}
	if opts.HighQuality {
		format = "png"
	}

	params := map[string]any{
		"format":                format,
		"captureBeyondViewport": true,
	}
	if format == "jpeg" {
		params["quality"] = quality
	}

	res, err := e.t.Call(ctx, "Page.captureScreenshot", params)
	if err != nil {
		return "", fmt.Errorf("actions: screenshot: %w", err)
	}
	var shot struct {
		Data string `json:"data"`
	}
	if err := jsonAPI.Unmarshal(res, &shot); err != nil {
		return "", fmt.Errorf("actions: decoding screenshot: %w", err)
	}
	img, err := base64.StdEncoding.DecodeString(shot.Data)
	if err != nil {
		return "", fmt.Errorf("actions: decoding screenshot payload: %w", err)
	}

	if path == "" {
		ext := "jpg"
		if format == "png" {
			ext = "png"
		}
		path = filepath.Join(e.shots.Dir, fmt.Sprintf("shot-%s.%s", uuid.NewString()[:8], ext))
	}
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return "", fmt.Errorf("actions: creating screenshot dir: %w", err)
		}
	}
	if err := os.WriteFile(path, img, 0o644); err != nil {
		return "", fmt.Errorf("actions: writing screenshot: %w", err)
	}
	e.logger.Debug("Screenshot written", zap.String("path", path), zap.String("format", format))
	return path, nil
}

// Text returns the textContent of the first element matching the selector.
func (e *Executor) Text(ctx context.Context, selector string) (string, error) {
	sel, _ := jsonAPI.Marshal(selector)
	return e.evalString(ctx, selector,
		fmt.Sprintf(`(() => { const el = document.querySelector(%s); return el ? el.textContent : null; })()`, sel))
}

// Attribute returns an attribute of the first element matching the selector.
func (e *Executor) Attribute(ctx context.Context, selector, name string) (string, error) {
	sel, _ := jsonAPI.Marshal(selector)
	attr, _ := jsonAPI.Marshal(name)
	return e.evalString(ctx, selector,
		fmt.Sprintf(`(() => { const el = document.querySelector(%s); return el ? el.getAttribute(%s) : null; })()`, sel, attr))
}

func (e *Executor) evalString(ctx context.Context, selector, script string) (string, error) {
	res, err := e.Evaluate(ctx, script)
	if err != nil {
		return "", err
	}
	switch res.Kind {
	case KindError:
		return "", fmt.Errorf("actions: reading %q: %w: %s", selector, ErrExecution, res.Message)
	case KindNull:
		return "", fmt.Errorf("%w: selector %q", ErrElementNotFound, selector)
	}
	var s string
	if err := jsonAPI.Unmarshal(res.Value, &s); err != nil {
		return "", fmt.Errorf("actions: reading %q: non-string result", selector)
	}
	return s, nil
}

// PageInfo reports the current page's title and URL.
func (e *Executor) PageInfo(ctx context.Context) (title, url string, err error) {
	res, err := e.Evaluate(ctx, `({title: document.title, url: location.href})`)
	if err != nil {
		return "", "", err
	}
	if res.Kind != KindValue {
		return "", "", fmt.Errorf("actions: page info: %w: %s", ErrExecution, res.Message)
	}
	var info struct {
		Title string `json:"title"`
		URL   string `json:"url"`
	}
	if err := jsonAPI.Unmarshal(res.Value, &info); err != nil {
		return "", "", fmt.Errorf("actions: decoding page info: %w", err)
	}
	return info.Title, info.URL, nil
}
