// File: internal/actions/evaluate.go
package actions

import (
	"context"
	"encoding/json"
	"fmt"
)

// EvalKind discriminates the result variant of Evaluate.
type EvalKind int

const (
	// KindValue carries a concrete JSON value.
	KindValue EvalKind = iota
	// KindNull means the expression evaluated to null or undefined.
	KindNull
	// KindError means the expression threw or failed to parse. Execution
	// errors are never coerced to null.
	KindError
)

func (k EvalKind) String() string {
	switch k {
	case KindValue:
		return "value"
	case KindNull:
		return "null"
	case KindError:
		return "error"
	}
	return "unknown"
}

// EvalResult is the tagged result of a script evaluation. Callers must branch
// on Kind rather than assuming a value came back.
type EvalResult struct {
	Kind    EvalKind
	Value   json.RawMessage
	Message string
}

// Err returns an ErrExecution-wrapped error for error results, nil otherwise.
func (r EvalResult) Err() error {
	if r.Kind != KindError {
		return nil
	}
	return fmt.Errorf("%w: %s", ErrExecution, r.Message)
}

// Evaluate executes an expression in the page context and returns its value
// by value. Thrown exceptions and syntax errors surface as KindError with a
// non-empty message; a transport failure is returned as a Go error.
func (e *Executor) Evaluate(ctx context.Context, expression string) (EvalResult, error) {
	res, err := e.t.Call(ctx, "Runtime.evaluate", map[string]any{
		"expression":    expression,
		"returnByValue": true,
	})
	if err != nil {
		return EvalResult{}, fmt.Errorf("actions: evaluate: %w", err)
	}

	var payload struct {
		Result struct {
			Type    string          `json:"type"`
			Subtype string          `json:"subtype"`
			Value   json.RawMessage `json:"value"`
		} `json:"result"`
		ExceptionDetails *struct {
			Text      string `json:"text"`
			Exception *struct {
				Description string `json:"description"`
			} `json:"exception"`
		} `json:"exceptionDetails"`
	}
	if err := jsonAPI.Unmarshal(res, &payload); err != nil {
		return EvalResult{}, fmt.Errorf("actions: decoding evaluate result: %w", err)
	}

	if ed := payload.ExceptionDetails; ed != nil {
		msg := ed.Text
		if ed.Exception != nil && ed.Exception.Description != "" {
			msg = ed.Exception.Description
		}
		if msg == "" {
			msg = "script execution failed"
		}
		return EvalResult{Kind: KindError, Message: msg}, nil
	}

	if payload.Result.Type == "undefined" || payload.Result.Subtype == "null" || len(payload.Result.Value) == 0 ||
		string(payload.Result.Value) == "null" {
		return EvalResult{Kind: KindNull}, nil
	}
	return EvalResult{Kind: KindValue, Value: payload.Result.Value}, nil
}
