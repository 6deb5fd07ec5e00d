// Package tools implements the Tool Library (§4.3): JSON-schema
// parameterized operations bound to an immutable Task Context, each
// declaring whether it invalidates that context for subsequent calls
// in the same agent iteration.
package tools

import "github.com/google/uuid"

// Result is what a tool hands back to the agent loop. ForLLM is fed
// into the next turn's tool-result message; ForUser carries optional
// end-user text, which the agent loop does not read.
//
// CompletedTaskID is set by update_task when it transitions a task to
// success. The loop only publishes the completion notification after its
// own transaction commits, so the tool itself never touches the broker.
type Result struct {
	ForLLM          string
	ForUser         string
	Silent          bool
	IsError         bool
	Async           bool
	Err             error
	CompletedTaskID *uuid.UUID
}

func NewResult(forLLM string) *Result {
	return &Result{ForLLM: forLLM}
}

func SilentResult(forLLM string) *Result {
	return &Result{ForLLM: forLLM, Silent: true}
}

func ErrorResult(forLLM string, err error) *Result {
	return &Result{ForLLM: forLLM, IsError: true, Err: err}
}

func UserResult(forLLM, forUser string) *Result {
	return &Result{ForLLM: forLLM, ForUser: forUser}
}

func AsyncResult(forLLM string) *Result {
	return &Result{ForLLM: forLLM, Async: true}
}

func (r *Result) WithError(err error) *Result {
	r.Err = err
	r.IsError = true
	return r
}
