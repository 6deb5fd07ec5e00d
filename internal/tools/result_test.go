package tools

import (
	"errors"
	"testing"
)

func TestResultConstructors(t *testing.T) {
	if r := NewResult("ok"); r.ForLLM != "ok" || r.IsError || r.Silent || r.Async {
		t.Errorf("NewResult() = %+v, want plain success result", r)
	}

	if r := SilentResult("ok"); !r.Silent || r.IsError {
		t.Errorf("SilentResult() = %+v, want Silent=true, IsError=false", r)
	}

	err := errors.New("boom")
	if r := ErrorResult("failed", err); !r.IsError || r.Err != err {
		t.Errorf("ErrorResult() = %+v, want IsError=true with wrapped err", r)
	}

	if r := UserResult("for-llm", "for-user"); r.ForLLM != "for-llm" || r.ForUser != "for-user" {
		t.Errorf("UserResult() = %+v, want both fields populated", r)
	}

	if r := AsyncResult("queued"); !r.Async {
		t.Errorf("AsyncResult() = %+v, want Async=true", r)
	}
}

func TestResult_WithError(t *testing.T) {
	err := errors.New("boom")
	r := NewResult("oops").WithError(err)

	if !r.IsError {
		t.Error("WithError() did not set IsError")
	}
	if r.Err != err {
		t.Errorf("WithError() Err = %v, want %v", r.Err, err)
	}
}
