package tools

import "testing"

func TestFinishTool_Execute(t *testing.T) {
	tool := &FinishTool{}

	if tool.Name() != "finish" {
		t.Errorf("Name() = %q, want %q", tool.Name(), "finish")
	}
	if tool.InvalidatesContext() {
		t.Error("InvalidatesContext() = true, want false")
	}

	res := tool.Execute(nil, &TaskContext{}, map[string]any{"summary": "done for now"})
	if res.ForLLM != "done for now" {
		t.Errorf("ForLLM = %q, want %q", res.ForLLM, "done for now")
	}
	if !res.Silent {
		t.Error("expected finish result to be Silent")
	}
	if res.IsError {
		t.Error("expected finish result to not be an error")
	}
}

func TestFinishTool_Execute_NoSummary(t *testing.T) {
	tool := &FinishTool{}
	res := tool.Execute(nil, &TaskContext{}, map[string]any{})
	if res.ForLLM != "" {
		t.Errorf("ForLLM = %q, want empty", res.ForLLM)
	}
}
