package upgrade

import (
	"strings"
	"testing"
)

func TestFormatError_Dirty(t *testing.T) {
	got := FormatError(&SchemaStatus{Dirty: true, CurrentVersion: 3, RequiredVersion: RequiredSchemaVersion})
	if !strings.Contains(got, "dirty state") {
		t.Errorf("expected dirty-state message, got: %s", got)
	}
	if !strings.Contains(got, "migrate force 2") {
		t.Errorf("expected force-to-previous-version hint, got: %s", got)
	}
}

func TestFormatError_Ahead(t *testing.T) {
	got := FormatError(&SchemaStatus{CurrentVersion: 5, RequiredVersion: 1})
	if !strings.Contains(got, "newer than this binary") {
		t.Errorf("expected ahead-of-binary message, got: %s", got)
	}
}

func TestFormatError_Outdated(t *testing.T) {
	got := FormatError(&SchemaStatus{CurrentVersion: 0, RequiredVersion: 1})
	if !strings.Contains(got, "outdated") {
		t.Errorf("expected outdated message, got: %s", got)
	}
	if !strings.Contains(got, "migrate up") {
		t.Errorf("expected migrate-up hint, got: %s", got)
	}
}
