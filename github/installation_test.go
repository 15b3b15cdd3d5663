package github

import (
	"context"
	"testing"
)

func TestInstallationContext(t *testing.T) {
	base := context.Background()

	if _, ok := InstallationFromContext(base); ok {
		t.Error("bare context should carry no installation id")
	}

	ctx := WithInstallation(base, 42)
	id, ok := InstallationFromContext(ctx)
	if !ok || id != 42 {
		t.Errorf("InstallationFromContext() = %d, %v; want 42, true", id, ok)
	}

	// Contexts for different installations are independent.
	other := WithInstallation(base, 7)
	if id, _ := InstallationFromContext(other); id != 7 {
		t.Errorf("InstallationFromContext() = %d, want 7", id)
	}
	if id, _ := InstallationFromContext(ctx); id != 42 {
		t.Error("sibling context leaked its installation id")
	}
}
