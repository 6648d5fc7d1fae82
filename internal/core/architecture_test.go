package core

import (
	"testing"

	"labcore/testutil"
)

// The service is driven by adapters and never the other way round.
func TestCoreDoesNotImportDrivers(t *testing.T) {
	testutil.AssertNoDirectImports(t, ".", testutil.ImportsUnder(
		"labcore/internal/adapters",
		"labcore/internal/audit",
		"labcore/internal/cli",
		"labcore/internal/metrics",
		"labcore/internal/scheduler",
	), "core is driven by adapters")
}
