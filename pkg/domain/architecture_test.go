package domain

import (
	"testing"

	"labcore/testutil"
)

// TestDomainDoesNotImportInternal keeps the domain layer importable by
// clients that never see labcore/internal.
func TestDomainDoesNotImportInternal(t *testing.T) {
	testutil.AssertNoDirectImports(t, ".", testutil.InternalImportForbidden, "pkg/domain is public")
	// Standard library packages have internal/ trees of their own.
	testutil.AssertNoTransitiveDependency(t, ".", testutil.ImportsUnder("labcore/internal"), "pkg/domain is public")
}
