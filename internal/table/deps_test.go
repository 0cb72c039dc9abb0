package table

import (
	"testing"

	"longitudinal/testutil"
)

func TestNoStorageOrDriverDependencies(t *testing.T) {
	testutil.AssertNoTransitiveDependency(t, ".", testutil.Either(testutil.InfraImportForbidden, testutil.DriverImportForbidden),
		"table is storage-agnostic")
}
