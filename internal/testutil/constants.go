// Package testutil provides builders, stubs, and helpers shared by tests
package testutil

import "time"

const (
	// TestTimeout is the default timeout for test operations
	TestTimeout = 30 * time.Second

	// TestProject is the catalog used by generated table IDs
	TestProject = "test-project"

	// TestDataset is the schema used by generated tables
	TestDataset = "analytics"

	// TestDimensions is the vector size used by stub providers
	TestDimensions = 4
)
