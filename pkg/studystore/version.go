// Package studystore holds module-wide identifiers.
package studystore

// Version is the library version recorded in the schema version row of every
// store this build initializes.
const Version = "0.3.0"

// ModulePath is the Go module path.
const ModulePath = "github.com/mesh-intelligence/studystore"
