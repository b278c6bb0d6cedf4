// Package types defines the Storage and Session interfaces, the trial and
// study entity types, parameter distributions, and the standard errors of the
// studystore persistence layer.
package types
