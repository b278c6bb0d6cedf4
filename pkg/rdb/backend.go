// Package rdb provides the public API for the relational studystore backend.
// This package exposes the factory function for creating backends while
// keeping implementation details internal.
package rdb

import (
	"github.com/mesh-intelligence/studystore/internal/rdb"
	"github.com/mesh-intelligence/studystore/pkg/types"
)

// Option configures a backend created by NewBackend.
type Option = rdb.Option

// WithLogger sets the structured logger used by the backend.
var WithLogger = rdb.WithLogger

// WithRegisterer registers the backend's Prometheus collectors with r.
var WithRegisterer = rdb.WithRegisterer

// NewBackend creates a new backend instance.
// The backend is not attached; call Attach with a Config to initialize.
//
// Example:
//
//	storage := rdb.NewBackend(rdb.WithLogger(logger))
//	err := storage.Attach(ctx, types.Config{
//	    Backend: types.BackendSQLite,
//	    DataDir: ".studystore",
//	})
//	defer storage.Detach()
//
//	session, err := storage.Acquire(ctx)
//	defer session.Release()
func NewBackend(opts ...Option) types.Storage {
	return rdb.NewBackend(opts...)
}
