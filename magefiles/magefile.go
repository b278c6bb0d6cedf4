//go:build mage

// Package main provides build targets for the studystore project using Mage.
//
// Usage:
//
//	mage build          Compile studystore binary to bin/
//	mage test:all       Run all tests
//	mage test:unit      Run tests without the race detector or cache
//	mage test:race      Run all tests with the race detector
//	mage golden         Regenerate the schema golden files
//	mage lint           Run golangci-lint
//	mage clean          Remove build artifacts
//	mage install        Install studystore to GOPATH/bin
package main

import (
	"os"
	"path/filepath"

	"github.com/magefile/mage/mg"
	"github.com/magefile/mage/sh"
)

const (
	binGo      = "go"
	binaryName = "studystore"
	binaryDir  = "bin"
	cmdDir     = "./cmd/studystore"
)

// Build compiles the studystore binary to bin/.
func Build() error {
	if err := os.MkdirAll(binaryDir, 0o755); err != nil {
		return err
	}
	return sh.RunV(binGo, "build", "-v", "-o", filepath.Join(binaryDir, binaryName), cmdDir)
}

// Test groups test targets.
type Test mg.Namespace

// All runs every package's tests.
func (Test) All() error {
	return sh.RunV(binGo, "test", "-v", "./...")
}

// Unit runs every package's tests uncached.
func (Test) Unit() error {
	return sh.RunV(binGo, "test", "-count=1", "./...")
}

// Race runs the tests with the race detector. The concurrent worker tests
// in internal/rdb are the ones that matter here.
func (Test) Race() error {
	return sh.RunV(binGo, "test", "-race", "-count=1", "./...")
}

// Golden rewrites internal/rdb/testdata/golden from the current DDL.
func Golden() error {
	return sh.RunV(binGo, "test", "./internal/rdb", "-run", "TestSchemaDDL_Golden", "-update")
}

// Lint runs golangci-lint.
func Lint() error {
	return sh.RunV("golangci-lint", "run", "./...")
}

// Clean removes build artifacts.
func Clean() error {
	if err := os.RemoveAll(binaryDir); err != nil {
		return err
	}
	return sh.RunV(binGo, "clean")
}

// Install builds and copies the binary to GOPATH/bin.
func Install() error {
	mg.Deps(Build)
	gopath, err := sh.Output(binGo, "env", "GOPATH")
	if err != nil {
		return err
	}
	src := filepath.Join(binaryDir, binaryName)
	dst := filepath.Join(gopath, "bin", binaryName)
	return sh.Copy(dst, src)
}
