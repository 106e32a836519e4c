//go:build mage

package main

import (
	"os"

	"github.com/magefile/mage/mg"
	"github.com/magefile/mage/sh"
)

// Digest groups targets that drive the built CLI.
type Digest mg.Namespace

func binary() string {
	return "./" + binDir + "/" + binName
}

// subjects returns $SUBJECTS or a default category.
func subjects() string {
	if s := os.Getenv("SUBJECTS"); s != "" {
		return s
	}
	return "astro-ph.GA"
}

// Run builds the CLI and runs a file-only digest for $SUBJECTS.
func (Digest) Run() error {
	mg.Deps(Build)
	return sh.RunV(binary(), "run", "--subjects", subjects(), "--mode", "file")
}

// Plan builds the CLI and prints the batch plan for $SUBJECTS.
func (Digest) Plan() error {
	mg.Deps(Build)
	return sh.RunV(binary(), "run", "--subjects", subjects(), "--dry-run")
}

// Check builds the CLI and tests connectivity to every service.
func (Digest) Check() error {
	mg.Deps(Build)
	return sh.RunV(binary(), "check")
}

// History builds the CLI and lists recent runs.
func (Digest) History() error {
	mg.Deps(Build)
	return sh.RunV(binary(), "history")
}
