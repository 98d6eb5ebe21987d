// Package model defines the domain types and value objects for the
// ojitoo-frames CLI.
//
// This package contains pure data structures with no external dependencies.
// ContainerState, RunSpec and the report types are transient: they are
// built from configuration and engine queries at runtime, and nothing is
// persisted except what the container engine itself stores.
//
// The package also defines exit codes (ExitCode) and a custom error type
// (CLIError) that carries exit codes for proper OS process exit handling.
package model
