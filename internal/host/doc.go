// Package host inspects and prepares the machine a deploy runs on.
//
// It answers three questions before anything is built: is the process
// privileged, is a GPU usable, and is the container engine installed
// (installing it via the official convenience script when it is not).
//
// Every probe takes its side-effecting primitives (command runner,
// PATH lookup, HTTP client) as struct fields so that tests can replace
// them without touching the real host.
package host
