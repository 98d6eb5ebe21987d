// Package port checks host port availability for the deploy command.
//
// The deployed container publishes one fixed host port. Before the new
// container is started, deploy verifies with a Scanner that the port was
// released by the container it just removed, so a conflicting process is
// reported with a clear message instead of an opaque engine error.
package port
