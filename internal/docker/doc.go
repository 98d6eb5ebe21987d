// Package docker provides Docker Engine API wrappers for the ojitoo-frames
// deployment commands.
//
// This package handles:
//   - client initialization with DOCKER_HOST support or socket detection
//   - image builds from a local context directory (.dockerignore aware)
//   - the single-container lifecycle used by deploy: remove, create+start,
//     inspect, log tailing
//   - docker compose down/build/up for redeploy, run as a child process
//   - management labels that record how a container was deployed
//
// The package uses github.com/docker/docker/client as the underlying
// SDK, with API version negotiation enabled.
package docker
