package docker

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Label keys recorded on every container started by deploy. They let the
// status command explain how the running container was started without
// any state file on disk.
//
// All keys share the "ojitoo." prefix to avoid collisions with labels set
// by compose or the image itself.
const (
	// LabelPrefix is the common prefix for all ojitoo-frames labels.
	LabelPrefix = "ojitoo."

	// LabelManagedBy identifies containers started by this CLI.
	// Value: always ManagedByValue.
	LabelManagedBy = LabelPrefix + "managed-by"

	// LabelGPU records whether GPU passthrough was requested ("true"/"false").
	LabelGPU = LabelPrefix + "gpu"

	// LabelEnvFile records the environment file the container was started
	// with. Absent for the plain first-run deploy.
	LabelEnvFile = LabelPrefix + "env-file"

	// LabelHostPort records the published host port.
	LabelHostPort = LabelPrefix + "host-port"

	// LabelDeployedAt stores the RFC3339 UTC timestamp of the deploy.
	LabelDeployedAt = LabelPrefix + "deployed-at"
)

// ManagedByValue is the constant value of LabelManagedBy.
const ManagedByValue = "ojitoo-frames"

// DeployInfo is the deploy metadata carried in container labels.
type DeployInfo struct {
	GPU        bool      `json:"gpu"`
	EnvFile    string    `json:"envFile,omitempty"`
	HostPort   int       `json:"hostPort"`
	DeployedAt time.Time `json:"deployedAt"`
}

// BuildLabels encodes info as container labels.
func BuildLabels(info DeployInfo) map[string]string {
	labels := map[string]string{
		LabelManagedBy:  ManagedByValue,
		LabelGPU:        strconv.FormatBool(info.GPU),
		LabelHostPort:   strconv.Itoa(info.HostPort),
		LabelDeployedAt: info.DeployedAt.UTC().Format(time.RFC3339),
	}
	if info.EnvFile != "" {
		labels[LabelEnvFile] = info.EnvFile
	}
	return labels
}

// IsManaged reports whether labels mark a container started by this CLI.
func IsManaged(labels map[string]string) bool {
	return labels[LabelManagedBy] == ManagedByValue
}

// ParseLabels is the inverse of BuildLabels. It fails when the container
// is not managed by this CLI or a label value is malformed, listing every
// missing key at once.
func ParseLabels(labels map[string]string) (*DeployInfo, error) {
	requiredKeys := []string{LabelManagedBy, LabelGPU, LabelHostPort, LabelDeployedAt}

	var missing []string
	for _, key := range requiredKeys {
		if _, ok := labels[key]; !ok {
			missing = append(missing, key)
		}
	}
	if len(missing) > 0 {
		return nil, fmt.Errorf("missing required Docker labels: %s", strings.Join(missing, ", "))
	}

	if !IsManaged(labels) {
		return nil, fmt.Errorf("label %s has unexpected value %q (expected %q)",
			LabelManagedBy, labels[LabelManagedBy], ManagedByValue)
	}

	gpu, err := strconv.ParseBool(labels[LabelGPU])
	if err != nil {
		return nil, fmt.Errorf("invalid label %s: %w", LabelGPU, err)
	}

	hostPort, err := strconv.Atoi(labels[LabelHostPort])
	if err != nil {
		return nil, fmt.Errorf("invalid label %s: %w", LabelHostPort, err)
	}

	deployedAt, err := time.Parse(time.RFC3339, labels[LabelDeployedAt])
	if err != nil {
		return nil, fmt.Errorf("invalid label %s: %w", LabelDeployedAt, err)
	}

	return &DeployInfo{
		GPU:        gpu,
		EnvFile:    labels[LabelEnvFile],
		HostPort:   hostPort,
		DeployedAt: deployedAt,
	}, nil
}
