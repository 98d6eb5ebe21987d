package config

import (
	"errors"
	"fmt"
	"os"
	"sort"

	"github.com/joho/godotenv"

	"github.com/ojitoo/ojitoo-frames/internal/model"
)

// EnvFileExists reports whether the environment file is present. It is
// checked before any install or build step so that a missing file fails
// the env-aware deploy without side effects.
func EnvFileExists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && !info.IsDir()
}

// ReadEnvFile parses a dotenv file into sorted KEY=VALUE pairs suitable
// for a container's environment.
//
// A missing file is reported with ExitGeneralError (the env-aware deploy's
// explicit "exit 1"); a malformed file with ExitConfigInvalid.
func ReadEnvFile(path string) ([]string, error) {
	values, err := godotenv.Read(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, model.WrapCLIError(model.ExitGeneralError,
				fmt.Sprintf("Environment file %s not found", path), err)
		}
		return nil, model.WrapCLIError(model.ExitConfigInvalid,
			fmt.Sprintf("failed to parse environment file %s", path), err)
	}

	// Sort for a deterministic container config; map iteration order
	// would otherwise change the env list on every deploy.
	keys := make([]string, 0, len(values))
	for k := range values {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	env := make([]string, 0, len(keys))
	for _, k := range keys {
		env = append(env, k+"="+values[k])
	}
	return env, nil
}
