package host

import (
	"os"

	"github.com/ojitoo/ojitoo-frames/internal/model"
)

// PrivilegeMessage is printed when a deploy is started without root.
const PrivilegeMessage = "Please run as root (use sudo)"

// Privilege checks the effective user ID of the process.
type Privilege struct {
	// Geteuid returns the effective UID. Defaults to os.Geteuid.
	Geteuid func() int
}

// RequireRoot returns an ExitGeneralError CLIError carrying
// PrivilegeMessage unless the process runs as UID 0.
func (p Privilege) RequireRoot() error {
	geteuid := p.Geteuid
	if geteuid == nil {
		geteuid = os.Geteuid
	}
	if geteuid() != 0 {
		return model.NewCLIError(model.ExitGeneralError, PrivilegeMessage)
	}
	return nil
}
