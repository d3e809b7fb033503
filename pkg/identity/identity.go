package identity

import (
	"github.com/denisbrodbeck/machineid"
)

// HostID returns a stable, app-scoped identifier for this host. Agents and
// the admin surface use it to tell server instances apart across restarts.
func HostID() (string, error) {
	return machineid.ProtectedID("genx-core")
}
