// Package domain holds the control-plane entities shared by the scheduler,
// the provisioner and the workload store.
package domain

import "time"

// Status is the lifecycle state of a workload in the control plane.
type Status string

const (
	StatusPending Status = "pending"
	StatusActive  Status = "active"
	StatusError   Status = "error"
)

// CountsAgainstCapacity reports whether a workload in this status occupies a
// slot on its host. Errored workloads do not hold capacity.
func (s Status) CountsAgainstCapacity() bool {
	return s == StatusActive || s == StatusPending
}

// Workload is one hosted game-server instance. HostName and PM2ProcessName
// are assigned once and never reassigned without explicit operator action;
// Status and NeedsProvision are owned by the provisioner.
type Workload struct {
	ID             string `json:"id"`
	Name           string `json:"name"`
	HostName       string `json:"hostName,omitempty"`
	PM2ProcessName string `json:"pm2ProcessName,omitempty"`
	Status         Status `json:"status"`
	NeedsProvision bool   `json:"needsProvision"`

	// Room configuration passed through to the rendered manifest.
	Map        string `json:"map,omitempty"`
	MaxPlayers int    `json:"maxPlayers"`
	Password   string `json:"password,omitempty"`
	IsPublic   bool   `json:"isPublic"`
	RoomLink   string `json:"roomLink,omitempty"`

	// Token is the game credential replayed to the remote process.
	// TokenEncrypted is the at-rest form; Token is only populated transiently.
	Token          string `json:"-"`
	TokenEncrypted string `json:"tokenEncrypted,omitempty"`

	Admins []AdminCredential `json:"admins,omitempty"`

	CreatedAt        time.Time `json:"createdAt"`
	UpdatedAt        time.Time `json:"updatedAt"`
	LastStatusUpdate time.Time `json:"lastStatusUpdate,omitempty"`
}

// AdminCredential is a workload-scoped operator secret. Only the hash is ever
// rendered into a manifest; this subsystem never validates it.
type AdminCredential struct {
	Label  string `json:"label"`
	Hash   string `json:"hash"`
	Active bool   `json:"active"`
}

// ActiveAdmins filters the credential list to the entries a manifest embeds.
func ActiveAdmins(admins []AdminCredential) []AdminCredential {
	out := make([]AdminCredential, 0, len(admins))
	for _, a := range admins {
		if a.Active {
			out = append(out, a)
		}
	}
	return out
}
