package turn

import "time"

// DefaultLifetime is the allocation lifetime requested on Allocate and
// Refresh, absent server override (RFC 5766 §2.2 suggests 600s default).
const DefaultLifetime = 600 * time.Second

// PermissionLifetime is how long a CreatePermission authorizes traffic to
// a peer before it must be refreshed (RFC 5766 §8).
const PermissionLifetime = 300 * time.Second

// PermissionLeeway is subtracted from PermissionLifetime to decide when a
// Channel must be re-bound before further use (spec.md §3 Channel
// invariant).
const PermissionLeeway = 60 * time.Second

// RefreshLeeway is how long before allocation expiry a Refresh is sent.
const RefreshLeeway = 60 * time.Second

// AllocationConfig parameterizes an Allocation's lifecycle.
type AllocationConfig struct {
	ServerAddr string
	Username   string
	Password   string
	Lifetime   time.Duration
}

// DefaultAllocationConfig returns sensible defaults with the given server
// and long-term credentials.
func DefaultAllocationConfig(serverAddr, username, password string) AllocationConfig {
	return AllocationConfig{
		ServerAddr: serverAddr,
		Username:   username,
		Password:   password,
		Lifetime:   DefaultLifetime,
	}
}
