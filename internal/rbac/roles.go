package rbac

// Role names. Keep these stable; they are part of auth/RBAC contracts.
const (
	RoleOwner      = "owner"
	RoleAdmin      = "admin"
	RoleAgent      = "agent"
	RoleAnalyst    = "analyst"
	RoleSuperAdmin = "super_admin"
)

// Capability is one operation a role may perform.
type Capability string

const (
	CapPlaceCalls      Capability = "calls:place"
	CapSendMessages    Capability = "messages:send"
	CapReadMessages    Capability = "messages:read"
	CapConfigureTenant Capability = "tenant:configure"
	CapManageNumbers   Capability = "numbers:manage"
)

// policy maps each role to its capabilities. super_admin is not listed; it holds every capability.
var policy = map[string][]Capability{
	RoleOwner:   {CapPlaceCalls, CapSendMessages, CapReadMessages, CapConfigureTenant, CapManageNumbers},
	RoleAdmin:   {CapPlaceCalls, CapSendMessages, CapReadMessages, CapConfigureTenant, CapManageNumbers},
	RoleAgent:   {CapPlaceCalls, CapSendMessages, CapReadMessages},
	RoleAnalyst: {CapReadMessages},
}

func IsSuperAdmin(role string) bool { return role == RoleSuperAdmin }

// Allows reports whether role holds capability. Unknown roles hold nothing.
func Allows(role string, capability Capability) bool {
	if IsSuperAdmin(role) {
		return true
	}
	for _, c := range policy[role] {
		if c == capability {
			return true
		}
	}
	return false
}
