// services/caller.go
package services

// RoleAdmin grants access to maintenance operations.
const RoleAdmin = "admin"

// SystemCallerID identifies jobs the service runs on its own behalf.
const SystemCallerID = "system:scheduler"

// Caller is the identity the gateway vouched for, plus the funds attached to
// the request.
type Caller struct {
	ID      string
	Roles   []string
	Deposit uint64
}

func (c Caller) HasRole(role string) bool {
	for _, r := range c.Roles {
		if r == role {
			return true
		}
	}
	return false
}

// SystemCaller is used by the scheduled cleaner.
func SystemCaller() Caller {
	return Caller{ID: SystemCallerID, Roles: []string{RoleAdmin}}
}
