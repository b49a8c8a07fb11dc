package domain

import (
	"strings"

	"github.com/ethereum/go-ethereum/common"
)

// Role is a capability bit granted to an address.
type Role uint8

const (
	RoleGovernance Role = 1 << iota
	RoleGuardian
	RoleStrategist
	RoleKeeper
)

var roleNames = []struct {
	role Role
	name string
}{
	{RoleGovernance, "governance"},
	{RoleGuardian, "guardian"},
	{RoleStrategist, "strategist"},
	{RoleKeeper, "keeper"},
}

// String lists the granted roles separated by "|".
func (r Role) String() string {
	var parts []string
	for _, rn := range roleNames {
		if r&rn.role != 0 {
			parts = append(parts, rn.name)
		}
	}
	if len(parts) == 0 {
		return "none"
	}
	return strings.Join(parts, "|")
}

// ParseRole maps a role name to its bit. Unknown names return 0.
func ParseRole(name string) Role {
	for _, rn := range roleNames {
		if strings.EqualFold(rn.name, name) {
			return rn.role
		}
	}
	return 0
}

// Caller identifies who invokes a vault operation and what they may do.
type Caller struct {
	Address common.Address
	Roles   Role
}

// Has reports whether the caller holds any of the given roles.
func (c Caller) Has(roles ...Role) bool {
	for _, r := range roles {
		if c.Roles&r != 0 {
			return true
		}
	}
	return false
}
