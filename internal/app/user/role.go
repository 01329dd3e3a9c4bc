package user

import (
	"fmt"
	"os"
	"slices"

	"gopkg.in/yaml.v3"
)

// Role is a named rank in the role hierarchy.
type Role string

const (
	RoleOwner     Role = "INHABER"
	RoleAdmin     Role = "ADMIN"
	RoleTeamLead  Role = "TEAMLEITER"
	RoleModerator Role = "MOD"
	RoleJuniorMod Role = "JUNIORMOD"
	RoleUser      Role = "USER"
)

// roleOrder lists the hierarchy from highest to lowest rank.
var roleOrder = []Role{RoleOwner, RoleAdmin, RoleTeamLead, RoleModerator, RoleJuniorMod, RoleUser}

// PrivilegedRole is the lowest role allowed into locked rooms.
const PrivilegedRole = RoleModerator

func rank(r Role) int {
	return slices.Index(roleOrder, r)
}

// Valid reports whether r is part of the hierarchy.
func (r Role) Valid() bool {
	return rank(r) >= 0
}

// AtLeast reports whether r ranks at or above required. Unknown roles rank below everything.
func (r Role) AtLeast(required Role) bool {
	have, want := rank(r), rank(required)
	if have < 0 || want < 0 {
		return false
	}
	return have <= want
}

// Privileged reports whether r may enter locked rooms.
func (r Role) Privileged() bool {
	return r.AtLeast(PrivilegedRole)
}

// RoleBook maps exact display names to roles. It is read-only after construction.
type RoleBook struct {
	roles map[string]Role
}

// DefaultRoleBook returns the built-in assignments.
func DefaultRoleBook() *RoleBook {
	return &RoleBook{roles: map[string]Role{"MAXX": RoleAdmin}}
}

// NewRoleBook validates assignments and builds a RoleBook.
func NewRoleBook(assignments map[string]Role) (*RoleBook, error) {
	roles := make(map[string]Role, len(assignments))
	for name, role := range assignments {
		if !role.Valid() {
			return nil, fmt.Errorf("user %q has unknown role %q", name, role)
		}
		roles[name] = role
	}
	return &RoleBook{roles: roles}, nil
}

type rolesFile struct {
	Roles map[string]Role `yaml:"roles"`
}

// LoadRoles reads a YAML file of the form `roles: {MAXX: ADMIN}`.
func LoadRoles(path string) (*RoleBook, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read roles: %w", err)
	}

	var file rolesFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("parse roles %s: %w", path, err)
	}

	return NewRoleBook(file.Roles)
}

// Resolve returns the role assigned to username, RoleUser otherwise. Names match exactly.
func (b *RoleBook) Resolve(username string) Role {
	if b == nil {
		return RoleUser
	}
	if role, ok := b.roles[username]; ok {
		return role
	}
	return RoleUser
}
