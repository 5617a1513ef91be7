package models

import (
	"fmt"
	"strings"
)

// UserRole is the closed set of roles recognised by the platform.
type UserRole string

const (
	RoleStudent     UserRole = "STUDENT"
	RoleTutor       UserRole = "TUTOR"
	RoleCoordinator UserRole = "COORDINATOR"
	RoleAdmin       UserRole = "ADMIN"
)

// Roles lists every valid role.
var Roles = []UserRole{RoleStudent, RoleTutor, RoleCoordinator, RoleAdmin}

// Valid reports whether r is one of the known roles.
func (r UserRole) Valid() bool {
	switch r {
	case RoleStudent, RoleTutor, RoleCoordinator, RoleAdmin:
		return true
	}
	return false
}

// Supervisor reports whether the role may act on sessions it does not take part in.
func (r UserRole) Supervisor() bool {
	return r == RoleCoordinator || r == RoleAdmin
}

// ParseRole converts user input into a UserRole.
func ParseRole(raw string) (UserRole, error) {
	role := UserRole(strings.ToUpper(strings.TrimSpace(raw)))
	if !role.Valid() {
		return "", fmt.Errorf("unknown role %q", raw)
	}
	return role, nil
}

// Pagination contains pagination metadata returned in list responses.
type Pagination struct {
	Page       int `json:"page"`
	PageSize   int `json:"page_size"`
	TotalCount int `json:"total_count"`
}

// NewPagination normalises paging input the same way list queries do.
func NewPagination(page, size, total int) *Pagination {
	if page < 1 {
		page = 1
	}
	if size <= 0 {
		size = 20
	}
	return &Pagination{Page: page, PageSize: size, TotalCount: total}
}
