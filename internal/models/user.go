package models

import (
	"time"

	"github.com/google/uuid"
)

// Role is an open enumeration: the accepted set is configured on the auth service
type Role string

const (
	RoleUser  Role = "User"
	RoleAdmin Role = "Admin"
)

// Roles accepted on registration if nothing else is configured
var DefaultRoles = []Role{RoleUser, RoleAdmin}

type User struct {
	ID           uuid.UUID
	CreatedAt    time.Time
	Email        string
	Username     string
	PasswordHash string
	Role         Role
	Phone        string
	Address      string
	LastLoginAt  *time.Time // nil until the first password login
}
