package models

import "time"

const (
	RoleStudent   = "student"
	RoleStaff     = "staff"
	RoleModerator = "moderator"
)

type User struct {
	ID           int64     `json:"id"`
	Email        string    `json:"email"`
	PasswordHash string    `json:"-"`
	Role         string    `json:"role"`
	DisplayName  string    `json:"display_name"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

func ValidRole(role string) bool {
	switch role {
	case RoleStudent, RoleStaff, RoleModerator:
		return true
	default:
		return false
	}
}

// Session identifies the authenticated caller. It is built once per request
// from the verified token and handed to every service call.
type Session struct {
	UserID int64
	Role   string
}

func (s Session) Valid() bool {
	return s.UserID > 0 && ValidRole(s.Role)
}

type PaginationMeta struct {
	Page       int `json:"page"`
	Limit      int `json:"limit"`
	Total      int `json:"total"`
	TotalPages int `json:"total_pages"`
}
