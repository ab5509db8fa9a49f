package models

import "strings"

type Role string

const (
	RoleUser  Role = "User"
	RoleAdmin Role = "Admin"
)

type UserStatus string

const (
	UserPending UserStatus = "pending"
	UserActive  UserStatus = "active"
	UserBlocked UserStatus = "blocked"
)

// User: запись users.json; UserID совпадает с Telegram ID.
type User struct {
	UserID      int64      `json:"user_id"`
	Username    string     `json:"username"`
	FirstName   string     `json:"first_name"`
	LastName    string     `json:"last_name"`
	DisplayName string     `json:"display_name,omitempty"`
	Role        Role       `json:"role"`
	Status      UserStatus `json:"status"`
	GroupID     *int64     `json:"group_id,omitempty"`
	Phone       string     `json:"phone,omitempty"`
}

// FullName: имя для сообщений и логов.
func (u *User) FullName() string {
	if u == nil {
		return "Неизвестно"
	}
	if u.DisplayName != "" {
		return u.DisplayName
	}
	name := strings.TrimSpace(u.FirstName + " " + u.LastName)
	if name == "" {
		if u.Username != "" {
			return "@" + u.Username
		}
		return "Неизвестно"
	}
	return name
}

// IsActive учитывает устаревший статус "approved" из старых файлов.
func (u *User) IsActive() bool {
	return u.Status == UserActive || u.Status == "approved"
}

func (u *User) InGroup(groupID int64) bool {
	return u.GroupID != nil && *u.GroupID == groupID
}

// Profile: данные о пользователе чата, которые приходят вместе с событием.
type Profile struct {
	ID        int64
	Username  string
	FirstName string
	LastName  string
}
