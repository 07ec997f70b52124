package users

import (
	"strings"
	"time"
)

// User stores a local credential pair. Passwords are held only as bcrypt
// hashes.
type User struct {
	ID           uint      `gorm:"column:id;primaryKey;autoIncrement"`
	Username     string    `gorm:"column:username;uniqueIndex;size:150;not null"`
	PasswordHash string    `gorm:"column:password_hash;size:190;not null"`
	CreatedAt    time.Time `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt    time.Time `gorm:"column:updated_at;autoUpdateTime"`
}

// TableName exposes the table backing user credentials.
func (User) TableName() string {
	return "users"
}

func normalizeUsername(value string) string {
	return strings.ToLower(strings.TrimSpace(value))
}
