package users

import (
	"strings"
	"time"
)

// Identity maps a provider-specific subject to a canonical Funil operator id.
type Identity struct {
	Provider    string    `gorm:"column:provider;primaryKey;size:64;not null"`
	Subject     string    `gorm:"column:subject;primaryKey;size:190;not null"`
	OperatorID  string    `gorm:"column:operator_id;size:190;not null;index"`
	Email       string    `gorm:"column:email;size:320"`
	DisplayName string    `gorm:"column:display_name;size:320"`
	AvatarURL   string    `gorm:"column:avatar_url;size:512"`
	LastSeenAt  time.Time `gorm:"column:last_seen_at;autoUpdateTime"`
	CreatedAt   time.Time `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt   time.Time `gorm:"column:updated_at;autoUpdateTime"`
}

// TableName exposes the table backing operator identities.
func (Identity) TableName() string {
	return "operator_identities"
}

func normalize(value string) string {
	return strings.TrimSpace(value)
}
