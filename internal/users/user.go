package users

import (
	"strings"
	"time"
)

// AnonymousEmail is the shared placeholder identity used when a voter
// submits without an email address. All anonymous voters resolve to the
// same user record, so the per-voter vote uniqueness constraint applies
// to them as a group.
const AnonymousEmail = "anonymous@example.com"

// AnonymousName is the display name given to the placeholder identity.
const AnonymousName = "Anonymous"

// User maps an email address to a stable identity. Records are created
// lazily the first time an email is seen and are never deleted.
type User struct {
	ID        string    `gorm:"column:id;primaryKey;size:190;not null"`
	Email     string    `gorm:"column:email;size:320;not null;uniqueIndex"`
	Name      string    `gorm:"column:name;size:320"`
	CreatedAt time.Time `gorm:"column:created_at;autoCreateTime"`
}

// TableName exposes the table backing user identities.
func (User) TableName() string {
	return "users"
}

// localPart extracts the portion of an email address before the '@'.
func localPart(email string) string {
	if at := strings.Index(email, "@"); at > 0 {
		return email[:at]
	}
	return email
}

func normalize(value string) string {
	return strings.TrimSpace(value)
}
