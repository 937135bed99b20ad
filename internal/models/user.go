package models

import (
	"strings"
	"time"

	"go.mongodb.org/mongo-driver/bson/primitive"
)

const DefaultProfilePic = "https://ui-avatars.com/api/?name=Conversa&background=random&bold=true"

// ThemePreference is stored for the web client; the server does not interpret it.
type ThemePreference string

const (
	ThemeSystem ThemePreference = "system"
	ThemeLight  ThemePreference = "light"
	ThemeDark   ThemePreference = "dark"
)

type Privacy struct {
	ShowLastSeen     bool `bson:"showLastSeen" json:"showLastSeen"`
	ShowProfilePhoto bool `bson:"showProfilePhoto" json:"showProfilePhoto"`
	ShowAbout        bool `bson:"showAbout" json:"showAbout"`
	ReadReceipts     bool `bson:"readReceipts" json:"readReceipts"`
}

func DefaultPrivacy() Privacy {
	return Privacy{ShowLastSeen: true, ShowProfilePhoto: true, ShowAbout: true, ReadReceipts: true}
}

type User struct {
	ID              primitive.ObjectID   `bson:"_id,omitempty" json:"_id"`
	Name            string               `bson:"name" json:"name"`
	Username        string               `bson:"username,omitempty" json:"username,omitempty"`
	About           string               `bson:"about" json:"about"`
	Phone           string               `bson:"phone" json:"phone"`
	Email           string               `bson:"email" json:"email"`
	Password        string               `bson:"password" json:"-"`
	ProfilePic      string               `bson:"profilePic" json:"profilePic"`
	CoverPhoto      string               `bson:"coverPhoto" json:"coverPhoto"`
	IsOnline        bool                 `bson:"isOnline" json:"isOnline"`
	LastSeen        *time.Time           `bson:"lastSeen,omitempty" json:"lastSeen,omitempty"`
	Privacy         Privacy              `bson:"privacy" json:"privacy"`
	BlockedUsers    []primitive.ObjectID `bson:"blockedUsers" json:"blockedUsers"`
	ThemePreference ThemePreference      `bson:"themePreference" json:"themePreference"`
	CreatedAt       time.Time            `bson:"createdAt" json:"createdAt"`
	UpdatedAt       time.Time            `bson:"updatedAt" json:"updatedAt"`
}

// IsBot reports whether the account is answered by the AI responder.
func (u *User) IsBot() bool {
	return strings.HasSuffix(u.Email, "bot")
}

func (u *User) HasBlocked(id primitive.ObjectID) bool {
	return containsID(u.BlockedUsers, id)
}

// VisibleTo returns the profile as viewer may see it. The owner sees
// everything; everyone else gets the fields the privacy settings allow.
func (u *User) VisibleTo(viewer primitive.ObjectID) *User {
	out := *u
	if viewer == u.ID {
		return &out
	}
	out.BlockedUsers = nil
	if !u.Privacy.ShowLastSeen {
		out.LastSeen = nil
	}
	if !u.Privacy.ShowProfilePhoto {
		out.ProfilePic = DefaultProfilePic
		out.CoverPhoto = ""
	}
	if !u.Privacy.ShowAbout {
		out.About = ""
	}
	return &out
}

func containsID(ids []primitive.ObjectID, id primitive.ObjectID) bool {
	for _, v := range ids {
		if v == id {
			return true
		}
	}
	return false
}
