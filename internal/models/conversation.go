package models

import (
	"time"

	"go.mongodb.org/mongo-driver/bson/primitive"
)

type UnreadCount struct {
	UserID primitive.ObjectID `bson:"userId" json:"userId"`
	Count  int                `bson:"count" json:"count"`
}

// Conversation groups members; a group additionally carries a name and admins.
type Conversation struct {
	ID            primitive.ObjectID   `bson:"_id,omitempty" json:"_id"`
	Members       []primitive.ObjectID `bson:"members" json:"members"`
	LatestMessage string               `bson:"latestmessage" json:"latestmessage"`
	IsGroup       bool                 `bson:"isGroup" json:"isGroup"`
	Name          string               `bson:"name,omitempty" json:"name,omitempty"`
	Description   string               `bson:"description" json:"description"`
	GroupIcon     string               `bson:"groupIcon" json:"groupIcon"`
	CreatedBy     primitive.ObjectID   `bson:"createdBy,omitempty" json:"createdBy,omitempty"`
	Admins        []primitive.ObjectID `bson:"admins" json:"admins"`
	UnreadCounts  []UnreadCount        `bson:"unreadCounts" json:"unreadCounts"`
	CreatedAt     time.Time            `bson:"createdAt" json:"createdAt"`
	UpdatedAt     time.Time            `bson:"updatedAt" json:"updatedAt"`
	Version       int64                `bson:"version" json:"-"`
}

func (c *Conversation) HasMember(id primitive.ObjectID) bool {
	return containsID(c.Members, id)
}

func (c *Conversation) IsAdmin(id primitive.ObjectID) bool {
	return containsID(c.Admins, id)
}

// OtherMembers returns every member except id, in member order.
func (c *Conversation) OtherMembers(id primitive.ObjectID) []primitive.ObjectID {
	out := make([]primitive.ObjectID, 0, len(c.Members))
	for _, m := range c.Members {
		if m != id {
			out = append(out, m)
		}
	}
	return out
}

// AddMembers appends ids that are not members yet and gives each new member
// an unread counter.
func (c *Conversation) AddMembers(ids ...primitive.ObjectID) {
	for _, id := range ids {
		if id.IsZero() || c.HasMember(id) {
			continue
		}
		c.Members = append(c.Members, id)
	}
	c.alignUnread()
}

// RemoveMember drops id from members, admins and unread counters.
func (c *Conversation) RemoveMember(id primitive.ObjectID) {
	c.Members = removeID(c.Members, id)
	c.Admins = removeID(c.Admins, id)
	counts := c.UnreadCounts[:0]
	for _, u := range c.UnreadCounts {
		if u.UserID != id {
			counts = append(counts, u)
		}
	}
	c.UnreadCounts = counts
}

func (c *Conversation) Promote(id primitive.ObjectID) {
	if !c.IsAdmin(id) {
		c.Admins = append(c.Admins, id)
	}
}

func (c *Conversation) Demote(id primitive.ObjectID) {
	c.Admins = removeID(c.Admins, id)
}

func (c *Conversation) ResetUnread(id primitive.ObjectID) {
	for i := range c.UnreadCounts {
		if c.UnreadCounts[i].UserID == id {
			c.UnreadCounts[i].Count = 0
		}
	}
}

func (c *Conversation) IncrementUnread(id primitive.ObjectID) {
	for i := range c.UnreadCounts {
		if c.UnreadCounts[i].UserID == id {
			c.UnreadCounts[i].Count++
			return
		}
	}
	c.UnreadCounts = append(c.UnreadCounts, UnreadCount{UserID: id, Count: 1})
}

func (c *Conversation) Unread(id primitive.ObjectID) int {
	for _, u := range c.UnreadCounts {
		if u.UserID == id {
			return u.Count
		}
	}
	return 0
}

func (c *Conversation) alignUnread() {
	seen := make(map[primitive.ObjectID]bool, len(c.UnreadCounts))
	for _, u := range c.UnreadCounts {
		seen[u.UserID] = true
	}
	for _, m := range c.Members {
		if !seen[m] {
			c.UnreadCounts = append(c.UnreadCounts, UnreadCount{UserID: m})
		}
	}
}

// ConversationView is a conversation with its members resolved to profiles,
// the shape the web client renders.
type ConversationView struct {
	Conversation
	Members []*User `json:"members"`
}

func removeID(ids []primitive.ObjectID, id primitive.ObjectID) []primitive.ObjectID {
	out := ids[:0]
	for _, v := range ids {
		if v != id {
			out = append(out, v)
		}
	}
	return out
}
