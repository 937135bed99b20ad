package repository

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/mossy-p/conversa/internal/models"
	"go.mongodb.org/mongo-driver/bson/primitive"
)

// NewMemoryStore returns repositories backed by process memory. Documents are
// copied on the way in and out so callers never share state with the store.
func NewMemoryStore() *Store {
	return &Store{
		Users:         NewMemoryUsers(),
		Conversations: NewMemoryConversations(),
		Messages:      NewMemoryMessages(),
	}
}

type MemoryUsers struct {
	mu    sync.RWMutex
	users map[primitive.ObjectID]*models.User
}

func NewMemoryUsers() *MemoryUsers {
	return &MemoryUsers{users: make(map[primitive.ObjectID]*models.User)}
}

func (r *MemoryUsers) Create(_ context.Context, u *models.User) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	u.Email = strings.ToLower(strings.TrimSpace(u.Email))
	for _, existing := range r.users {
		if existing.Email == u.Email {
			return ErrDuplicate
		}
	}
	now := time.Now().UTC()
	if u.ID.IsZero() {
		u.ID = primitive.NewObjectID()
	}
	u.CreatedAt, u.UpdatedAt = now, now
	if u.BlockedUsers == nil {
		u.BlockedUsers = []primitive.ObjectID{}
	}
	r.users[u.ID] = cloneUser(u)
	return nil
}

func (r *MemoryUsers) GetByID(_ context.Context, id primitive.ObjectID) (*models.User, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	u, ok := r.users[id]
	if !ok {
		return nil, ErrNotFound
	}
	return cloneUser(u), nil
}

func (r *MemoryUsers) GetByEmail(_ context.Context, email string) (*models.User, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	email = strings.ToLower(strings.TrimSpace(email))
	for _, u := range r.users {
		if u.Email == email {
			return cloneUser(u), nil
		}
	}
	return nil, ErrNotFound
}

func (r *MemoryUsers) GetMany(_ context.Context, ids []primitive.ObjectID) ([]*models.User, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := []*models.User{}
	for _, id := range ids {
		if u, ok := r.users[id]; ok {
			out = append(out, cloneUser(u))
		}
	}
	return out, nil
}

func (r *MemoryUsers) Update(_ context.Context, id primitive.ObjectID, upd UserUpdate) (*models.User, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	u, ok := r.users[id]
	if !ok {
		return nil, ErrNotFound
	}
	if upd.Name != nil {
		u.Name = *upd.Name
	}
	if upd.Username != nil {
		u.Username = strings.ToLower(*upd.Username)
	}
	if upd.About != nil {
		u.About = *upd.About
	}
	if upd.Phone != nil {
		u.Phone = *upd.Phone
	}
	if upd.ProfilePic != nil {
		u.ProfilePic = *upd.ProfilePic
	}
	if upd.CoverPhoto != nil {
		u.CoverPhoto = *upd.CoverPhoto
	}
	if upd.Privacy != nil {
		u.Privacy = *upd.Privacy
	}
	if upd.ThemePreference != nil {
		u.ThemePreference = *upd.ThemePreference
	}
	u.UpdatedAt = time.Now().UTC()
	return cloneUser(u), nil
}

func (r *MemoryUsers) SetOnline(_ context.Context, id primitive.ObjectID, online bool, lastSeen time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	u, ok := r.users[id]
	if !ok {
		return ErrNotFound
	}
	u.IsOnline = online
	if !online {
		u.LastSeen = &lastSeen
	}
	return nil
}

func (r *MemoryUsers) Search(_ context.Context, query string, exclude []primitive.ObjectID, limit int64) ([]*models.User, error) {
	q := strings.ToLower(strings.TrimSpace(query))
	return r.filter(exclude, limit, func(u *models.User) bool {
		return strings.Contains(strings.ToLower(u.Name), q) ||
			strings.Contains(u.Username, q) ||
			strings.Contains(u.Email, q)
	}), nil
}

func (r *MemoryUsers) ListExcept(_ context.Context, exclude []primitive.ObjectID, limit int64) ([]*models.User, error) {
	return r.filter(exclude, limit, func(*models.User) bool { return true }), nil
}

func (r *MemoryUsers) filter(exclude []primitive.ObjectID, limit int64, keep func(*models.User) bool) []*models.User {
	r.mu.RLock()
	defer r.mu.RUnlock()

	skip := make(map[primitive.ObjectID]bool, len(exclude))
	for _, id := range exclude {
		skip[id] = true
	}
	out := []*models.User{}
	for _, u := range r.users {
		if !skip[u.ID] && keep(u) {
			out = append(out, cloneUser(u))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	if limit > 0 && int64(len(out)) > limit {
		out = out[:limit]
	}
	return out
}

func (r *MemoryUsers) SetBlocked(_ context.Context, id, target primitive.ObjectID, blocked bool) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	u, ok := r.users[id]
	if !ok {
		return ErrNotFound
	}
	if blocked {
		if !u.HasBlocked(target) {
			u.BlockedUsers = append(u.BlockedUsers, target)
		}
		return nil
	}
	kept := u.BlockedUsers[:0]
	for _, b := range u.BlockedUsers {
		if b != target {
			kept = append(kept, b)
		}
	}
	u.BlockedUsers = kept
	return nil
}

type MemoryConversations struct {
	mu    sync.RWMutex
	convs map[primitive.ObjectID]*models.Conversation
}

func NewMemoryConversations() *MemoryConversations {
	return &MemoryConversations{convs: make(map[primitive.ObjectID]*models.Conversation)}
}

func (r *MemoryConversations) Create(_ context.Context, c *models.Conversation) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := time.Now().UTC()
	if c.ID.IsZero() {
		c.ID = primitive.NewObjectID()
	}
	c.CreatedAt, c.UpdatedAt = now, now
	normalizeConversation(c)
	r.convs[c.ID] = cloneConversation(c)
	return nil
}

func (r *MemoryConversations) GetByID(_ context.Context, id primitive.ObjectID) (*models.Conversation, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	c, ok := r.convs[id]
	if !ok {
		return nil, ErrNotFound
	}
	return cloneConversation(c), nil
}

func (r *MemoryConversations) FindDirect(_ context.Context, ids []primitive.ObjectID) (*models.Conversation, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	for _, c := range r.sorted() {
		if c.IsGroup {
			continue
		}
		all := true
		for _, id := range ids {
			if !c.HasMember(id) {
				all = false
				break
			}
		}
		if all {
			return cloneConversation(c), nil
		}
	}
	return nil, ErrNotFound
}

func (r *MemoryConversations) ListForUser(_ context.Context, userID primitive.ObjectID) ([]*models.Conversation, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := []*models.Conversation{}
	for _, c := range r.sorted() {
		if c.HasMember(userID) {
			out = append(out, cloneConversation(c))
		}
	}
	return out, nil
}

func (r *MemoryConversations) Save(_ context.Context, c *models.Conversation, touch bool) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	stored, ok := r.convs[c.ID]
	if !ok {
		return ErrNotFound
	}
	if stored.Version != c.Version {
		return ErrStale
	}
	if touch {
		c.UpdatedAt = time.Now().UTC()
	}
	c.Version++
	normalizeConversation(c)
	r.convs[c.ID] = cloneConversation(c)
	return nil
}

func (r *MemoryConversations) RecordMessage(_ context.Context, id primitive.ObjectID, preview string, unread []primitive.ObjectID, touch bool) (*models.Conversation, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	c, ok := r.convs[id]
	if !ok {
		return nil, ErrNotFound
	}
	for _, u := range unread {
		if c.HasMember(u) {
			c.IncrementUnread(u)
		}
	}
	c.LatestMessage = preview
	if touch {
		c.UpdatedAt = time.Now().UTC()
	}
	c.Version++
	return cloneConversation(c), nil
}

func (r *MemoryConversations) ResetUnread(_ context.Context, id, userID primitive.ObjectID) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if c, ok := r.convs[id]; ok {
		c.ResetUnread(userID)
		c.Version++
	}
	return nil
}

func (r *MemoryConversations) Delete(_ context.Context, id primitive.ObjectID) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.convs[id]; !ok {
		return ErrNotFound
	}
	delete(r.convs, id)
	return nil
}

// sorted returns conversations by updatedAt, newest first. Caller holds mu.
func (r *MemoryConversations) sorted() []*models.Conversation {
	out := make([]*models.Conversation, 0, len(r.convs))
	for _, c := range r.convs {
		out = append(out, c)
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].UpdatedAt.After(out[j].UpdatedAt) })
	return out
}

type MemoryMessages struct {
	mu   sync.RWMutex
	msgs []*models.Message
}

func NewMemoryMessages() *MemoryMessages {
	return &MemoryMessages{}
}

func (r *MemoryMessages) Create(_ context.Context, m *models.Message) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := time.Now().UTC()
	if m.ID.IsZero() {
		m.ID = primitive.NewObjectID()
	}
	if m.CreatedAt.IsZero() {
		m.CreatedAt = now
	}
	m.UpdatedAt = now
	if m.SeenBy == nil {
		m.SeenBy = []models.SeenEntry{}
	}
	if m.DeletedFrom == nil {
		m.DeletedFrom = []primitive.ObjectID{}
	}
	r.msgs = append(r.msgs, cloneMessage(m))
	return nil
}

func (r *MemoryMessages) GetByID(_ context.Context, id primitive.ObjectID) (*models.Message, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if m := r.get(id); m != nil {
		return cloneMessage(m), nil
	}
	return nil, ErrNotFound
}

func (r *MemoryMessages) ListVisible(_ context.Context, conversationID, userID primitive.ObjectID) ([]*models.Message, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := []*models.Message{}
	for _, m := range r.msgs {
		if m.ConversationID == conversationID && !m.DeletedFor(userID) {
			out = append(out, cloneMessage(m))
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (r *MemoryMessages) Recent(_ context.Context, conversationID primitive.ObjectID, limit int64) ([]*models.Message, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := []*models.Message{}
	for i := len(r.msgs) - 1; i >= 0; i-- {
		if r.msgs[i].ConversationID == conversationID {
			out = append(out, cloneMessage(r.msgs[i]))
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	if limit > 0 && int64(len(out)) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (r *MemoryMessages) MarkSeen(_ context.Context, ids []primitive.ObjectID, userID primitive.ObjectID, at time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, id := range ids {
		if m := r.get(id); m != nil {
			m.MarkSeen(userID, at)
		}
	}
	return nil
}

func (r *MemoryMessages) AddDeletedFrom(_ context.Context, id primitive.ObjectID, users []primitive.ObjectID) (*models.Message, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	m := r.get(id)
	if m == nil {
		return nil, ErrNotFound
	}
	for _, u := range users {
		if !m.DeletedFor(u) {
			m.DeletedFrom = append(m.DeletedFrom, u)
		}
	}
	m.UpdatedAt = time.Now().UTC()
	return cloneMessage(m), nil
}

func (r *MemoryMessages) DeleteByConversation(_ context.Context, conversationID primitive.ObjectID) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	kept := r.msgs[:0]
	for _, m := range r.msgs {
		if m.ConversationID != conversationID {
			kept = append(kept, m)
		}
	}
	r.msgs = kept
	return nil
}

// get finds a stored message by id. Caller holds mu.
func (r *MemoryMessages) get(id primitive.ObjectID) *models.Message {
	for _, m := range r.msgs {
		if m.ID == id {
			return m
		}
	}
	return nil
}

func cloneUser(u *models.User) *models.User {
	out := *u
	out.BlockedUsers = append([]primitive.ObjectID{}, u.BlockedUsers...)
	if u.LastSeen != nil {
		t := *u.LastSeen
		out.LastSeen = &t
	}
	return &out
}

func cloneConversation(c *models.Conversation) *models.Conversation {
	out := *c
	out.Members = append([]primitive.ObjectID{}, c.Members...)
	out.Admins = append([]primitive.ObjectID{}, c.Admins...)
	out.UnreadCounts = append([]models.UnreadCount{}, c.UnreadCounts...)
	return &out
}

func cloneMessage(m *models.Message) *models.Message {
	out := *m
	out.SeenBy = append([]models.SeenEntry{}, m.SeenBy...)
	out.DeletedFrom = append([]primitive.ObjectID{}, m.DeletedFrom...)
	out.ClientID = ""
	return &out
}
