package repository

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/mossy-p/conversa/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/bson/primitive"
)

func TestMemoryUsersDuplicateEmail(t *testing.T) {
	ctx := context.Background()
	users := NewMemoryUsers()

	require.NoError(t, users.Create(ctx, &models.User{Name: "Ada", Email: "Ada@Example.com"}))
	err := users.Create(ctx, &models.User{Name: "Ada Two", Email: "ada@example.com "})
	assert.ErrorIs(t, err, ErrDuplicate)

	u, err := users.GetByEmail(ctx, "ADA@example.com")
	require.NoError(t, err)
	assert.Equal(t, "Ada", u.Name)
}

func TestMemoryUsersReturnCopies(t *testing.T) {
	ctx := context.Background()
	users := NewMemoryUsers()
	u := &models.User{Name: "Ada", Email: "ada@example.com"}
	require.NoError(t, users.Create(ctx, u))

	got, err := users.GetByID(ctx, u.ID)
	require.NoError(t, err)
	got.Name = "mutated"

	again, err := users.GetByID(ctx, u.ID)
	require.NoError(t, err)
	assert.Equal(t, "Ada", again.Name)
}

func TestMemoryUsersSearchAndBlock(t *testing.T) {
	ctx := context.Background()
	users := NewMemoryUsers()
	ada := &models.User{Name: "Ada", Username: "ada", Email: "ada@example.com"}
	bob := &models.User{Name: "Bob", Username: "bobby", Email: "bob@example.com"}
	require.NoError(t, users.Create(ctx, ada))
	require.NoError(t, users.Create(ctx, bob))

	found, err := users.Search(ctx, "BOB", []primitive.ObjectID{ada.ID}, 10)
	require.NoError(t, err)
	require.Len(t, found, 1)
	assert.Equal(t, bob.ID, found[0].ID)

	require.NoError(t, users.SetBlocked(ctx, ada.ID, bob.ID, true))
	require.NoError(t, users.SetBlocked(ctx, ada.ID, bob.ID, true))
	got, _ := users.GetByID(ctx, ada.ID)
	assert.Equal(t, []primitive.ObjectID{bob.ID}, got.BlockedUsers)

	require.NoError(t, users.SetBlocked(ctx, ada.ID, bob.ID, false))
	got, _ = users.GetByID(ctx, ada.ID)
	assert.Empty(t, got.BlockedUsers)
}

func TestMemoryConversationsFindDirectIgnoresGroups(t *testing.T) {
	ctx := context.Background()
	convs := NewMemoryConversations()
	a, b := primitive.NewObjectID(), primitive.NewObjectID()

	group := &models.Conversation{IsGroup: true, Name: "team", Members: []primitive.ObjectID{a, b}}
	require.NoError(t, convs.Create(ctx, group))

	_, err := convs.FindDirect(ctx, []primitive.ObjectID{a, b})
	assert.ErrorIs(t, err, ErrNotFound)

	direct := &models.Conversation{Members: []primitive.ObjectID{a, b}}
	require.NoError(t, convs.Create(ctx, direct))

	got, err := convs.FindDirect(ctx, []primitive.ObjectID{b, a})
	require.NoError(t, err)
	assert.Equal(t, direct.ID, got.ID)
}

func TestMemoryConversationsSaveWithoutTouch(t *testing.T) {
	ctx := context.Background()
	convs := NewMemoryConversations()
	a := primitive.NewObjectID()
	c := &models.Conversation{Members: []primitive.ObjectID{a}}
	require.NoError(t, convs.Create(ctx, c))
	created := c.UpdatedAt

	c.LatestMessage = "hello"
	require.NoError(t, convs.Save(ctx, c, false))
	got, _ := convs.GetByID(ctx, c.ID)
	assert.Equal(t, created, got.UpdatedAt)
	assert.Equal(t, "hello", got.LatestMessage)

	time.Sleep(time.Millisecond)
	require.NoError(t, convs.Save(ctx, c, true))
	got, _ = convs.GetByID(ctx, c.ID)
	assert.True(t, got.UpdatedAt.After(created))

	assert.ErrorIs(t, convs.Save(ctx, &models.Conversation{ID: primitive.NewObjectID()}, true), ErrNotFound)
}

func TestMemoryConversationsStaleSave(t *testing.T) {
	ctx := context.Background()
	convs := NewMemoryConversations()
	a, b := primitive.NewObjectID(), primitive.NewObjectID()
	c := &models.Conversation{IsGroup: true, Name: "Hikers"}
	c.AddMembers(a, b)
	require.NoError(t, convs.Create(ctx, c))

	first, _ := convs.GetByID(ctx, c.ID)
	second, _ := convs.GetByID(ctx, c.ID)

	first.Name = "Climbers"
	require.NoError(t, convs.Save(ctx, first, true))
	second.Description = "weekend trips"
	assert.ErrorIs(t, convs.Save(ctx, second, true), ErrStale)

	_, err := convs.RecordMessage(ctx, c.ID, "hi", []primitive.ObjectID{b}, true)
	require.NoError(t, err)
	assert.ErrorIs(t, convs.Save(ctx, first, true), ErrStale, "a recorded message invalidates earlier reads")

	got, _ := convs.GetByID(ctx, c.ID)
	assert.Equal(t, "Climbers", got.Name)
	assert.Equal(t, 1, got.Unread(b))
}

func TestMemoryConversationsConcurrentUnread(t *testing.T) {
	ctx := context.Background()
	convs := NewMemoryConversations()
	a, b, carol := primitive.NewObjectID(), primitive.NewObjectID(), primitive.NewObjectID()
	c := &models.Conversation{IsGroup: true}
	c.AddMembers(a, b, carol)
	require.NoError(t, convs.Create(ctx, c))

	var wg sync.WaitGroup
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 250; j++ {
				_, err := convs.RecordMessage(ctx, c.ID, "hi", []primitive.ObjectID{carol}, true)
				assert.NoError(t, err)
			}
		}()
	}
	wg.Wait()

	got, _ := convs.GetByID(ctx, c.ID)
	assert.Equal(t, 1000, got.Unread(carol))

	require.NoError(t, convs.ResetUnread(ctx, c.ID, carol))
	got, _ = convs.GetByID(ctx, c.ID)
	assert.Zero(t, got.Unread(carol))
}

func TestMemoryConversationsListOrder(t *testing.T) {
	ctx := context.Background()
	convs := NewMemoryConversations()
	a := primitive.NewObjectID()

	first := &models.Conversation{Members: []primitive.ObjectID{a, primitive.NewObjectID()}}
	second := &models.Conversation{Members: []primitive.ObjectID{a, primitive.NewObjectID()}}
	require.NoError(t, convs.Create(ctx, first))
	time.Sleep(time.Millisecond)
	require.NoError(t, convs.Create(ctx, second))
	time.Sleep(time.Millisecond)
	require.NoError(t, convs.Save(ctx, first, true))

	list, err := convs.ListForUser(ctx, a)
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, first.ID, list[0].ID)
	assert.Equal(t, second.ID, list[1].ID)
}

func TestMemoryMessagesVisibilityAndSeen(t *testing.T) {
	ctx := context.Background()
	msgs := NewMemoryMessages()
	conv, ada, bob := primitive.NewObjectID(), primitive.NewObjectID(), primitive.NewObjectID()

	m1 := &models.Message{ConversationID: conv, SenderID: ada, Text: "one"}
	m2 := &models.Message{ConversationID: conv, SenderID: ada, Text: "two"}
	require.NoError(t, msgs.Create(ctx, m1))
	require.NoError(t, msgs.Create(ctx, m2))

	_, err := msgs.AddDeletedFrom(ctx, m1.ID, []primitive.ObjectID{bob, bob})
	require.NoError(t, err)

	visible, err := msgs.ListVisible(ctx, conv, bob)
	require.NoError(t, err)
	require.Len(t, visible, 1)
	assert.Equal(t, "two", visible[0].Text)

	now := time.Now()
	require.NoError(t, msgs.MarkSeen(ctx, []primitive.ObjectID{m2.ID}, bob, now))
	require.NoError(t, msgs.MarkSeen(ctx, []primitive.ObjectID{m2.ID}, bob, now))
	got, _ := msgs.GetByID(ctx, m2.ID)
	assert.Len(t, got.SeenBy, 1)

	deleted, _ := msgs.GetByID(ctx, m1.ID)
	assert.Len(t, deleted.DeletedFrom, 1)

	recent, err := msgs.Recent(ctx, conv, 1)
	require.NoError(t, err)
	require.Len(t, recent, 1)
	assert.Equal(t, "two", recent[0].Text)

	require.NoError(t, msgs.DeleteByConversation(ctx, conv))
	_, err = msgs.GetByID(ctx, m2.ID)
	assert.ErrorIs(t, err, ErrNotFound)
}
