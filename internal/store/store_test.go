package store

import (
	"database/sql"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vicentereig/whatsapp-export/internal/types"
)

func newTestStore(t *testing.T) *MessageStore {
	t.Helper()
	st, err := NewMessageStore(filepath.Join(t.TempDir(), "messages.db"))
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })
	return st
}

func seedChat(t *testing.T, st *MessageStore, chat types.ChatDescriptor, at time.Time) {
	t.Helper()
	require.NoError(t, st.UpsertChat(chat, at))
}

func TestUpsertChat_NeverDowngradesFriendlyName(t *testing.T) {
	st := newTestStore(t)
	now := time.Now()

	seedChat(t, st, types.ChatDescriptor{ID: "111@c.us", Name: "Ana"}, now)

	// A later sync that only knows the bare id must not clobber the name.
	seedChat(t, st, types.ChatDescriptor{ID: "111@c.us", Name: "111@c.us"}, now.Add(time.Minute))

	chat, err := st.ChatByID("111@c.us")
	require.NoError(t, err)
	assert.Equal(t, "Ana", chat.Name)

	// A genuinely better name does win.
	seedChat(t, st, types.ChatDescriptor{ID: "111@c.us", Name: "Ana Silva"}, now.Add(2*time.Minute))
	chat, err = st.ChatByID("111@c.us")
	require.NoError(t, err)
	assert.Equal(t, "Ana Silva", chat.Name)
}

func TestChatByID_FallsBackToIDWhenUnnamed(t *testing.T) {
	st := newTestStore(t)
	seedChat(t, st, types.ChatDescriptor{ID: "222@c.us"}, time.Now())

	chat, err := st.ChatByID("222@c.us")
	require.NoError(t, err)
	assert.Equal(t, "222@c.us", chat.Name)
}

func TestChatByID_UnknownChat(t *testing.T) {
	st := newTestStore(t)

	_, err := st.ChatByID("nope@c.us")
	assert.ErrorIs(t, err, sql.ErrNoRows)
}

func TestInsertMessage_UpsertKeepsMediaMetadata(t *testing.T) {
	st := newTestStore(t)
	seedChat(t, st, types.ChatDescriptor{ID: "111@c.us", Name: "Ana"}, time.Now())

	msg := types.RawMessage{
		ID: "m1", Timestamp: 1000, Text: "photo", Sender: "Ana",
		MediaType: "image", MediaPath: "/media/a.jpg",
	}
	require.NoError(t, st.InsertMessage("111@c.us", msg))

	// A re-sync without media metadata must not erase it.
	msg.MediaType = ""
	msg.MediaPath = ""
	msg.Text = "photo (edited)"
	require.NoError(t, st.InsertMessage("111@c.us", msg))

	msgs, err := st.ChatMessages("111@c.us", 10, 0)
	require.NoError(t, err)
	require.Len(t, msgs, 1)
	assert.Equal(t, "photo (edited)", msgs[0].Text)
	assert.Equal(t, "image", msgs[0].MediaType)
	assert.Equal(t, "/media/a.jpg", msgs[0].MediaPath)
}

func TestChatMessages_PagesInTimestampOrder(t *testing.T) {
	st := newTestStore(t)
	seedChat(t, st, types.ChatDescriptor{ID: "111@c.us", Name: "Ana"}, time.Now())

	// Inserted out of order on purpose.
	for _, m := range []types.RawMessage{
		{ID: "m3", Timestamp: 3000, Text: "three"},
		{ID: "m1", Timestamp: 1000, Text: "one", FromMe: true},
		{ID: "m2", Timestamp: 2000, Text: "two"},
	} {
		require.NoError(t, st.InsertMessage("111@c.us", m))
	}

	page, err := st.ChatMessages("111@c.us", 2, 0)
	require.NoError(t, err)
	require.Len(t, page, 2)
	assert.Equal(t, "one", page[0].Text)
	assert.True(t, page[0].FromMe)
	assert.Equal(t, "two", page[1].Text)

	page, err = st.ChatMessages("111@c.us", 2, 2)
	require.NoError(t, err)
	require.Len(t, page, 1)
	assert.Equal(t, "three", page[0].Text)

	count, err := st.CountMessages("111@c.us")
	require.NoError(t, err)
	assert.Equal(t, 3, count)
}

func TestActiveChat_PicksMostRecentlyActive(t *testing.T) {
	st := newTestStore(t)
	now := time.Now()

	seedChat(t, st, types.ChatDescriptor{ID: "old@c.us", Name: "Old"}, now.Add(-time.Hour))
	seedChat(t, st, types.ChatDescriptor{ID: "new@c.us", Name: "New"}, now)

	chat, err := st.ActiveChat()
	require.NoError(t, err)
	assert.Equal(t, "new@c.us", chat.ID)

	// Fresh activity on the old chat flips the answer.
	seedChat(t, st, types.ChatDescriptor{ID: "old@c.us", Name: "Old"}, now.Add(time.Minute))
	chat, err = st.ActiveChat()
	require.NoError(t, err)
	assert.Equal(t, "old@c.us", chat.ID)
}

func TestActiveChat_EmptyStore(t *testing.T) {
	st := newTestStore(t)

	_, err := st.ActiveChat()
	assert.ErrorIs(t, err, sql.ErrNoRows)
}

func TestContacts_ListsNonGroupChatsWithPhone(t *testing.T) {
	st := newTestStore(t)
	now := time.Now()

	seedChat(t, st, types.ChatDescriptor{ID: "5511999990000@c.us", Name: "Ana"}, now)
	seedChat(t, st, types.ChatDescriptor{ID: "group@g.us", Name: "Friends", IsGroup: true}, now)

	contacts, err := st.Contacts()
	require.NoError(t, err)
	require.Len(t, contacts, 1)
	assert.Equal(t, "Ana", contacts[0].Name)
	assert.Equal(t, "5511999990000", contacts[0].Phone)
}
