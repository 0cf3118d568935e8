package database

import (
	"context"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	. "github.com/lifthrasiir/forkchat/internal/types"
)

func setupTestDB(t *testing.T) *Database {
	t.Helper()
	db, err := InitTestDB(t.Name())
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return db
}

// appendN appends messages with alternating roles to the chat's initial branch.
func appendN(t *testing.T, db *Database, chat Chat, contents ...string) []Message {
	t.Helper()
	ctx := context.Background()
	branch, err := db.GetBranch(ctx, *chat.ActiveBranchID)
	require.NoError(t, err)

	head := branch.HeadMessageID
	var msgs []Message
	for i, content := range contents {
		role := RoleUser
		if i%2 == 1 {
			role = RoleAssistant
		}
		m, err := db.AppendMessage(ctx, branch.ID, head, role, content)
		require.NoError(t, err)
		msgs = append(msgs, m)
		head = &msgs[len(msgs)-1].ID
	}
	return msgs
}

func TestCreateChat(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()

	chat, err := db.CreateChat(ctx, "  Trip planning  ")
	require.NoError(t, err)
	assert.Equal(t, "Trip planning", chat.Name)
	assert.Equal(t, ChatStatusActive, chat.Status)
	require.NotNil(t, chat.ActiveBranchID)

	branches, err := db.ListBranches(ctx, chat.ID)
	require.NoError(t, err)
	require.Len(t, branches, 1)
	assert.Nil(t, branches[0].HeadMessageID)
	assert.True(t, branches[0].Active)

	got, err := db.GetChat(ctx, chat.ID)
	require.NoError(t, err)
	assert.Equal(t, chat.ID, got.ID)
	assert.Equal(t, chat.CreatedAt, got.CreatedAt)
}

func TestCreateChatInvalidName(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()

	_, err := db.CreateChat(ctx, "   ")
	assert.Equal(t, KindInvalidArgument, KindOf(err))

	_, err = db.CreateChat(ctx, strings.Repeat("x", MaxChatNameLength+1))
	assert.Equal(t, KindInvalidArgument, KindOf(err))
}

func TestListChatsFilter(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()

	first, err := db.CreateChat(ctx, "first")
	require.NoError(t, err)
	second, err := db.CreateChat(ctx, "second")
	require.NoError(t, err)

	_, err = db.SetChatStatus(ctx, first.ID, ChatStatusArchived)
	require.NoError(t, err)

	all, err := db.ListChats(ctx, ChatFilter{})
	require.NoError(t, err)
	require.Len(t, all, 2)
	assert.Equal(t, first.ID, all[0].ID, "most recently updated first")

	active := ChatStatusActive
	onlyActive, err := db.ListChats(ctx, ChatFilter{Status: &active})
	require.NoError(t, err)
	require.Len(t, onlyActive, 1)
	assert.Equal(t, second.ID, onlyActive[0].ID)
}

func TestRenameAndStatusErrors(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()

	_, err := db.RenameChat(ctx, "missing", "name")
	assert.True(t, IsNotFound(err))

	chat, err := db.CreateChat(ctx, "old")
	require.NoError(t, err)
	renamed, err := db.RenameChat(ctx, chat.ID, "new")
	require.NoError(t, err)
	assert.Equal(t, "new", renamed.Name)

	_, err = db.SetChatStatus(ctx, chat.ID, ChatStatus("deleted"))
	assert.Equal(t, KindInvalidArgument, KindOf(err))
}

func TestAppendMessageBuildsChain(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()

	chat, err := db.CreateChat(ctx, "chain")
	require.NoError(t, err)
	msgs := appendN(t, db, chat, "u1", "a1", "u2")

	assert.Nil(t, msgs[0].ParentMessageID)
	assert.Equal(t, msgs[0].ID, *msgs[1].ParentMessageID)
	assert.Equal(t, msgs[1].ID, *msgs[2].ParentMessageID)

	branch, err := db.GetBranch(ctx, *chat.ActiveBranchID)
	require.NoError(t, err)
	assert.Equal(t, msgs[2].ID, *branch.HeadMessageID)
}

func TestAppendMessageStaleHead(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()

	chat, err := db.CreateChat(ctx, "cas")
	require.NoError(t, err)
	msgs := appendN(t, db, chat, "u1")

	// Appending against the empty head again must not create a second root.
	_, err = db.AppendMessage(ctx, *chat.ActiveBranchID, nil, RoleUser, "late")
	assert.True(t, IsConflict(err))

	_, err = db.AppendMessage(ctx, *chat.ActiveBranchID, &msgs[0].ID, RoleUser, "  ")
	assert.Equal(t, KindInvalidArgument, KindOf(err))

	snap, err := db.Snapshot(ctx, chat.ID)
	require.NoError(t, err)
	assert.Len(t, snap.Messages, 1)
}

func TestCreateMessageUnknownParent(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()

	chat, err := db.CreateChat(ctx, "parent")
	require.NoError(t, err)
	other, err := db.CreateChat(ctx, "other")
	require.NoError(t, err)
	foreign := appendN(t, db, other, "elsewhere")

	missing := "no-such-message"
	_, err = db.CreateMessage(ctx, chat.ID, &missing, RoleUser, "hi")
	assert.True(t, IsNotFound(err))

	_, err = db.CreateMessage(ctx, chat.ID, &foreign[0].ID, RoleUser, "hi")
	assert.True(t, IsNotFound(err))

	_, err = db.CreateMessage(ctx, chat.ID, nil, Role("system"), "hi")
	assert.Equal(t, KindInvalidArgument, KindOf(err))
}

func TestCreateBranchAndUpdateHead(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()

	chat, err := db.CreateChat(ctx, "branches")
	require.NoError(t, err)
	msgs := appendN(t, db, chat, "u1", "a1")

	b, err := db.CreateBranch(ctx, chat.ID, msgs[0].ID, chat.ActiveBranchID, &msgs[1].ID)
	require.NoError(t, err)
	assert.Equal(t, msgs[0].ID, *b.HeadMessageID)
	assert.False(t, b.Active)

	_, err = db.CreateBranch(ctx, chat.ID, "", nil, nil)
	assert.Equal(t, KindInvalidArgument, KindOf(err))
	_, err = db.CreateBranch(ctx, "missing", msgs[0].ID, nil, nil)
	assert.True(t, IsNotFound(err))

	require.NoError(t, db.UpdateBranchHead(ctx, b.ID, msgs[1].ID))
	got, err := db.GetBranch(ctx, b.ID)
	require.NoError(t, err)
	assert.Equal(t, msgs[1].ID, *got.HeadMessageID)

	other, err := db.CreateChat(ctx, "other")
	require.NoError(t, err)
	foreign := appendN(t, db, other, "elsewhere")
	err = db.UpdateBranchHead(ctx, b.ID, foreign[0].ID)
	assert.True(t, IsConflict(err))

	err = db.UpdateBranchHead(ctx, "missing", msgs[0].ID)
	assert.True(t, IsNotFound(err))
}

func TestSetActiveBranch(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()

	chat, err := db.CreateChat(ctx, "active")
	require.NoError(t, err)
	msgs := appendN(t, db, chat, "u1")
	b, err := db.CreateBranch(ctx, chat.ID, msgs[0].ID, nil, nil)
	require.NoError(t, err)

	require.NoError(t, db.SetActiveBranch(ctx, chat.ID, b.ID))
	branches, err := db.ListBranches(ctx, chat.ID)
	require.NoError(t, err)
	for _, branch := range branches {
		assert.Equal(t, branch.ID == b.ID, branch.Active)
	}

	other, err := db.CreateChat(ctx, "other")
	require.NoError(t, err)
	err = db.SetActiveBranch(ctx, other.ID, b.ID)
	assert.True(t, IsNotFound(err))
}

func TestForkIsInvisibleUntilCompleted(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()

	chat, err := db.CreateChat(ctx, "fork")
	require.NoError(t, err)
	msgs := appendN(t, db, chat, "u1", "a1", "u2")
	source := *chat.ActiveBranchID

	forkMsg, err := db.InsertForkMessage(ctx, chat.ID, &msgs[1].ID, RoleUser, "u2 edited", source, msgs[2].ID)
	require.NoError(t, err)

	_, err = db.GetMessage(ctx, forkMsg.ID)
	assert.True(t, IsNotFound(err), "unattached message must not be readable")
	snap, err := db.Snapshot(ctx, chat.ID)
	require.NoError(t, err)
	assert.Len(t, snap.Messages, 3)
	assert.Len(t, snap.Branches, 1)

	pending, err := db.ListPendingForks(ctx, chat.ID)
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Equal(t, forkMsg.ID, pending[0].MessageID)

	branch, rec, err := db.CompleteFork(ctx, forkMsg.ID)
	require.NoError(t, err)
	assert.Equal(t, forkMsg.ID, *branch.HeadMessageID)
	assert.Equal(t, source, *branch.ForkedFromBranchID)
	assert.Equal(t, msgs[2].ID, *branch.ForkPointMessageID)
	assert.Equal(t, msgs[2].ID, rec.OriginalMessageID)
	assert.Equal(t, branch.ID, rec.NewBranchID)

	got, err := db.GetMessage(ctx, forkMsg.ID)
	require.NoError(t, err)
	assert.Equal(t, "u2 edited", got.Content)

	chat, err = db.GetChat(ctx, chat.ID)
	require.NoError(t, err)
	assert.Equal(t, branch.ID, *chat.ActiveBranchID)

	pending, err = db.ListPendingForks(ctx, "")
	require.NoError(t, err)
	assert.Empty(t, pending)

	records, err := db.ListEditRecords(ctx, chat.ID)
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, rec.ID, records[0].ID)

	// A fork completes once.
	_, _, err = db.CompleteFork(ctx, forkMsg.ID)
	assert.True(t, IsNotFound(err))
}

func TestDeleteChatRemovesEverything(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()

	chat, err := db.CreateChat(ctx, "doomed")
	require.NoError(t, err)
	keep, err := db.CreateChat(ctx, "kept")
	require.NoError(t, err)
	msgs := appendN(t, db, chat, "u1", "a1")
	appendN(t, db, keep, "k1")

	forkMsg, err := db.InsertForkMessage(ctx, chat.ID, nil, RoleUser, "u1 edited", *chat.ActiveBranchID, msgs[0].ID)
	require.NoError(t, err)
	_, _, err = db.CompleteFork(ctx, forkMsg.ID)
	require.NoError(t, err)
	_, err = db.InsertForkMessage(ctx, chat.ID, &msgs[0].ID, RoleAssistant, "a1 edited", *chat.ActiveBranchID, msgs[1].ID)
	require.NoError(t, err)

	require.NoError(t, db.DeleteChat(ctx, chat.ID))

	_, err = db.GetChat(ctx, chat.ID)
	assert.True(t, IsNotFound(err))
	_, err = db.GetMessage(ctx, msgs[0].ID)
	assert.True(t, IsNotFound(err))

	for _, table := range []string{"messages", "branches", "edit_records", "pending_forks"} {
		var n int
		require.NoError(t, db.QueryRow("SELECT COUNT(*) FROM "+table+" WHERE chat_id = ?", chat.ID).Scan(&n))
		assert.Zero(t, n, table)
	}

	snap, err := db.Snapshot(ctx, keep.ID)
	require.NoError(t, err)
	assert.Len(t, snap.Messages, 1)

	err = db.DeleteChat(ctx, chat.ID)
	assert.True(t, IsNotFound(err))
}

func TestAppConfig(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()

	value, err := GetAppConfig(ctx, db, CSRFKeyName)
	require.NoError(t, err)
	assert.Nil(t, value)

	require.NoError(t, SetAppConfig(ctx, db, CSRFKeyName, []byte("secret")))
	value, err = GetAppConfig(ctx, db, CSRFKeyName)
	require.NoError(t, err)
	assert.Equal(t, []byte("secret"), value)
}

func TestInitDBOnDisk(t *testing.T) {
	path := filepath.Join(t.TempDir(), "forkchat.db")
	db, err := InitDB(context.Background(), FileDSN(path))
	require.NoError(t, err)
	defer db.Close()

	_, err = db.CreateChat(context.Background(), "persisted")
	require.NoError(t, err)
	require.NoError(t, PerformVacuum(db, 0))
	require.NoError(t, Job(db).First())

	isNetwork, _, err := IsNetworkFilesystem(path)
	require.NoError(t, err)
	assert.False(t, isNetwork)
}

func TestContextWith(t *testing.T) {
	db := setupTestDB(t)

	_, err := FromContext(context.Background())
	assert.Error(t, err)

	got, err := FromContext(ContextWith(context.Background(), db))
	require.NoError(t, err)
	assert.Same(t, db, got)
}

func TestProjectsAndDashboard(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()

	project, err := db.CreateProject(ctx, "  Travel ", "trips")
	require.NoError(t, err)
	assert.Equal(t, "Travel", project.Name)
	_, err = db.CreateProject(ctx, " ", "")
	assert.Equal(t, KindInvalidArgument, KindOf(err))

	inside, err := db.CreateChatInProject(ctx, project.ID, "Lisbon")
	require.NoError(t, err)
	require.NotNil(t, inside.ProjectID)
	assert.Equal(t, project.ID, *inside.ProjectID)
	archived, err := db.CreateChatInProject(ctx, project.ID, "Porto")
	require.NoError(t, err)
	_, err = db.SetChatStatus(ctx, archived.ID, ChatStatusArchived)
	require.NoError(t, err)
	standalone, err := db.CreateChat(ctx, "loose")
	require.NoError(t, err)
	assert.Nil(t, standalone.ProjectID)

	_, err = db.CreateChatInProject(ctx, "missing", "orphan")
	assert.True(t, IsNotFound(err))

	got, err := db.GetProject(ctx, project.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, got.ChatCount)

	renamed, err := db.RenameProject(ctx, project.ID, "Holidays")
	require.NoError(t, err)
	assert.Equal(t, "Holidays", renamed.Name)
	_, err = db.RenameProject(ctx, "missing", "x")
	assert.True(t, IsNotFound(err))

	ids, err := db.ProjectChatIDs(ctx, project.ID)
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{inside.ID, archived.ID}, ids)

	dashboard, err := db.Dashboard(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, dashboard.TotalProjects)
	assert.Equal(t, 3, dashboard.TotalChats)
	require.Len(t, dashboard.StandaloneChats, 1)
	assert.Equal(t, standalone.ID, dashboard.StandaloneChats[0].ID)

	appendN(t, db, inside, "u1", "a1")
	require.NoError(t, db.DeleteProject(ctx, project.ID))

	_, err = db.GetProject(ctx, project.ID)
	assert.True(t, IsNotFound(err))
	for _, id := range []string{inside.ID, archived.ID} {
		_, err = db.GetChat(ctx, id)
		assert.True(t, IsNotFound(err))
	}
	var n int
	require.NoError(t, db.QueryRow("SELECT COUNT(*) FROM messages WHERE chat_id = ?", inside.ID).Scan(&n))
	assert.Zero(t, n)
	_, err = db.GetChat(ctx, standalone.ID)
	assert.NoError(t, err)

	assert.True(t, IsNotFound(db.DeleteProject(ctx, project.ID)))
}
