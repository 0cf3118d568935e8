package graph

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lifthrasiir/forkchat/internal/database"
	. "github.com/lifthrasiir/forkchat/internal/types"
)

func ptr(s string) *string { return &s }

func msg(id string, parent *string, content string) Message {
	return Message{ID: id, ChatID: "c", ParentMessageID: parent, Role: RoleUser, Content: content}
}

func ids(msgs []Message) []string {
	result := make([]string, len(msgs))
	for i, m := range msgs {
		result[i] = m.ID
	}
	return result
}

// treeSnapshot is a -> b -> c with a second child b2 of a.
func treeSnapshot() Snapshot {
	return Snapshot{
		Chat: Chat{ID: "c", ActiveBranchID: ptr("main")},
		Messages: []Message{
			msg("a", nil, "hi"),
			msg("b", ptr("a"), "hello"),
			msg("c", ptr("b"), "how are you"),
			msg("b2", ptr("a"), "hey there"),
		},
		Branches: []Branch{
			{ID: "main", ChatID: "c", HeadMessageID: ptr("c"), Active: true},
			{ID: "fork", ChatID: "c", HeadMessageID: ptr("b2"), ForkedFromBranchID: ptr("main"), ForkPointMessageID: ptr("b")},
		},
	}
}

func TestArenaChain(t *testing.T) {
	arena := NewArena(treeSnapshot())

	chain, err := arena.Chain("c")
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b", "c"}, ids(chain))

	chain, err = arena.Chain("b2")
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b2"}, ids(chain))

	_, err = arena.Chain("missing")
	assert.True(t, IsNotFound(err))
}

func TestArenaChainLong(t *testing.T) {
	const n = 100000
	snap := Snapshot{Chat: Chat{ID: "c"}}
	var parent *string
	for i := 0; i < n; i++ {
		id := fmt.Sprintf("m%d", i)
		snap.Messages = append(snap.Messages, msg(id, parent, id))
		parent = ptr(id)
	}

	chain, err := NewArena(snap).Chain(*parent)
	require.NoError(t, err)
	require.Len(t, chain, n)
	assert.Equal(t, "m0", chain[0].ID)
	assert.Equal(t, *parent, chain[n-1].ID)
}

func TestArenaChainDetectsCycle(t *testing.T) {
	snap := Snapshot{
		Chat: Chat{ID: "c"},
		Messages: []Message{
			msg("x", ptr("y"), "x"),
			msg("y", ptr("x"), "y"),
		},
	}
	_, err := NewArena(snap).Chain("x")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "cycle")
	assert.Equal(t, KindInternal, KindOf(err))
}

func TestArenaQueries(t *testing.T) {
	arena := NewArena(treeSnapshot())

	siblings, err := arena.Siblings("b2")
	require.NoError(t, err)
	assert.Equal(t, []string{"b", "b2"}, ids(siblings))

	siblings, err = arena.Siblings("a")
	require.NoError(t, err)
	assert.Equal(t, []string{"a"}, ids(siblings))

	assert.Equal(t, []string{"c", "b2"}, arena.Heads())

	assert.True(t, arena.Contains("c", "a"))
	assert.False(t, arena.Contains("b2", "b"))

	through := arena.BranchesThrough("a")
	require.Len(t, through, 2)
	through = arena.BranchesThrough("b")
	require.Len(t, through, 1)
	assert.Equal(t, "main", through[0].ID)

	active, ok := arena.ActiveBranch()
	require.True(t, ok)
	assert.Equal(t, "main", active.ID)

	empty, err := arena.BranchChain(Branch{ID: "new"})
	require.NoError(t, err)
	assert.Empty(t, empty)
}

func TestDiffContent(t *testing.T) {
	ops := DiffContent("hello world", "hello there")
	var a, b string
	for _, op := range ops {
		if op.Op != "insert" {
			a += op.Text
		}
		if op.Op != "delete" {
			b += op.Text
		}
	}
	assert.Equal(t, "hello world", a)
	assert.Equal(t, "hello there", b)
	assert.Equal(t, DiffOp{Op: "equal", Text: "hello "}, ops[0])
}

// setupChat builds the chat of treeSnapshot in a real store. Messages are keyed by their short names.
func setupChat(t *testing.T) (*database.Database, Chat, map[string]Message, Branch) {
	t.Helper()
	db, err := database.InitTestDB(t.Name())
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	ctx := context.Background()

	chat, err := db.CreateChat(ctx, "graph")
	require.NoError(t, err)
	mainID := *chat.ActiveBranchID

	m := map[string]Message{}
	var head *string
	for _, step := range []struct {
		name    string
		role    Role
		content string
	}{
		{"a", RoleUser, "hi"},
		{"b", RoleAssistant, "hello"},
		{"c", RoleUser, "how are you"},
	} {
		created, err := db.AppendMessage(ctx, mainID, head, step.role, step.content)
		require.NoError(t, err)
		m[step.name] = created
		head = &created.ID
	}

	rootID, forkPointID := m["a"].ID, m["b"].ID
	b2, err := db.CreateMessage(ctx, chat.ID, &rootID, RoleAssistant, "hey there")
	require.NoError(t, err)
	m["b2"] = b2
	fork, err := db.CreateBranch(ctx, chat.ID, b2.ID, &mainID, &forkPointID)
	require.NoError(t, err)
	return db, chat, m, fork
}

func TestResolverResolveIsIdempotent(t *testing.T) {
	db, _, m, _ := setupChat(t)
	r := NewResolver(db)
	ctx := context.Background()

	first, err := r.Resolve(ctx, m["c"].ID)
	require.NoError(t, err)
	second, err := r.Resolve(ctx, m["c"].ID)
	require.NoError(t, err)
	assert.Equal(t, first, second)
	assert.Equal(t, []string{m["a"].ID, m["b"].ID, m["c"].ID}, ids(first))

	_, err = r.Resolve(ctx, "missing")
	assert.True(t, IsNotFound(err))
}

func TestResolverSeesNewMessages(t *testing.T) {
	db, chat, m, _ := setupChat(t)
	r := NewResolver(db)
	ctx := context.Background()

	_, err := r.ActiveMessages(ctx, chat.ID)
	require.NoError(t, err)

	headID := m["c"].ID
	d, err := db.AppendMessage(ctx, *chat.ActiveBranchID, &headID, RoleAssistant, "fine")
	require.NoError(t, err)

	chain, err := r.ResolveInChat(ctx, chat.ID, d.ID)
	require.NoError(t, err)
	assert.Len(t, chain, 4)

	active, err := r.ActiveMessages(ctx, chat.ID)
	require.NoError(t, err)
	assert.Equal(t, d.ID, active[len(active)-1].ID)
}

func TestResolverBranchQueries(t *testing.T) {
	db, chat, m, fork := setupChat(t)
	r := NewResolver(db)
	ctx := context.Background()

	chain, err := r.ResolveBranch(ctx, fork.ID)
	require.NoError(t, err)
	assert.Equal(t, []string{m["a"].ID, m["b2"].ID}, ids(chain))

	siblings, err := r.Siblings(ctx, chat.ID, m["b"].ID)
	require.NoError(t, err)
	assert.Equal(t, []string{m["b"].ID, m["b2"].ID}, ids(siblings))

	heads, err := r.Heads(ctx, chat.ID)
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{m["c"].ID, m["b2"].ID}, heads)

	_, err = r.ResolveBranch(ctx, "missing")
	assert.True(t, IsNotFound(err))
	_, err = r.Heads(ctx, "missing")
	assert.True(t, IsNotFound(err))
}

func TestCompare(t *testing.T) {
	db, chat, m, fork := setupChat(t)
	r := NewResolver(db)
	ctx := context.Background()

	cmp, err := r.Compare(ctx, *chat.ActiveBranchID, fork.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, cmp.CommonPrefixLength)
	assert.Equal(t, []string{m["b"].ID, m["c"].ID}, ids(cmp.TailA))
	assert.Equal(t, []string{m["b2"].ID}, ids(cmp.TailB))
	assert.NotEmpty(t, cmp.Diff)

	same, err := r.Compare(ctx, fork.ID, fork.ID)
	require.NoError(t, err)
	assert.Equal(t, 2, same.CommonPrefixLength)
	assert.Empty(t, same.TailA)
	assert.Empty(t, same.TailB)
	assert.Nil(t, same.Diff)

	_, err = r.Compare(ctx, fork.ID, "missing")
	assert.True(t, IsNotFound(err))
}

// slowSource serves a replaceable snapshot; the first Snapshot call blocks until
// release is closed or its context is done.
type slowSource struct {
	mu      sync.Mutex
	snap    Snapshot
	calls   atomic.Int32
	entered chan struct{}
	release chan struct{}
}

func newSlowSource(snap Snapshot) *slowSource {
	return &slowSource{snap: snap, entered: make(chan struct{}), release: make(chan struct{})}
}

func (s *slowSource) set(snap Snapshot) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.snap = snap
}

func (s *slowSource) Snapshot(ctx context.Context, chatID string) (Snapshot, error) {
	s.mu.Lock()
	snap := s.snap
	s.mu.Unlock()

	if s.calls.Add(1) == 1 {
		close(s.entered)
		select {
		case <-s.release:
		case <-ctx.Done():
			return Snapshot{}, ctx.Err()
		}
	}
	return snap, nil
}

func (s *slowSource) GetBranch(ctx context.Context, branchID string) (Branch, error) {
	return Branch{}, MakeNotFoundError("branch %s not found", branchID)
}

func (s *slowSource) MessageChatID(ctx context.Context, messageID string) (string, error) {
	return "", MakeNotFoundError("message %s not found", messageID)
}

func TestResolverSharedLoadSurvivesCancelledCaller(t *testing.T) {
	src := newSlowSource(treeSnapshot())
	r := NewResolver(src)

	ctxA, cancelA := context.WithCancel(context.Background())
	errA := make(chan error, 1)
	go func() {
		_, err := r.Load(ctxA, "c")
		errA <- err
	}()
	<-src.entered

	type loadResult struct {
		arena *Arena
		err   error
	}
	resultB := make(chan loadResult, 1)
	go func() {
		arena, err := r.Load(context.Background(), "c")
		resultB <- loadResult{arena, err}
	}()
	time.Sleep(20 * time.Millisecond)

	cancelA()
	select {
	case err := <-errA:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(5 * time.Second):
		t.Fatal("cancelled caller kept waiting")
	}

	close(src.release)
	select {
	case res := <-resultB:
		require.NoError(t, res.err)
		assert.Equal(t, 4, res.arena.Len())
	case <-time.After(5 * time.Second):
		t.Fatal("second caller never finished")
	}
}

func TestResolverReadsAfterInvalidateAreFresh(t *testing.T) {
	src := newSlowSource(treeSnapshot())
	r := NewResolver(src)

	stale := make(chan *Arena, 1)
	go func() {
		arena, err := r.Load(context.Background(), "c")
		assert.NoError(t, err)
		stale <- arena
	}()
	<-src.entered

	// A write commits while the first load is still running.
	next := treeSnapshot()
	next.Messages = append(next.Messages, msg("d", ptr("c"), "fine"))
	next.Branches[0].HeadMessageID = ptr("d")
	src.set(next)
	r.Invalidate()

	active, err := r.ActiveMessages(context.Background(), "c")
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b", "c", "d"}, ids(active))

	heads, err := r.Heads(context.Background(), "c")
	require.NoError(t, err)
	assert.Contains(t, heads, "d")

	close(src.release)
	select {
	case arena := <-stale:
		assert.Equal(t, 4, arena.Len())
	case <-time.After(5 * time.Second):
		t.Fatal("first load never finished")
	}
}
