package graph

import (
	"context"
	"fmt"
	"sync/atomic"

	"golang.org/x/sync/singleflight"

	. "github.com/lifthrasiir/forkchat/internal/types"
)

// Source is the read side of the graph store.
type Source interface {
	Snapshot(ctx context.Context, chatID string) (Snapshot, error)
	GetBranch(ctx context.Context, branchID string) (Branch, error)
	MessageChatID(ctx context.Context, messageID string) (string, error)
}

// Resolver materializes transcripts from point-in-time snapshots. It never takes
// the chat lock; concurrent loads of the same chat share one snapshot read.
type Resolver struct {
	source     Source
	loads      singleflight.Group
	generation atomic.Uint64
}

func NewResolver(source Source) *Resolver {
	return &Resolver{source: source}
}

// Invalidate must be called after every committed write. Loads started afterwards
// no longer join a load that began before the write.
func (r *Resolver) Invalidate() { r.generation.Add(1) }

// Load returns an arena for the chat. Concurrent loads of one chat share a snapshot
// read unless a write was committed in between. The shared read is not cancelled
// with any single caller; each caller stops waiting when its own ctx is done.
func (r *Resolver) Load(ctx context.Context, chatID string) (*Arena, error) {
	key := fmt.Sprintf("%s@%d", chatID, r.generation.Load())
	loadCtx := context.WithoutCancel(ctx)
	ch := r.loads.DoChan(key, func() (interface{}, error) {
		snap, err := r.source.Snapshot(loadCtx, chatID)
		if err != nil {
			return nil, err
		}
		return NewArena(snap), nil
	})

	select {
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		return res.Val.(*Arena), nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// LoadFresh reads a new snapshot without sharing. Writers use it to observe their own writes.
func (r *Resolver) LoadFresh(ctx context.Context, chatID string) (*Arena, error) {
	snap, err := r.source.Snapshot(ctx, chatID)
	if err != nil {
		return nil, err
	}
	return NewArena(snap), nil
}

// Resolve returns the transcript ending at headID, root first.
func (r *Resolver) Resolve(ctx context.Context, headID string) ([]Message, error) {
	chatID, err := r.source.MessageChatID(ctx, headID)
	if err != nil {
		return nil, err
	}
	return r.ResolveInChat(ctx, chatID, headID)
}

// ResolveInChat is Resolve restricted to one chat; a head from another chat is NotFound.
func (r *Resolver) ResolveInChat(ctx context.Context, chatID, headID string) ([]Message, error) {
	arena, err := r.Load(ctx, chatID)
	if err != nil {
		return nil, err
	}
	if _, ok := arena.Message(headID); !ok {
		// The head may postdate the shared snapshot.
		if arena, err = r.LoadFresh(ctx, chatID); err != nil {
			return nil, err
		}
	}
	return arena.Chain(headID)
}

// ResolveBranch returns the transcript of a branch.
func (r *Resolver) ResolveBranch(ctx context.Context, branchID string) ([]Message, error) {
	b, err := r.source.GetBranch(ctx, branchID)
	if err != nil {
		return nil, err
	}
	arena, err := r.Load(ctx, b.ChatID)
	if err != nil {
		return nil, err
	}
	// The branch may postdate the shared snapshot.
	if current, ok := arena.Branch(branchID); ok {
		b = current
	} else if arena, err = r.LoadFresh(ctx, b.ChatID); err != nil {
		return nil, err
	}
	return arena.BranchChain(b)
}

// ActiveMessages returns the transcript of the chat's active branch.
func (r *Resolver) ActiveMessages(ctx context.Context, chatID string) ([]Message, error) {
	arena, err := r.Load(ctx, chatID)
	if err != nil {
		return nil, err
	}
	b, ok := arena.ActiveBranch()
	if !ok {
		return []Message{}, nil
	}
	return arena.BranchChain(b)
}

// Siblings returns the alternatives to messageID that share its parent.
func (r *Resolver) Siblings(ctx context.Context, chatID, messageID string) ([]Message, error) {
	arena, err := r.Load(ctx, chatID)
	if err != nil {
		return nil, err
	}
	return arena.Siblings(messageID)
}

// Heads returns the ids of the leaf messages of the chat.
func (r *Resolver) Heads(ctx context.Context, chatID string) ([]string, error) {
	arena, err := r.Load(ctx, chatID)
	if err != nil {
		return nil, err
	}
	return arena.Heads(), nil
}
