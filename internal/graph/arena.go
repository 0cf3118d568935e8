package graph

import (
	"fmt"

	. "github.com/lifthrasiir/forkchat/internal/types"
)

// Arena indexes one chat snapshot by message id. Messages refer to their parents
// by id only, so walking the tree never follows live pointers.
type Arena struct {
	chat     Chat
	messages []Message
	byID     map[string]int
	children map[string][]int // parent id ("" for roots) -> child indices, in creation order
	branches []Branch
}

// NewArena builds an arena over a snapshot. The snapshot must not be modified afterwards.
func NewArena(snap Snapshot) *Arena {
	a := &Arena{
		chat:     snap.Chat,
		messages: snap.Messages,
		byID:     make(map[string]int, len(snap.Messages)),
		children: make(map[string][]int),
		branches: snap.Branches,
	}
	for i, m := range snap.Messages {
		a.byID[m.ID] = i
		parent := ""
		if m.ParentMessageID != nil {
			parent = *m.ParentMessageID
		}
		a.children[parent] = append(a.children[parent], i)
	}
	return a
}

func (a *Arena) Chat() Chat         { return a.chat }
func (a *Arena) Branches() []Branch { return a.branches }
func (a *Arena) Len() int           { return len(a.messages) }

// Message looks up a message of this chat.
func (a *Arena) Message(id string) (Message, bool) {
	i, ok := a.byID[id]
	if !ok {
		return Message{}, false
	}
	return a.messages[i], true
}

// Branch looks up a branch of this chat.
func (a *Arena) Branch(id string) (Branch, bool) {
	for _, b := range a.branches {
		if b.ID == id {
			return b, true
		}
	}
	return Branch{}, false
}

// ActiveBranch returns the chat's active branch, if it still exists.
func (a *Arena) ActiveBranch() (Branch, bool) {
	if a.chat.ActiveBranchID == nil {
		return Branch{}, false
	}
	return a.Branch(*a.chat.ActiveBranchID)
}

// Chain returns the transcript ending at headID, root first.
//
// The walk is iterative and takes at most Len() steps; running past that bound
// means the parent links contain a cycle.
func (a *Arena) Chain(headID string) ([]Message, error) {
	i, ok := a.byID[headID]
	if !ok {
		return nil, MakeNotFoundError("message %s not found in chat %s", headID, a.chat.ID)
	}

	var chain []Message
	for steps := 0; ; steps++ {
		if steps >= len(a.messages) {
			return nil, fmt.Errorf("cycle detected while resolving message %s in chat %s", headID, a.chat.ID)
		}
		m := a.messages[i]
		chain = append(chain, m)
		if m.ParentMessageID == nil {
			break
		}
		if i, ok = a.byID[*m.ParentMessageID]; !ok {
			return nil, fmt.Errorf("message %s refers to missing parent %s", m.ID, *m.ParentMessageID)
		}
	}

	for l, r := 0, len(chain)-1; l < r; l, r = l+1, r-1 {
		chain[l], chain[r] = chain[r], chain[l]
	}
	return chain, nil
}

// BranchChain returns the transcript of a branch. A branch without a head has an empty transcript.
func (a *Arena) BranchChain(b Branch) ([]Message, error) {
	if b.HeadMessageID == nil {
		return []Message{}, nil
	}
	return a.Chain(*b.HeadMessageID)
}

// Contains reports whether messageID lies on the transcript ending at headID.
func (a *Arena) Contains(headID, messageID string) bool {
	id := headID
	for steps := 0; steps < len(a.messages); steps++ {
		if id == messageID {
			return true
		}
		i, ok := a.byID[id]
		if !ok || a.messages[i].ParentMessageID == nil {
			return false
		}
		id = *a.messages[i].ParentMessageID
	}
	return false
}

// BranchesThrough returns the branches whose transcripts pass through messageID, in creation order.
func (a *Arena) BranchesThrough(messageID string) []Branch {
	var result []Branch
	for _, b := range a.branches {
		if b.HeadMessageID != nil && a.Contains(*b.HeadMessageID, messageID) {
			result = append(result, b)
		}
	}
	return result
}

// Siblings returns every message sharing messageID's parent, including itself, in creation order.
func (a *Arena) Siblings(messageID string) ([]Message, error) {
	m, ok := a.Message(messageID)
	if !ok {
		return nil, MakeNotFoundError("message %s not found in chat %s", messageID, a.chat.ID)
	}
	parent := ""
	if m.ParentMessageID != nil {
		parent = *m.ParentMessageID
	}
	siblings := make([]Message, 0, len(a.children[parent]))
	for _, i := range a.children[parent] {
		siblings = append(siblings, a.messages[i])
	}
	return siblings, nil
}

// Heads returns the ids of messages without children, in creation order.
func (a *Arena) Heads() []string {
	heads := []string{}
	for _, m := range a.messages {
		if len(a.children[m.ID]) == 0 {
			heads = append(heads, m.ID)
		}
	}
	return heads
}
