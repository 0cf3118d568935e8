package types

import "time"

// Role is the author of a message.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Valid reports whether r is a known role.
func (r Role) Valid() bool {
	return r == RoleUser || r == RoleAssistant
}

// ChatStatus is the lifecycle state of a chat.
type ChatStatus string

const (
	ChatStatusActive   ChatStatus = "active"
	ChatStatusArchived ChatStatus = "archived"
)

// Valid reports whether s is a known status.
func (s ChatStatus) Valid() bool {
	return s == ChatStatusActive || s == ChatStatusArchived
}

// Chat struct to hold chat data
type Chat struct {
	ID             string     `json:"id"`
	ProjectID      *string    `json:"projectId"` // nil for standalone chats
	Name           string     `json:"name"`
	Status         ChatStatus `json:"status"`
	ActiveBranchID *string    `json:"activeBranchId"` // Pointer for nullable
	CreatedAt      time.Time  `json:"createdAt"`
	UpdatedAt      time.Time  `json:"updatedAt"`
}

// Project groups chats. Deleting a project deletes its chats.
type Project struct {
	ID          string    `json:"id"`
	Name        string    `json:"name"`
	Description string    `json:"description"`
	ChatCount   int       `json:"chatCount"` // active chats only
	CreatedAt   time.Time `json:"createdAt"`
	UpdatedAt   time.Time `json:"updatedAt"`
}

// Dashboard summarizes everything stored, for the landing page of a UI.
type Dashboard struct {
	Projects        []Project `json:"projects"`
	StandaloneChats []Chat    `json:"standaloneChats"`
	TotalProjects   int       `json:"totalProjects"`
	TotalChats      int       `json:"totalChats"`
}

// Message struct to hold message data. Messages are never updated once written.
type Message struct {
	ID              string    `json:"id"`
	ChatID          string    `json:"chatId"`
	ParentMessageID *string   `json:"parentMessageId"` // nil only for the root of a chat
	Role            Role      `json:"role"`
	Content         string    `json:"content"`
	CreatedAt       time.Time `json:"createdAt"`
}

// Branch struct to hold branch data
type Branch struct {
	ID                 string    `json:"id"`
	ChatID             string    `json:"chatId"`
	HeadMessageID      *string   `json:"headMessageId"` // nil for the initial branch of an empty chat
	ForkedFromBranchID *string   `json:"forkedFromBranchId"`
	ForkPointMessageID *string   `json:"forkPointMessageId"`
	CreatedAt          time.Time `json:"createdAt"`
	Active             bool      `json:"active"`
}

// EditRecord is the audit entry written for every successful edit.
type EditRecord struct {
	ID                string    `json:"id"`
	ChatID            string    `json:"chatId"`
	BranchID          string    `json:"branchId"`
	OriginalMessageID string    `json:"originalMessageId"`
	NewMessageID      string    `json:"newMessageId"`
	NewBranchID       string    `json:"newBranchId"`
	CreatedAt         time.Time `json:"createdAt"`
}

// PendingFork is the intent row left behind between writing a fork message and
// writing its branch. A message with a pending fork is not attached to the graph.
type PendingFork struct {
	MessageID         string    `json:"messageId"`
	ChatID            string    `json:"chatId"`
	SourceBranchID    string    `json:"sourceBranchId"`
	OriginalMessageID string    `json:"originalMessageId"`
	CreatedAt         time.Time `json:"createdAt"`
}

// Snapshot is a point-in-time view of one chat's graph.
// Messages and Branches are in creation order.
type Snapshot struct {
	Chat     Chat      `json:"chat"`
	Messages []Message `json:"messages"`
	Branches []Branch  `json:"branches"`
}

// AppendResult is returned by a successful (or partially successful) turn.
type AppendResult struct {
	UserMessage      Message  `json:"userMessage"`
	AssistantMessage *Message `json:"assistantMessage,omitempty"`
	BranchID         string   `json:"branchId"`
}

// EditResult carries everything needed to render a fork without follow-up reads.
type EditResult struct {
	NewBranch      Branch     `json:"newBranch"`
	NewMessage     Message    `json:"newMessage"`
	BranchMessages []Message  `json:"branchMessages"`
	AllBranches    []Branch   `json:"allBranches"`
	EditRecord     EditRecord `json:"editRecord"`
}

// DiffOp is one span of a content diff.
type DiffOp struct {
	Op   string `json:"op"` // "equal", "insert" or "delete"
	Text string `json:"text"`
}

// Comparison is the result of comparing two branches.
type Comparison struct {
	BranchA            string    `json:"branchA"`
	BranchB            string    `json:"branchB"`
	CommonPrefixLength int       `json:"commonPrefixLength"`
	TailA              []Message `json:"tailA"`
	TailB              []Message `json:"tailB"`
	Diff               []DiffOp  `json:"diff,omitempty"`
}

// ChatFilter narrows ListChats.
type ChatFilter struct {
	Status     *ChatStatus
	ProjectID  *string
	Standalone bool // only chats outside any project
}
