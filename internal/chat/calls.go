package chat

import (
	"context"
	"sync"
	"time"

	. "github.com/lifthrasiir/forkchat/internal/types"
)

// CallStatus enum defines the status of an append call.
type CallStatus string

const (
	CallStatusRunning   CallStatus = "running"
	CallStatusCancelled CallStatus = "cancelled"
	CallStatusCompleted CallStatus = "completed"
	CallStatusError     CallStatus = "error"
)

// Call represents the latest append on a chat.
type Call struct {
	ChatID     string             `json:"chatId"`
	CancelFunc context.CancelFunc `json:"-"` // context.CancelFunc cannot be marshaled to JSON
	Status     CallStatus         `json:"status"`
	Dispatched bool               `json:"dispatched"` // the assistant request was sent
	StartTime  time.Time          `json:"startTime"`
	EndTime    *time.Time         `json:"endTime,omitempty"`
	Error      string             `json:"error,omitempty"`
}

// Calls keeps one call per chat: the running one, or else the last finished one.
type Calls struct {
	mu    sync.Mutex
	calls map[string]*Call
}

func NewCalls() *Calls {
	return &Calls{calls: make(map[string]*Call)}
}

// start registers a new call.
func (c *Calls) start(chatID string, cancelFunc context.CancelFunc) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if call, ok := c.calls[chatID]; ok && call.Status == CallStatusRunning {
		return MakeConflictError("a call for chat %s is already active", chatID)
	}

	c.calls[chatID] = &Call{
		ChatID:     chatID,
		CancelFunc: cancelFunc,
		Status:     CallStatusRunning,
		StartTime:  time.Now(),
	}
	return nil
}

func (c *Calls) dispatched(chatID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if call, ok := c.calls[chatID]; ok {
		call.Dispatched = true
	}
}

// Cancel cancels an active call and updates its status.
func (c *Calls) Cancel(chatID string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	call, ok := c.calls[chatID]
	if !ok {
		return MakeNotFoundError("no call found for chat %s", chatID)
	}

	if call.Status == CallStatusRunning {
		call.CancelFunc()
		call.Status = CallStatusCancelled
		now := time.Now()
		call.EndTime = &now
		return nil
	}
	return MakeConflictError("call for chat %s is not running (current status: %s)", chatID, call.Status)
}

// finish marks a running call as completed, or as failed when err is non-nil.
// A cancelled call keeps its status.
func (c *Calls) finish(chatID string, err error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	call, ok := c.calls[chatID]
	if !ok || call.Status != CallStatusRunning {
		return
	}
	call.Status = CallStatusCompleted
	if err != nil {
		call.Status = CallStatusError
		call.Error = err.Error()
	}
	now := time.Now()
	call.EndTime = &now
}

func (c *Calls) remove(chatID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.calls, chatID)
}

// Get returns a copy of the call for chatID.
func (c *Calls) Get(chatID string) (Call, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	call, ok := c.calls[chatID]
	if !ok {
		return Call{}, false
	}
	return *call, true
}
