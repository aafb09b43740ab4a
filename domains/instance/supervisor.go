package instance

import "context"

// Event is the realtime push envelope broadcast on every state change.
type Event struct {
	Type string `json:"type"`
	Data any    `json:"data"`
}

const (
	EventBotCreated       = "BOT_CREATED"
	EventBotApproved      = "BOT_APPROVED"
	EventBotStatusChanged = "BOT_STATUS_CHANGED"
	EventBotDeleted       = "BOT_DELETED"
	EventBotResumed       = "BOT_RESUMED"
	EventBotError         = "BOT_ERROR"
)

// Broadcaster is the injected fan-out sink. Implementations must never
// block a state transition; drop on a full buffer and continue.
type Broadcaster func(Event)

// ISupervisor manages the live session workers for this tenancy (C4).
// Operations on the same bot ID execute in invocation order, never
// concurrently; operations on different bots are independent.
type ISupervisor interface {
	CreateBot(ctx context.Context, bot *BotInstance) error
	StartBot(ctx context.Context, id string) error
	StopBot(ctx context.Context, id string, preserveCredentials bool) error
	RestartBot(ctx context.Context, id string) error
	DestroyBot(ctx context.Context, id string) error
	GetStatus(id string) Status
	GetAllStatuses() map[string]Status
	SendMessageThroughBot(ctx context.Context, id, jid, text string) error
	// NotifyApproved cancels the creation watchdog and schedules the
	// delayed self-notification message.
	NotifyApproved(ctx context.Context, bot *BotInstance)
	ResumeAll(ctx context.Context) error
	Shutdown()
}
