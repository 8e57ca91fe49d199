package events

// Event enumerates high-level topics inside the copy-trading core.
type Event string

const (
	EventOrderSubmitted Event = "order.submitted"
	EventOrderFilled    Event = "order.filled"
	EventOrderRejected  Event = "order.rejected"
	EventOrderFailed    Event = "order.failed"
	EventTradeCopied    Event = "trade.copied"
	EventBotStarted     Event = "bot.started"
	EventBotStopped     Event = "bot.stopped"
	EventBotPaused      Event = "bot.paused"
	EventCycleCompleted Event = "cycle.completed"
	EventCycleSkipped   Event = "cycle.skipped"
)

// All lists every topic, for subscribers that want the full stream.
func All() []Event {
	return []Event{
		EventOrderSubmitted,
		EventOrderFilled,
		EventOrderRejected,
		EventOrderFailed,
		EventTradeCopied,
		EventBotStarted,
		EventBotStopped,
		EventBotPaused,
		EventCycleCompleted,
		EventCycleSkipped,
	}
}
