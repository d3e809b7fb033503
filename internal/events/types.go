package events

// Event enumerates high-level topics inside the trading core.
type Event string

const (
	EventSignalValidated   Event = "signal.validated"
	EventSignalQueued      Event = "signal.queued"
	EventSignalSent        Event = "signal.sent"
	EventSignalRejected    Event = "signal.rejected"
	EventAgentConnected    Event = "agent.connected"
	EventAgentIdentified   Event = "agent.identified"
	EventAgentDisconnected Event = "agent.disconnected"
	EventTradeResult       Event = "trade.result"
	EventAccountStatus     Event = "account.status"
	EventRiskAlert         Event = "risk.alert"
)
