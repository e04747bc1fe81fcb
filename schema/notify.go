package schema

// NotificationLevel classifies transient notifications.
type NotificationLevel string

const (
	// NotifyInfo is an informational notification.
	NotifyInfo NotificationLevel = "info"
	// NotifyError reports a failed mutation.
	NotifyError NotificationLevel = "error"
)

// Notification is a transient user-facing message.
type Notification struct {
	PrinterID PrinterID
	Level     NotificationLevel
	Message   string
}

// ConnectivityEvent carries a connectivity change.
type ConnectivityEvent struct {
	PrinterID PrinterID
	Status    Connectivity
}

// RecoveryEvent carries a recovery session change.
type RecoveryEvent struct {
	PrinterID PrinterID
	Session   RecoverySession
}

// InvalidationEvent names read models that should be refetched.
type InvalidationEvent struct {
	PrinterID PrinterID
	Queries   []Query
}
