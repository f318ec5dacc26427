package logger

const (
	Main     = "main"
	Queue    = "queue"
	Mangle   = "mangle"
	Audit    = "audit"
	Exporter = "exporter"
	Events   = "events"
	Replay   = "replay"
)
