package realtime

// Named event types pushed to connected clients.
const (
	EventSyncStarted   = "sync.started"
	EventSyncPlatform  = "sync.platform"
	EventSyncCompleted = "sync.completed"
	EventPong          = "pong"
)
