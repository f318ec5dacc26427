package events

type Handler func(Event)

type Subscription interface {
	Unsubscribe()
}

type TopicStats struct {
	Topic       string `json:"topic"`
	Subscribers int    `json:"subscribers"`
}

type Stats struct {
	Topics    []TopicStats `json:"topics"`
	Pending   int          `json:"pending"`
	Capacity  int          `json:"capacity"`
	Published uint64       `json:"published"`
	Dropped   uint64       `json:"dropped"`
}

// Bus fans events out to subscribers. Publish never blocks the caller; a
// full bus drops the event and counts it.
type Bus interface {
	Publish(topic string, event Event)
	Subscribe(topic string, handler Handler) Subscription
	Stats() Stats
	Close() error
}
