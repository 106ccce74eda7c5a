package metrics

// Recorder receives one event per processed provider notification.
type Recorder interface {
	NotificationProcessed(notificationType, outcome string)
}

// Nop discards every event.
type Nop struct{}

func (Nop) NotificationProcessed(string, string) {}

// Multi fans events out to every recorder.
type Multi []Recorder

func (m Multi) NotificationProcessed(notificationType, outcome string) {
	for _, r := range m {
		if r != nil {
			r.NotificationProcessed(notificationType, outcome)
		}
	}
}
