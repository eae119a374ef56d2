package host

import (
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

const defaultNotificationLimit = 50

// Notification is a message shown to the user.
type Notification struct {
	Level   string    `json:"level"` // "error" | "info"
	Message string    `json:"message"`
	Time    time.Time `json:"time"`
}

// LogNotifier logs notifications and keeps the most recent ones for the API.
type LogNotifier struct {
	mu     sync.Mutex
	recent []Notification
	limit  int
	log    logrus.FieldLogger
}

// NewLogNotifier creates a notifier retaining the last 50 notifications.
func NewLogNotifier() *LogNotifier {
	return &LogNotifier{
		limit: defaultNotificationLimit,
		log:   logrus.WithField("component", "notifier"),
	}
}

// ShowError records and logs an error notification.
func (n *LogNotifier) ShowError(message string) {
	n.log.Error(message)
	n.add("error", message)
}

// ShowInfo records and logs an informational notification.
func (n *LogNotifier) ShowInfo(message string) {
	n.log.Info(message)
	n.add("info", message)
}

func (n *LogNotifier) add(level, message string) {
	n.mu.Lock()
	defer n.mu.Unlock()

	n.recent = append(n.recent, Notification{Level: level, Message: message, Time: time.Now()})
	if len(n.recent) > n.limit {
		n.recent = n.recent[len(n.recent)-n.limit:]
	}
}

// Recent returns a copy of the retained notifications, oldest first.
func (n *LogNotifier) Recent() []Notification {
	n.mu.Lock()
	defer n.mu.Unlock()

	out := make([]Notification, len(n.recent))
	copy(out, n.recent)
	return out
}
