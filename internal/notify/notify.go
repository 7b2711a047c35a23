// ABOUTME: Notifier interface and message type for out-of-band user messages
// ABOUTME: Used to deliver first-login verification links

package notify

import (
	"context"
	"errors"
	"log/slog"
)

// Message is one outbound email.
type Message struct {
	To      []string
	Subject string
	HTML    string
	Text    string
}

// Validate checks that the message can be delivered.
func (m Message) Validate() error {
	switch {
	case m.Subject == "":
		return errors.New("subject is required")
	case len(m.To) == 0:
		return errors.New("at least one recipient is required")
	case m.HTML == "" && m.Text == "":
		return errors.New("body is required")
	}
	return nil
}

// Notifier delivers messages to users.
type Notifier interface {
	Send(ctx context.Context, msg Message) error
}

// LogNotifier writes messages to the log instead of sending them.
// Useful for development, where the verification link is read from the console.
type LogNotifier struct {
	logger *slog.Logger
}

// NewLogNotifier creates a LogNotifier. A nil logger uses slog.Default().
func NewLogNotifier(logger *slog.Logger) *LogNotifier {
	if logger == nil {
		logger = slog.Default()
	}
	return &LogNotifier{logger: logger.With("component", "notify")}
}

// Send logs the message.
func (n *LogNotifier) Send(ctx context.Context, msg Message) error {
	if err := msg.Validate(); err != nil {
		return err
	}
	n.logger.InfoContext(ctx, "email not sent (log provider)",
		"to", msg.To,
		"subject", msg.Subject,
		"body", msg.Text,
	)
	return nil
}
