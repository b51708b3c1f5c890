package notify

import (
	"context"
	"net/http"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

// Field is one labelled value inside a notification.
type Field struct {
	Name   string
	Value  string
	Inline bool
}

// Attachment is an optional file delivered alongside a notification.
type Attachment struct {
	Filename    string
	ContentType string
	Data        []byte
}

// Event is a transport-neutral operator notification.
type Event struct {
	Kind       string
	Title      string
	Body       string
	Color      int
	Fields     []Field
	Footer     string
	Ping       bool
	Attachment *Attachment
	Timestamp  time.Time
}

// Notifier delivers operator notifications. Implementations are expected to
// be safe for concurrent use.
type Notifier interface {
	Notify(ctx context.Context, e Event) error
}

// HTTPClient builds the outbound client used for notification delivery.
func HTTPClient(timeout time.Duration) *http.Client {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &http.Client{
		Timeout:   timeout,
		Transport: otelhttp.NewTransport(http.DefaultTransport),
	}
}
