package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"strings"
	"time"

	"github.com/tayster/payme-api/internal/obs"
)

// Discord delivers notifications to a Discord webhook as rich embeds.
// Attachments are sent as multipart payload_json + file, matching the
// webhook API's upload contract.
type Discord struct {
	WebhookURL string
	Client     *http.Client
}

type discordEmbedField struct {
	Name   string `json:"name"`
	Value  string `json:"value"`
	Inline bool   `json:"inline"`
}

type discordEmbed struct {
	Title       string              `json:"title,omitempty"`
	Description string              `json:"description,omitempty"`
	Color       int                 `json:"color,omitempty"`
	Fields      []discordEmbedField `json:"fields,omitempty"`
	Timestamp   string              `json:"timestamp,omitempty"`
	Footer      *struct {
		Text string `json:"text"`
	} `json:"footer,omitempty"`
}

type discordPayload struct {
	Content string         `json:"content,omitempty"`
	Embeds  []discordEmbed `json:"embeds"`
}

func (d Discord) httpClient() *http.Client {
	if d.Client != nil {
		return d.Client
	}
	return HTTPClient(0)
}

// Notify posts the event to the configured webhook. A non-2xx response is an error.
func (d Discord) Notify(ctx context.Context, e Event) error {
	if strings.TrimSpace(d.WebhookURL) == "" {
		return errors.New("discord webhook url not configured")
	}
	err := d.send(ctx, e)
	if obs.NotificationTotal != nil {
		result := "sent"
		if err != nil {
			result = "error"
		}
		kind := e.Kind
		if kind == "" {
			kind = "generic"
		}
		obs.NotificationTotal.WithLabelValues(kind, result).Inc()
	}
	return err
}

func (d Discord) send(ctx context.Context, e Event) error {
	payload := d.buildPayload(e)
	encoded, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("encode notification: %w", err)
	}

	var req *http.Request
	if e.Attachment != nil && len(e.Attachment.Data) > 0 {
		body := &bytes.Buffer{}
		writer := multipart.NewWriter(body)
		if err := writer.WriteField("payload_json", string(encoded)); err != nil {
			return fmt.Errorf("write payload_json: %w", err)
		}
		part, err := writer.CreatePart(fileHeader(e.Attachment))
		if err != nil {
			return fmt.Errorf("create attachment part: %w", err)
		}
		if _, err := part.Write(e.Attachment.Data); err != nil {
			return fmt.Errorf("write attachment: %w", err)
		}
		if err := writer.Close(); err != nil {
			return fmt.Errorf("finalise multipart body: %w", err)
		}
		req, err = http.NewRequestWithContext(ctx, http.MethodPost, d.WebhookURL, body)
		if err != nil {
			return err
		}
		req.Header.Set("Content-Type", writer.FormDataContentType())
	} else {
		var err error
		req, err = http.NewRequestWithContext(ctx, http.MethodPost, d.WebhookURL, bytes.NewReader(encoded))
		if err != nil {
			return err
		}
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := d.httpClient().Do(req)
	if err != nil {
		return fmt.Errorf("deliver notification: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		detail, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("discord webhook returned %d: %s", resp.StatusCode, strings.TrimSpace(string(detail)))
	}
	return nil
}

func (d Discord) buildPayload(e Event) discordPayload {
	embed := discordEmbed{
		Title:       e.Title,
		Description: e.Body,
		Color:       e.Color,
	}
	for _, f := range e.Fields {
		embed.Fields = append(embed.Fields, discordEmbedField{Name: f.Name, Value: f.Value, Inline: f.Inline})
	}
	ts := e.Timestamp
	if ts.IsZero() {
		ts = time.Now()
	}
	embed.Timestamp = ts.UTC().Format(time.RFC3339)
	if strings.TrimSpace(e.Footer) != "" {
		embed.Footer = &struct {
			Text string `json:"text"`
		}{Text: e.Footer}
	}
	payload := discordPayload{Embeds: []discordEmbed{embed}}
	if e.Ping {
		payload.Content = "@everyone " + e.Title
	}
	return payload
}

func fileHeader(a *Attachment) textproto.MIMEHeader {
	name := strings.TrimSpace(a.Filename)
	if name == "" {
		name = "attachment"
	}
	h := textproto.MIMEHeader{}
	h.Set("Content-Disposition", fmt.Sprintf(`form-data; name="file"; filename=%q`, name))
	contentType := strings.TrimSpace(a.ContentType)
	if contentType == "" {
		contentType = "application/octet-stream"
	}
	h.Set("Content-Type", contentType)
	return h
}
