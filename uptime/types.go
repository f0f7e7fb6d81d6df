// Package uptime defines the resources of the remote health-check service and
// the gateway client used to read and modify them.
package uptime

import (
	"bytes"
	"encoding/json"
	"fmt"
	"time"
)

type Status string

const (
	StatusUp      Status = "up"
	StatusDown    Status = "down"
	StatusPending Status = "pending" // never checked, or status unknown
)

// Methods accepted by the remote service for a monitored endpoint.
var Methods = []string{"GET", "POST", "PUT", "DELETE", "HEAD"}

// Timestamp decodes both RFC 3339 values and the zone-less ISO values the
// health-check service emits. Zone-less values are read as UTC.
type Timestamp struct {
	time.Time
}

var timestampLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05.999999999",
	"2006-01-02 15:04:05.999999999",
}

func (t *Timestamp) UnmarshalJSON(data []byte) error {
	if bytes.Equal(data, []byte("null")) {
		return nil
	}
	var raw string
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	for _, layout := range timestampLayouts {
		if parsed, err := time.Parse(layout, raw); err == nil {
			t.Time = parsed.UTC()
			return nil
		}
	}
	return fmt.Errorf("uptime: unrecognised timestamp %q", raw)
}

func (t Timestamp) MarshalJSON() ([]byte, error) {
	return json.Marshal(t.Time.UTC().Format(time.RFC3339Nano))
}

// Endpoint is the client's transient copy of a monitored endpoint.
type Endpoint struct {
	ID               string            `json:"_id"`
	Name             string            `json:"name"`
	URL              string            `json:"url"`
	Method           string            `json:"method"`
	Interval         int               `json:"interval"`          // seconds
	Timeout          *int              `json:"timeout,omitempty"` // seconds
	IsActive         bool              `json:"is_active"`
	CurrentStatus    Status            `json:"current_status"`
	LastChecked      *Timestamp        `json:"last_checked"`
	LastResponseTime *int              `json:"last_response_time"` // milliseconds
	SlackWebhookURL  string            `json:"slack_webhook_url,omitempty"`
	AlertEmail       string            `json:"alert_email,omitempty"`
	Headers          map[string]string `json:"headers,omitempty"`
	Body             map[string]any    `json:"body,omitempty"`
	OwnerEmail       string            `json:"owner_email,omitempty"`
	CreatedAt        *Timestamp        `json:"created_at,omitempty"`
}

// UnmarshalJSON accepts both "_id" and "id" and maps a missing status to
// StatusPending.
func (e *Endpoint) UnmarshalJSON(data []byte) error {
	type alias Endpoint
	aux := struct {
		*alias
		AltID         string  `json:"id"`
		CurrentStatus *Status `json:"current_status"`
	}{alias: (*alias)(e)}
	if err := json.Unmarshal(data, &aux); err != nil {
		return err
	}
	if e.ID == "" {
		e.ID = aux.AltID
	}
	e.CurrentStatus = StatusPending
	if aux.CurrentStatus != nil && *aux.CurrentStatus != "" {
		e.CurrentStatus = *aux.CurrentStatus
	}
	return nil
}

// EndpointInput is the create payload.
type EndpointInput struct {
	Name            string            `json:"name" validate:"required"`
	URL             string            `json:"url" validate:"required,http_url"`
	Method          string            `json:"method" validate:"required,oneof=GET POST PUT DELETE HEAD"`
	Interval        int               `json:"interval" validate:"gte=10"`
	Timeout         *int              `json:"timeout,omitempty" validate:"omitempty,gte=1"`
	IsActive        *bool             `json:"is_active,omitempty"`
	SlackWebhookURL string            `json:"slack_webhook_url,omitempty" validate:"omitempty,http_url"`
	AlertEmail      string            `json:"alert_email,omitempty" validate:"omitempty,email"`
	Headers         map[string]string `json:"headers,omitempty"`
	Body            map[string]any    `json:"body,omitempty"`
}

// NewEndpointInput returns a create payload with the add-endpoint form
// defaults: GET, every 60s, 5s timeout.
func NewEndpointInput(name, rawURL string) EndpointInput {
	timeout := 5
	return EndpointInput{
		Name:     name,
		URL:      rawURL,
		Method:   "GET",
		Interval: 60,
		Timeout:  &timeout,
	}
}

// EndpointPatch is a partial update. Nil fields are left untouched remotely.
type EndpointPatch struct {
	Name            *string           `json:"name,omitempty" validate:"omitempty,min=1"`
	URL             *string           `json:"url,omitempty" validate:"omitempty,http_url"`
	Method          *string           `json:"method,omitempty" validate:"omitempty,oneof=GET POST PUT DELETE HEAD"`
	Interval        *int              `json:"interval,omitempty" validate:"omitempty,gte=10"`
	Timeout         *int              `json:"timeout,omitempty" validate:"omitempty,gte=1"`
	IsActive        *bool             `json:"is_active,omitempty"`
	SlackWebhookURL *string           `json:"slack_webhook_url,omitempty" validate:"omitempty,http_url"`
	AlertEmail      *string           `json:"alert_email,omitempty" validate:"omitempty,email"`
	Headers         map[string]string `json:"headers,omitempty"`
	Body            map[string]any    `json:"body,omitempty"`
}

// CheckLog is one immutable health-check record.
type CheckLog struct {
	ID             string    `json:"_id"`
	EndpointID     string    `json:"endpoint_id"`
	CheckedAt      Timestamp `json:"checked_at"`
	Success        bool      `json:"success"`
	StatusCode     *int      `json:"status_code"`
	Error          *string   `json:"error"`
	ResponseTimeMS *int      `json:"response_time_ms"`
}

func (l *CheckLog) UnmarshalJSON(data []byte) error {
	type alias CheckLog
	aux := struct {
		*alias
		AltID string `json:"id"`
	}{alias: (*alias)(l)}
	if err := json.Unmarshal(data, &aux); err != nil {
		return err
	}
	if l.ID == "" {
		l.ID = aux.AltID
	}
	return nil
}

// StatsSummary is the remote aggregate for one endpoint, valid for a single
// fetch cycle.
type StatsSummary struct {
	UptimePercentage    float64 `json:"uptime_percentage"`
	AverageResponseTime float64 `json:"average_response_time"`
	TotalChecks         int     `json:"total_checks"`
	SuccessfulChecks    int     `json:"successful_checks"`
}

type Credentials struct {
	Email    string `json:"email" validate:"required,email"`
	Password string `json:"password" validate:"required,min=6"`
}

// Token is the auth response. Register may answer with only Message set.
type Token struct {
	AccessToken string `json:"access_token"`
	TokenType   string `json:"token_type"`
	Message     string `json:"message,omitempty"`
}
