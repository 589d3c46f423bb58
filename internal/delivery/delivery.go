// Package delivery sends outbound WhatsApp messages through the Fonnte gateway.
package delivery

import "context"

// ErrNotConfigured is the Result.Error reported when no API token is set.
const ErrNotConfigured = "API key not configured"

// Result is the outcome of one send. Senders never return Go errors; every
// failure is reported in Error with Delivered=false.
type Result struct {
	Delivered  bool   `json:"delivered"`
	ProviderID string `json:"providerId,omitempty"`
	Error      string `json:"error,omitempty"`
}

func failed(msg string) Result { return Result{Error: msg} }

// Sender delivers text to a phone-number-shaped address.
type Sender interface {
	Send(ctx context.Context, target, message string) Result
}
