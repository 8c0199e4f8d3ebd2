// Package meter exposes the metering endpoint: it prices a completed chat
// exchange and debits the user's pre-paid balance.
package meter

import "fmt"

// Request is the boundary payload for one completed exchange. The message
// sequence is ordered and ends with the model's reply.
type Request struct {
	Body struct {
		Model    string    `json:"model"`
		Messages []Message `json:"messages"`
	} `json:"body"`
	User struct {
		ID   string `json:"id"`
		Name string `json:"name"`
	} `json:"user"`
}

type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// Error classifications returned in the error_type field.
const (
	ErrTypePayloadInvalid     = "PAYLOAD_INVALID"
	ErrTypePriceNotFound      = "PRICE_NOT_FOUND"
	ErrTypeUserNotFound       = "USER_NOT_FOUND"
	ErrTypePersistenceFailure = "PERSISTENCE_FAILURE"
	ErrTypeRateLimited        = "RATE_LIMITED"
)

func (r *Request) validate() error {
	if r.Body.Model == "" {
		return fmt.Errorf("body.model is required")
	}
	if len(r.Body.Messages) == 0 {
		return fmt.Errorf("body.messages must not be empty")
	}
	if r.User.ID == "" {
		return fmt.Errorf("user.id is required")
	}
	return nil
}
