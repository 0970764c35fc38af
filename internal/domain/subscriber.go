package domain

import (
	"errors"
	"fmt"
	"time"
)

var (
	ErrInvalidEmail  = errors.New("please provide a valid email address")
	ErrTokenNotFound = errors.New("confirmation token not found")
)

// Subscriber is a waitlist entrant. Position is its 1-based rank in signup order.
type Subscriber struct {
	ID                string    `json:"id"`
	Email             string    `json:"email"`
	ReferralCode      string    `json:"referralCode,omitempty"`
	InviteCode        string    `json:"inviteCode"`
	ReferralCount     int       `json:"referralCount"`
	Source            string    `json:"source,omitempty"`
	Position          int       `json:"position"`
	Confirmed         bool      `json:"confirmed"`
	ConfirmationToken string    `json:"-"`
	CreatedAt         time.Time `json:"createdAt"`
}

// DuplicateSubscriberError reports an email that is already on the waitlist,
// along with the position it was given the first time.
type DuplicateSubscriberError struct {
	Email    string
	Position int
}

func (e *DuplicateSubscriberError) Error() string {
	return fmt.Sprintf("%s is already on the waitlist at position %d", e.Email, e.Position)
}

type SubscribeRequest struct {
	Email        string `json:"email"`
	ReferralCode string `json:"referralCode,omitempty"`
	Source       string `json:"source,omitempty"`
	UserName     string `json:"userName,omitempty"`
	// CustomMessage is shown in the welcome email.
	CustomMessage string `json:"customMessage,omitempty"`
}

type SubscribeResult struct {
	Subscriber       *Subscriber
	TotalSubscribers int
}

type SubscribeResponse struct {
	Success          bool   `json:"success"`
	Message          string `json:"message"`
	Position         int    `json:"position"`
	TotalSubscribers int    `json:"totalSubscribers"`
	InviteCode       string `json:"inviteCode"`
	Confirmed        bool   `json:"confirmed"`
}

type Stats struct {
	Total     int `json:"total"`
	Last7Days int `json:"last7Days"`
}
