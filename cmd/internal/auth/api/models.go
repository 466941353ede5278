package authapi

import (
	"time"

	v1 "chatline/shared/contracts/presence/v1"
)

// User is the account record returned by the API.
type User struct {
	ID          int64      `json:"id"`
	Username    string     `json:"username"`
	DisplayName *string    `json:"display_name,omitempty"`
	AvatarURL   *string    `json:"avatar_url,omitempty"`
	Status      v1.Status  `json:"status"`
	LastSeen    *time.Time `json:"last_seen,omitempty"`
	CreatedAt   time.Time  `json:"created_at"`
	UpdatedAt   time.Time  `json:"updated_at"`
}

// Name returns the display name, falling back to the username.
func (u User) Name() string {
	if u.DisplayName != nil && *u.DisplayName != "" {
		return *u.DisplayName
	}
	return u.Username
}

// AuthResponse is returned by sign-in and sign-up.
type AuthResponse struct {
	User        User   `json:"user"`
	AccessToken string `json:"accessToken"`
	Message     string `json:"message"`
}

// RefreshResponse is returned by the refresh endpoint.
type RefreshResponse struct {
	AccessToken string `json:"accessToken"`
	Message     string `json:"message"`
}

// MessageResponse is a bare acknowledgement.
type MessageResponse struct {
	Message string `json:"message"`
}

type signInRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type signUpRequest struct {
	Username    string `json:"username"`
	Password    string `json:"password"`
	DisplayName string `json:"display_name,omitempty"`
}
