package domain

import "time"

// TokenRequest is the JSON body accepted by the token login endpoint.
type TokenRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

// TokenResponse is returned by the token login endpoint on success.
type TokenResponse struct {
	Token     string    `json:"token"`
	ExpiresAt time.Time `json:"expires_at"`
}

// ChannelStatus reports the live member count of a channel.
type ChannelStatus struct {
	Channel string `json:"channel"`
	Count   int    `json:"count"`
}

// ErrorResponse is the JSON body returned by the server for structured errors.
type ErrorResponse struct {
	Error  string `json:"error"`
	Detail string `json:"detail,omitempty"`
}
