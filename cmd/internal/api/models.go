package api

import (
	"time"

	"relay/cmd/identity"
	"relay/cmd/internal/auth/session"
	"relay/cmd/internal/ingest"
	"relay/cmd/internal/threads"
)

type registerRequest struct {
	Email    string `json:"email"`
	Username string `json:"username"`
	Password string `json:"password"`
}

type loginRequest struct {
	Email      string `json:"email"`
	Password   string `json:"password"`
	Platform   string `json:"platform"`
	RememberMe bool   `json:"remember_me"`
}

type refreshRequest struct {
	RefreshToken string `json:"refresh_token"`
	Platform     string `json:"platform"`
	RememberMe   bool   `json:"remember_me"`
}

type logoutRequest struct {
	RefreshToken string `json:"refresh_token"`
}

type preferencesRequest struct {
	ChatTheme *string `json:"chat_theme"`
	DarkMode  *bool   `json:"dark_mode"`
}

type profileRequest struct {
	Email     *string `json:"email"`
	Username  *string `json:"username"`
	ChatTheme *string `json:"chat_theme"`
	DarkMode  *bool   `json:"dark_mode"`
}

type threadRequest struct {
	Title string `json:"title"`
}

type postMessageRequest struct {
	Content         string `json:"content"`
	ClientMessageID string `json:"client_message_id"`
}

type userResponse struct {
	ID        string    `json:"id"`
	Email     string    `json:"email"`
	Username  *string   `json:"username"`
	ChatTheme *string   `json:"chat_theme"`
	DarkMode  bool      `json:"dark_mode"`
	CreatedAt time.Time `json:"created_at"`
}

type userEnvelope struct {
	User userResponse `json:"user"`
}

type tokenResponse struct {
	AccessToken      string    `json:"access_token"`
	RefreshToken     string    `json:"refresh_token"`
	TokenType        string    `json:"token_type"`
	ExpiresIn        int64     `json:"expires_in"`
	SessionID        string    `json:"session_id"`
	RefreshExpiresAt time.Time `json:"refresh_expires_at"`
}

type threadEnvelope struct {
	Thread threads.Thread `json:"thread"`
}

type threadList struct {
	Threads []threads.Thread `json:"threads"`
	// NextBefore is the cursor for the following page; empty on the last page.
	NextBefore string `json:"next_before,omitempty"`
}

type messageEnvelope struct {
	Message ingest.Message `json:"message"`
}

type messageList struct {
	Messages []ingest.Message `json:"messages"`
}

func toUserResponse(u identity.User) userResponse {
	return userResponse{
		ID:        u.ID,
		Email:     u.Email,
		Username:  u.Username,
		ChatTheme: u.ChatTheme,
		DarkMode:  u.DarkMode,
		CreatedAt: u.CreatedAt,
	}
}

func toTokenResponse(iss session.Issued, now time.Time) tokenResponse {
	exp := int64(iss.AccessExp.Sub(now).Seconds())
	if exp < 0 {
		exp = 0
	}
	return tokenResponse{
		AccessToken:      iss.AccessToken,
		RefreshToken:     iss.RefreshToken,
		TokenType:        "bearer",
		ExpiresIn:        exp,
		SessionID:        iss.SessionID,
		RefreshExpiresAt: iss.RefreshExp,
	}
}
