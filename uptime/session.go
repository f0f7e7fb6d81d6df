package uptime

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"
)

// Session drives the login/register/logout flows and keeps the Client's
// AuthContext current.
type Session struct {
	client *Client
	auth   *AuthContext
	logger *zap.Logger
}

func NewSession(c *Client) *Session {
	return &Session{
		client: c,
		auth:   c.Auth(),
		logger: c.Logger().Named("session"),
	}
}

func (s *Session) Login(ctx context.Context, creds Credentials) error {
	token, err := s.client.Login(ctx, creds)
	if err != nil {
		return err
	}
	if token.AccessToken == "" {
		return fmt.Errorf("login: %w: empty access token", ErrNotAuthenticated)
	}
	if err := s.auth.Set(token.AccessToken); err != nil {
		s.logger.Warn("token not persisted", zap.Error(err))
	}
	s.logger.Info("logged in", zap.String("email", creds.Email))
	return nil
}

// Register creates the account and stores a token. When the service answers
// registration with only a message, Register logs in with the same
// credentials.
func (s *Session) Register(ctx context.Context, creds Credentials) error {
	token, err := s.client.Register(ctx, creds)
	if err != nil {
		return err
	}
	if token.AccessToken == "" {
		s.logger.Debug("register returned no token, logging in", zap.String("message", token.Message))
		return s.Login(ctx, creds)
	}
	if err := s.auth.Set(token.AccessToken); err != nil {
		s.logger.Warn("token not persisted", zap.Error(err))
	}
	s.logger.Info("registered", zap.String("email", creds.Email))
	return nil
}

func (s *Session) Logout() error {
	if err := s.auth.Clear(); err != nil {
		return fmt.Errorf("logout: %w", err)
	}
	s.logger.Info("logged out")
	return nil
}

// Authenticated reports whether a usable token is held at now.
func (s *Session) Authenticated(now time.Time) bool {
	return s.auth.Get() != "" && !s.auth.Expired(now)
}
