// Package auth maps bearer API keys onto configured users.
package auth

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/redactai/redactai/internal/config"
)

// User is the runtime identity attached to an authenticated request.
type User struct {
	ID                string
	Email             string
	NotificationEmail string
}

// Auth holds mappings from API keys to users.
type Auth struct {
	apiKeyToUser map[string]User
}

// NewFromConfig builds an Auth instance from the loaded config. Keys named by
// api_key_env are resolved here.
func NewFromConfig(cfg *config.Config) (*Auth, error) {
	if cfg == nil || len(cfg.Users) == 0 {
		return nil, errors.New("no users configured")
	}
	m := make(map[string]User)

	for _, u := range cfg.Users {
		if strings.TrimSpace(u.ID) == "" {
			return nil, fmt.Errorf("user with empty id in config")
		}
		user := User{
			ID:                u.ID,
			Email:             u.Email,
			NotificationEmail: u.NotificationEmail,
		}
		keys := append([]string(nil), u.APIKeys...)
		if env := strings.TrimSpace(u.APIKeyEnv); env != "" {
			v := strings.TrimSpace(os.Getenv(env))
			if v == "" {
				return nil, fmt.Errorf("user %q: env %s is empty", u.ID, env)
			}
			keys = append(keys, v)
		}
		for _, key := range keys {
			key = strings.TrimSpace(key)
			if key == "" {
				continue
			}
			if _, exists := m[key]; exists {
				return nil, fmt.Errorf("api key is assigned to multiple users (second: %q)", u.ID)
			}
			m[key] = user
		}
	}

	return &Auth{
		apiKeyToUser: m,
	}, nil
}

// Lookup returns the user for a given API key, if any.
func (a *Auth) Lookup(apiKey string) (User, bool) {
	if a == nil || apiKey == "" {
		return User{}, false
	}
	u, ok := a.apiKeyToUser[apiKey]
	return u, ok
}

// ParseBearer extracts the token from an Authorization header value.
func ParseBearer(header string) (string, bool) {
	scheme, token, ok := strings.Cut(strings.TrimSpace(header), " ")
	if !ok || !strings.EqualFold(scheme, "bearer") {
		return "", false
	}
	token = strings.TrimSpace(token)
	return token, token != ""
}
