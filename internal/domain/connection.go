package domain

import (
	"bytes"
	"encoding/json"
	"fmt"
	"time"
)

type ConnectionStatus string

const (
	ConnectionPending   ConnectionStatus = "pending"
	ConnectionConnected ConnectionStatus = "connected"
	ConnectionFailed    ConnectionStatus = "failed"
)

// Session keys stored on a NetworkConnection and overlaid onto credentials.
const (
	SessionAccessToken = "access_token"
	SessionCookies     = "cookies"
)

// Credential is one credential value as supplied by the user record.
// It unmarshals from a bare string or from {"value": "...", "encrypted": true}.
type Credential struct {
	Value     string `json:"value"`
	Encrypted bool   `json:"encrypted,omitempty"`
}

func (c *Credential) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) > 0 && data[0] == '"' {
		var raw string
		if err := json.Unmarshal(data, &raw); err != nil {
			return err
		}
		*c = Credential{Value: raw}
		return nil
	}
	if bytes.Equal(data, []byte("null")) {
		*c = Credential{}
		return nil
	}

	type plain Credential
	var p plain
	if err := json.Unmarshal(data, &p); err != nil {
		return fmt.Errorf("credential must be a string or an object: %w", err)
	}
	*c = Credential(p)
	return nil
}

// Credentials are the resolved plain-text values an adapter works with.
type Credentials map[string]string

func (c Credentials) Get(key string) string {
	if c == nil {
		return ""
	}
	return c[key]
}

// With returns a copy with overrides applied on top.
func (c Credentials) With(overrides map[string]string) Credentials {
	out := make(Credentials, len(c)+len(overrides))
	for k, v := range c {
		out[k] = v
	}
	for k, v := range overrides {
		if v != "" {
			out[k] = v
		}
	}
	return out
}

// Without returns a copy with keys removed.
func (c Credentials) Without(keys ...string) Credentials {
	out := make(Credentials, len(c))
	for k, v := range c {
		out[k] = v
	}
	for _, k := range keys {
		delete(out, k)
	}
	return out
}

// NetworkConnection is a user's credential and config bundle for one network.
type NetworkConnection struct {
	ID           string                `json:"id"`
	UserID       string                `json:"user_id"`
	Network      string                `json:"network"`
	Credentials  map[string]Credential `json:"credentials"`
	Session      map[string]string     `json:"session,omitempty"`
	Status       ConnectionStatus      `json:"status"`
	AuthFailures int                   `json:"auth_failures"`
	LastSyncedAt *time.Time            `json:"last_synced_at,omitempty"`
	UpdatedAt    time.Time             `json:"updated_at"`
}

// Clone deep-copies the maps so stored connections cannot be mutated through
// a returned value.
func (c NetworkConnection) Clone() NetworkConnection {
	out := c
	if c.Credentials != nil {
		out.Credentials = make(map[string]Credential, len(c.Credentials))
		for k, v := range c.Credentials {
			out.Credentials[k] = v
		}
	}
	if c.Session != nil {
		out.Session = make(map[string]string, len(c.Session))
		for k, v := range c.Session {
			out.Session[k] = v
		}
	}
	if c.LastSyncedAt != nil {
		t := *c.LastSyncedAt
		out.LastSyncedAt = &t
	}
	return out
}

// MergeSession stores a refreshed session artifact.
func (c *NetworkConnection) MergeSession(refreshed map[string]string) {
	if len(refreshed) == 0 {
		return
	}
	if c.Session == nil {
		c.Session = make(map[string]string, len(refreshed))
	}
	for k, v := range refreshed {
		c.Session[k] = v
	}
}
