package domain

import (
	"context"
	"strings"
)

// AuthKind is the authentication family an adapter belongs to.
type AuthKind string

const (
	AuthOAuthChain    AuthKind = "oauth_chain"
	AuthTokenBearer   AuthKind = "token_bearer"
	AuthCookieSession AuthKind = "cookie_session"
	AuthPasswordToken AuthKind = "password_token"
	AuthSheetHandle   AuthKind = "sheet_handle"
)

type FieldSpec struct {
	Name     string `json:"name"`
	Label    string `json:"label"`
	Type     string `json:"type"`
	Required bool   `json:"required"`
	Help     string `json:"help,omitempty"`
}

// AdapterConfig declares what an adapter needs and how it connects.
type AdapterConfig struct {
	Kind   AuthKind    `json:"kind"`
	Fields []FieldSpec `json:"fields"`
	// PrimaryFields must be present to re-run authentication after the
	// cached session expired.
	PrimaryFields []string `json:"primary_fields,omitempty"`
	// AllowDirectFallback permits a direct connection when no proxy works.
	AllowDirectFallback bool `json:"allow_direct_fallback"`
}

type ValidationResult struct {
	Valid  bool              `json:"valid"`
	Errors map[string]string `json:"errors,omitempty"`
}

// Adapter is one network's implementation of the sync contract. Every
// method is total: failures come back inside the result, never as panics
// or errors crossing the boundary.
type Adapter interface {
	Name() string
	Config() AdapterConfig
	RequiredFields() []FieldSpec
	DefaultConfig() SyncConfig
	ValidateCredentials(creds Credentials) ValidationResult
	TestConnection(ctx context.Context, creds Credentials) ConnectionResult
	SyncData(ctx context.Context, creds Credentials, cfg SyncConfig) SyncResult
}

// Presence reports whether every named field has a non-blank value.
func (c Credentials) Presence(fields ...string) bool {
	for _, f := range fields {
		if strings.TrimSpace(c.Get(f)) == "" {
			return false
		}
	}
	return true
}
