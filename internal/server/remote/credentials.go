package remote

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/dmitrijs2005/mediasync/internal/server/models"
)

// Credentials is resolved secret material for a provider session.
type Credentials struct {
	AccessKeyID     string `json:"access_key_id"`
	SecretAccessKey string `json:"secret_access_key"`
	SessionToken    string `json:"session_token,omitempty"`
}

// String never prints the secret.
func (c Credentials) String() string {
	return fmt.Sprintf("Credentials{AccessKeyID:%s}", c.AccessKeyID)
}

// CredentialResolver turns an account's opaque credentials ref into secrets.
type CredentialResolver interface {
	Resolve(ctx context.Context, ref string) (Credentials, error)
}

// RefResolver understands two ref schemes:
//
//	env:NAME        reads NAME_ACCESS_KEY_ID, NAME_SECRET_ACCESS_KEY, NAME_SESSION_TOKEN
//	file:/path.json reads a JSON document with the Credentials fields
type RefResolver struct {
	Getenv   func(string) string
	ReadFile func(string) ([]byte, error)
}

// NewRefResolver returns a resolver backed by the process environment and filesystem.
func NewRefResolver() *RefResolver {
	return &RefResolver{Getenv: os.Getenv, ReadFile: os.ReadFile}
}

func (r *RefResolver) Resolve(ctx context.Context, ref string) (Credentials, error) {
	scheme, value, ok := strings.Cut(ref, ":")
	if !ok || value == "" {
		return Credentials{}, NewError(models.KindAuth, "credentials", fmt.Errorf("malformed credentials ref %q", scheme))
	}

	var c Credentials
	switch scheme {
	case "env":
		name := strings.ToUpper(value)
		c = Credentials{
			AccessKeyID:     r.Getenv(name + "_ACCESS_KEY_ID"),
			SecretAccessKey: r.Getenv(name + "_SECRET_ACCESS_KEY"),
			SessionToken:    r.Getenv(name + "_SESSION_TOKEN"),
		}
	case "file":
		data, err := r.ReadFile(value)
		if err != nil {
			return Credentials{}, NewError(models.KindAuth, "credentials", err)
		}
		if err := json.Unmarshal(data, &c); err != nil {
			return Credentials{}, NewError(models.KindAuth, "credentials", fmt.Errorf("decode %s: %w", value, err))
		}
	default:
		return Credentials{}, NewError(models.KindAuth, "credentials", fmt.Errorf("unsupported ref scheme %q", scheme))
	}

	if c.AccessKeyID == "" || c.SecretAccessKey == "" {
		return Credentials{}, NewError(models.KindAuth, "credentials", errors.New("incomplete credentials"))
	}
	return c, nil
}
