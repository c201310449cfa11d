// Package secrets resolves the database DSN and other credentials behind a
// pluggable Resolver, so production (a cloud secrets manager keyed by
// RDS_SECRET) and local/test environments (a static JSON file or plain env
// vars) share one call site.
package secrets

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"os"
)

// DatabaseCredentials mirrors the {database, username, password} shape the
// RDS_SECRET secret carries.
type DatabaseCredentials struct {
	Database string `json:"database"`
	Username string `json:"username"`
	Password string `json:"password"`
}

// Resolver looks up a named secret and returns its database credentials.
type Resolver interface {
	Resolve(ctx context.Context, secretID string) (DatabaseCredentials, error)
}

// DSN builds a postgres connection string from resolved credentials and the
// proxy host read separately from RDS_PROXY_HOST, per §6.
func DSN(creds DatabaseCredentials, host string) string {
	u := url.URL{
		Scheme: "postgres",
		User:   url.UserPassword(creds.Username, creds.Password),
		Host:   host,
		Path:   "/" + creds.Database,
	}

	return u.String()
}

// EnvResolver reads credentials directly from environment variables, for
// local development where no secrets manager is available.
type EnvResolver struct{}

var _ Resolver = EnvResolver{}

func (EnvResolver) Resolve(_ context.Context, _ string) (DatabaseCredentials, error) {
	creds := DatabaseCredentials{
		Database: os.Getenv("DB_NAME"),
		Username: os.Getenv("DB_USERNAME"),
		Password: os.Getenv("DB_PASSWORD"),
	}

	if creds.Database == "" || creds.Username == "" {
		return DatabaseCredentials{}, fmt.Errorf("secrets: DB_NAME/DB_USERNAME must be set for env resolver")
	}

	return creds, nil
}

// FileResolver reads a JSON file at Path containing the same shape the
// secrets manager would return, keyed by secret id. Used by tests and local
// dev in place of a live secrets manager call.
type FileResolver struct {
	Path string
}

var _ Resolver = FileResolver{}

func (f FileResolver) Resolve(_ context.Context, secretID string) (DatabaseCredentials, error) {
	raw, err := os.ReadFile(f.Path)
	if err != nil {
		return DatabaseCredentials{}, fmt.Errorf("secrets: read %s: %w", f.Path, err)
	}

	var bySecretID map[string]DatabaseCredentials
	if err := json.Unmarshal(raw, &bySecretID); err != nil {
		return DatabaseCredentials{}, fmt.Errorf("secrets: parse %s: %w", f.Path, err)
	}

	creds, ok := bySecretID[secretID]
	if !ok {
		return DatabaseCredentials{}, fmt.Errorf("secrets: no entry for secret id %q in %s", secretID, f.Path)
	}

	return creds, nil
}
