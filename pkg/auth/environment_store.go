package auth

import (
	"os"
	"time"
)

// Environment variables holding a token, in increasing priority
var tokenEnvVars = []string{"HF_TOKEN", "DSFETCH_HUB_TOKEN"}

// EnvironmentStore implements CredentialStore over environment variables.
// It is read-only and serves the same token for every profile.
type EnvironmentStore struct{}

// NewEnvironmentStore creates a new environment-based credential store
func NewEnvironmentStore() *EnvironmentStore {
	return &EnvironmentStore{}
}

// Store is not supported for environment variables
func (e *EnvironmentStore) Store(cred *Credential) error {
	return ErrStoreUnavailable
}

// Retrieve gets the token from the environment
func (e *EnvironmentStore) Retrieve(profile string) (*Credential, error) {
	token := envToken()
	if token == "" {
		return nil, ErrCredentialsNotFound
	}
	if profile == "" {
		profile = DefaultProfile
	}

	return &Credential{
		Profile:      profile,
		Token:        token,
		LastModified: time.Now(),
	}, nil
}

// List returns a single credential if a token variable is set
func (e *EnvironmentStore) List() ([]*Credential, error) {
	cred, err := e.Retrieve("")
	if err != nil {
		return []*Credential{}, nil
	}
	return []*Credential{cred}, nil
}

// Delete is not supported for environment variables
func (e *EnvironmentStore) Delete(profile string) error {
	return ErrStoreUnavailable
}

// Exists checks if a token variable is set
func (e *EnvironmentStore) Exists(profile string) bool {
	return envToken() != ""
}

func envToken() string {
	var token string
	for _, name := range tokenEnvVars {
		if v := os.Getenv(name); v != "" {
			token = v
		}
	}
	return token
}
