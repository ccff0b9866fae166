package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Credentials is the account the daemon writes as. Pass must be an
// app-specific password, not the account password.
type Credentials struct {
	ID   string `yaml:"id"`
	Pass string `yaml:"pass"`
}

// LoadCredentials reads the YAML credentials file.
func LoadCredentials(path string) (*Credentials, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read credentials: %w", err)
	}

	var creds Credentials
	if err := yaml.Unmarshal(data, &creds); err != nil {
		return nil, fmt.Errorf("parse credentials: %w", err)
	}
	if creds.ID == "" || creds.Pass == "" {
		return nil, fmt.Errorf("credentials file %s must set id and pass", path)
	}
	return &creds, nil
}
