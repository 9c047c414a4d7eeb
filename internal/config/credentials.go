package config

import (
	"fmt"
	"os"
	"strings"

	yaml "go.yaml.in/yaml/v3"
)

// Credentials is one vault entry (mailbox login, etc.).
// Secret must never be logged in full; use logx.Secret.
type Credentials struct {
	Address    string `yaml:"address"`
	Secret     string `yaml:"secret"`
	ServerHost string `yaml:"server_host,omitempty"`
}

// CredentialSource abstracts the external credential vault. The GUI shell
// owns the real vault; the core only ever reads through this interface.
type CredentialSource interface {
	Lookup(kind string) (Credentials, error)
}

// FileVault reads credentials from a YAML file of kind -> entry. It is the
// headless stand-in for the platform vault; the file must not be
// group/world readable.
type FileVault struct {
	path string
}

func NewFileVault(path string) *FileVault { return &FileVault{path: path} }

func (v *FileVault) Lookup(kind string) (Credentials, error) {
	fi, err := os.Stat(v.path)
	if err != nil {
		return Credentials{}, err
	}
	if fi.Mode().Perm()&0o077 != 0 {
		return Credentials{}, fmt.Errorf("credential file %s is too permissive (%o); want 0600", v.path, fi.Mode().Perm())
	}
	b, err := os.ReadFile(v.path)
	if err != nil {
		return Credentials{}, err
	}
	var entries map[string]Credentials
	if err := yaml.Unmarshal(b, &entries); err != nil {
		return Credentials{}, fmt.Errorf("credential file: %w", err)
	}
	c, ok := entries[kind]
	if !ok {
		return Credentials{}, fmt.Errorf("no credentials for kind %q", kind)
	}
	if strings.TrimSpace(c.Address) == "" || c.Secret == "" {
		return Credentials{}, fmt.Errorf("credentials for %q incomplete", kind)
	}
	return c, nil
}

// EnvVault resolves credentials from environment variables:
// COURTBOT_<KIND>_ADDRESS / _SECRET / _HOST. Useful for tests and CI.
type EnvVault struct{}

func (EnvVault) Lookup(kind string) (Credentials, error) {
	prefix := "COURTBOT_" + strings.ToUpper(strings.TrimSpace(kind)) + "_"
	c := Credentials{
		Address:    os.Getenv(prefix + "ADDRESS"),
		Secret:     os.Getenv(prefix + "SECRET"),
		ServerHost: os.Getenv(prefix + "HOST"),
	}
	if c.Address == "" || c.Secret == "" {
		return Credentials{}, fmt.Errorf("no credentials for kind %q in environment", kind)
	}
	return c, nil
}
