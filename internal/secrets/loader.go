package secrets

import (
	"fmt"
	"os"
	"strings"
)

// Source describes where a secret may come from. The first configured
// source wins, in the order File, Env, Value.
type Source struct {
	// Name is used in error messages to give more context about the secret.
	Name string
	// Value is an inline secret from the configuration file.
	Value string
	// Env names an environment variable holding the secret itself.
	Env string
	// File points to a file containing the secret value.
	File string
}

// Load returns the trimmed secret. A source that is configured but yields
// nothing is an error; it never falls through to the next one.
func Load(src Source) (string, error) {
	name := strings.TrimSpace(src.Name)
	if name == "" {
		name = "secret"
	}

	if file := strings.TrimSpace(src.File); file != "" {
		data, err := os.ReadFile(file)
		if err != nil {
			return "", fmt.Errorf("reading %s from file %q: %w", name, file, err)
		}
		if secret := strings.TrimSpace(string(data)); secret != "" {
			return secret, nil
		}
		return "", fmt.Errorf("%s file %q is empty", name, file)
	}

	if env := strings.TrimSpace(src.Env); env != "" {
		if value, ok := os.LookupEnv(env); ok {
			if secret := strings.TrimSpace(value); secret != "" {
				return secret, nil
			}
			return "", fmt.Errorf("%s environment variable %s is empty", name, env)
		}
	}

	if secret := strings.TrimSpace(src.Value); secret != "" {
		return secret, nil
	}

	return "", fmt.Errorf("%s is not configured", name)
}

// Configured reports whether any source could yield a secret.
func Configured(src Source) bool {
	if strings.TrimSpace(src.File) != "" || strings.TrimSpace(src.Value) != "" {
		return true
	}
	if env := strings.TrimSpace(src.Env); env != "" {
		_, ok := os.LookupEnv(env)
		return ok
	}
	return false
}
