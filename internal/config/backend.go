package config

import "strings"

// ConfigBackend is where non-secret settings persist between runs: the
// `defaults` domain on macOS, a JSON file elsewhere. Floats and booleans
// are stored as strings.
type ConfigBackend interface {
	GetString(key string) (val string, ok bool, err error)
	GetInt(key string) (val int, ok bool, err error)
	SetString(key, val string) error
	SetInt(key string, val int) error
	Delete(key string) error
}

// keychain looks up secrets that are never written to the config backend.
type keychain interface {
	Get(service, account string) (string, error)
}

// keychainReader reads from the platform secret store through keychainExec.
type keychainReader struct{}

func (keychainReader) Get(service, account string) (string, error) {
	out, err := keychainExec(service, account)
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(string(out)), nil
}
