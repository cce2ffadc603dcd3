package config

import (
	"errors"
	"os"
	"strings"
	"sync"
)

// KeySource records where a set of API keys came from.
type KeySource string

const (
	SourceEnvironment KeySource = "environment"
	SourceManual      KeySource = "manual"
)

const (
	GoogleKeyEnv = "GOOGLE_API_KEY"
	SerperKeyEnv = "SERPER_API_KEY"
)

// ErrMissingCredentials is wrapped by every MissingCredentialsError.
var ErrMissingCredentials = errors.New("missing credentials")

// MissingCredentialsError lists the keys that could not be resolved.
type MissingCredentialsError struct {
	Missing []string
}

func (e *MissingCredentialsError) Error() string {
	return "missing API keys: " + strings.Join(e.Missing, ", ")
}

func (e *MissingCredentialsError) Unwrap() error {
	return ErrMissingCredentials
}

// APIKeys is the immutable credential set threaded into a pipeline run.
type APIKeys struct {
	Google string    `json:"-"`
	Serper string    `json:"-"`
	Source KeySource `json:"source"`
}

// Validate fails with a *MissingCredentialsError when either key is blank.
func (k APIKeys) Validate() error {
	var missing []string
	if strings.TrimSpace(k.Google) == "" {
		missing = append(missing, GoogleKeyEnv+" (Google Gemini API)")
	}
	if strings.TrimSpace(k.Serper) == "" {
		missing = append(missing, SerperKeyEnv+" (Serper Web Search API)")
	}
	if len(missing) > 0 {
		return &MissingCredentialsError{Missing: missing}
	}
	return nil
}

func (k APIKeys) Ready() bool {
	return k.Validate() == nil
}

// KeyStatus is a display-safe view of the key state; it never carries key values.
type KeyStatus struct {
	Method          KeySource `json:"method"`
	GoogleInEnv     bool      `json:"google_in_env"`
	SerperInEnv     bool      `json:"serper_in_env"`
	GoogleReady     bool      `json:"google_ready"`
	SerperReady     bool      `json:"serper_ready"`
	ManualGoogleSet bool      `json:"manual_google_set"`
	ManualSerperSet bool      `json:"manual_serper_set"`
}

func (s KeyStatus) Ready() bool {
	return s.GoogleReady && s.SerperReady
}

// KeyState holds the process-wide key selection. Environment keys are looked
// up on every call so changes to the environment are picked up; manual keys
// live only in this value and never touch the environment.
type KeyState struct {
	mu       sync.RWMutex
	lookup   func(string) (string, bool)
	fallback APIKeys
	method   KeySource
	manual   APIKeys
}

// NewKeyState returns a KeyState in environment mode. fallback supplies keys
// that were loaded from a config file and are used when the variable is unset.
func NewKeyState(fallback APIKeys) *KeyState {
	return &KeyState{
		lookup:   os.LookupEnv,
		fallback: fallback,
		method:   SourceEnvironment,
	}
}

// WithLookup replaces the environment lookup, mainly for tests.
func (s *KeyState) WithLookup(fn func(string) (string, bool)) *KeyState {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lookup = fn
	return s
}

func (s *KeyState) envKeys() APIKeys {
	keys := APIKeys{Source: SourceEnvironment}
	if v, ok := s.lookup(GoogleKeyEnv); ok && strings.TrimSpace(v) != "" {
		keys.Google = strings.TrimSpace(v)
	} else {
		keys.Google = s.fallback.Google
	}
	if v, ok := s.lookup(SerperKeyEnv); ok && strings.TrimSpace(v) != "" {
		keys.Serper = strings.TrimSpace(v)
	} else {
		keys.Serper = s.fallback.Serper
	}
	return keys
}

// SetManual switches to manually entered keys for the rest of the process.
// A blank value keeps the key entered earlier.
func (s *KeyState) SetManual(google, serper string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.method = SourceManual
	s.manual.Source = SourceManual
	if v := strings.TrimSpace(google); v != "" {
		s.manual.Google = v
	}
	if v := strings.TrimSpace(serper); v != "" {
		s.manual.Serper = v
	}
}

// UseEnvironment switches back to environment keys. Manually entered keys are
// kept so that switching back to manual mode restores them.
func (s *KeyState) UseEnvironment() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.method = SourceEnvironment
}

// Effective returns the keys the next run should use.
func (s *KeyState) Effective() APIKeys {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.method == SourceManual {
		return s.manual
	}
	return s.envKeys()
}

func (s *KeyState) Status() KeyStatus {
	s.mu.RLock()
	env := s.envKeys()
	method := s.method
	manual := s.manual
	s.mu.RUnlock()

	effective := env
	if method == SourceManual {
		effective = manual
	}
	return KeyStatus{
		Method:          method,
		GoogleInEnv:     env.Google != "",
		SerperInEnv:     env.Serper != "",
		GoogleReady:     effective.Google != "",
		SerperReady:     effective.Serper != "",
		ManualGoogleSet: manual.Google != "",
		ManualSerperSet: manual.Serper != "",
	}
}
