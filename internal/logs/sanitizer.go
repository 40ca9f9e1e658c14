package logs

import (
	"strings"
	"sync"

	"go.uber.org/zap/zapcore"
)

// minSecretLen is the shortest value worth masking; shorter ones would
// garble ordinary log text.
const minSecretLen = 8

type secretSet struct {
	mu     sync.RWMutex
	values map[string]struct{}
}

// SecretSanitizer wraps a zapcore.Core and masks registered secret values,
// such as downstream header tokens, in messages and string fields.
type SecretSanitizer struct {
	zapcore.Core
	secrets *secretSet
}

// NewSecretSanitizer creates a new sanitizing core that wraps the provided core
func NewSecretSanitizer(core zapcore.Core) *SecretSanitizer {
	return &SecretSanitizer{
		Core:    core,
		secrets: &secretSet{values: map[string]struct{}{}},
	}
}

// RegisterSecret adds a value to mask
func (s *SecretSanitizer) RegisterSecret(value string) {
	if len(value) < minSecretLen {
		return
	}
	s.secrets.mu.Lock()
	defer s.secrets.mu.Unlock()
	s.secrets.values[value] = struct{}{}
}

func (s *SecretSanitizer) sanitizeString(str string) string {
	s.secrets.mu.RLock()
	defer s.secrets.mu.RUnlock()
	for secret := range s.secrets.values {
		if strings.Contains(str, secret) {
			str = strings.ReplaceAll(str, secret, maskValue(secret))
		}
	}
	return str
}

// Write sanitizes the entry before writing
func (s *SecretSanitizer) Write(entry zapcore.Entry, fields []zapcore.Field) error {
	entry.Message = s.sanitizeString(entry.Message)
	return s.Core.Write(entry, s.sanitizeFields(fields))
}

func (s *SecretSanitizer) sanitizeFields(fields []zapcore.Field) []zapcore.Field {
	out := make([]zapcore.Field, len(fields))
	for i, field := range fields {
		if field.Type == zapcore.StringType {
			field.String = s.sanitizeString(field.String)
		}
		out[i] = field
	}
	return out
}

// With creates a sanitizing child core
func (s *SecretSanitizer) With(fields []zapcore.Field) zapcore.Core {
	return &SecretSanitizer{
		Core:    s.Core.With(s.sanitizeFields(fields)),
		secrets: s.secrets,
	}
}

// Check delegates to the wrapped core
func (s *SecretSanitizer) Check(entry zapcore.Entry, checkedEntry *zapcore.CheckedEntry) *zapcore.CheckedEntry {
	if s.Enabled(entry.Level) {
		return checkedEntry.AddCore(entry, s)
	}
	return checkedEntry
}

// maskValue keeps the first 3 and last 2 characters
func maskValue(value string) string {
	return value[:3] + "***" + value[len(value)-2:]
}
