// Package connstr parses Service Bus connection strings and classifies the
// host they point at.
package connstr

import (
	"errors"
	"strings"
)

const endpointPrefix = "Endpoint=sb://"

var ErrInvalid = errors.New("invalid Service Bus connection string")

// ConnectionString is the parsed form of a Service Bus connection string.
type ConnectionString struct {
	Endpoint               string
	Host                   string
	SharedAccessKeyName    string
	SharedAccessKey        string
	SharedAccessSignature  string
	EntityPath             string
	UseDevelopmentEmulator bool
}

// Parse splits s into its key=value parts. Keys are matched
// case-insensitively; values keep everything after the first '='.
func Parse(s string) (ConnectionString, error) {
	s = strings.TrimSpace(s)
	host, err := Host(s)
	if err != nil {
		return ConnectionString{}, err
	}

	out := ConnectionString{Host: host}
	for _, part := range strings.Split(s, ";") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		key, val, ok := strings.Cut(part, "=")
		if !ok {
			return ConnectionString{}, ErrInvalid
		}
		switch strings.ToLower(strings.TrimSpace(key)) {
		case "endpoint":
			out.Endpoint = strings.TrimSpace(val)
		case "sharedaccesskeyname":
			out.SharedAccessKeyName = strings.TrimSpace(val)
		case "sharedaccesskey":
			out.SharedAccessKey = strings.TrimSpace(val)
		case "sharedaccesssignature":
			out.SharedAccessSignature = strings.TrimSpace(val)
		case "entitypath":
			out.EntityPath = strings.TrimSpace(val)
		case "usedevelopmentemulator":
			out.UseDevelopmentEmulator = strings.EqualFold(strings.TrimSpace(val), "true")
		}
	}
	return out, nil
}

// Host returns the namespace host of s. The endpoint must be the first
// part and must be terminated by ';'.
func Host(s string) (string, error) {
	if len(s) < len(endpointPrefix) || !strings.EqualFold(s[:len(endpointPrefix)], endpointPrefix) {
		return "", ErrInvalid
	}
	end := strings.IndexByte(s[len(endpointPrefix):], ';')
	if end == -1 {
		return "", ErrInvalid
	}
	host := strings.TrimRight(s[len(endpointPrefix):len(endpointPrefix)+end], "/")
	return host, nil
}

// IsEmulatorHost reports whether host refers to the local machine.
func IsEmulatorHost(host string) bool {
	return strings.Contains(host, "localhost") ||
		strings.Contains(host, "127.0.0.1") ||
		strings.Contains(host, "::1")
}

// Redact masks the shared access key and any SAS token. Strings that do
// not parse are replaced entirely.
func Redact(s string) string {
	if strings.TrimSpace(s) == "" {
		return ""
	}
	parts := strings.Split(s, ";")
	found := false
	for i, part := range parts {
		key, _, ok := strings.Cut(part, "=")
		if !ok {
			continue
		}
		if isSecretKey(key) {
			parts[i] = key + "=***"
			found = true
		}
	}
	if !found {
		if _, err := Host(s); err != nil {
			return "***"
		}
	}
	return strings.Join(parts, ";")
}

func isSecretKey(key string) bool {
	key = strings.TrimSpace(key)
	return strings.EqualFold(key, "SharedAccessKey") || strings.EqualFold(key, "SharedAccessSignature")
}

// WithHost replaces the endpoint host of s, keeping every other part.
func WithHost(s, host string) (string, error) {
	cur, err := Host(s)
	if err != nil {
		return "", err
	}
	host = strings.TrimSpace(host)
	if host == "" {
		return "", ErrInvalid
	}
	rest := s[len(endpointPrefix):]
	rest = strings.TrimPrefix(rest, cur)
	rest = strings.TrimLeft(rest, "/")
	return "Endpoint=sb://" + host + rest, nil
}
