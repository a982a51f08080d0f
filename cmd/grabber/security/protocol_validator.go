package security

import (
	"fmt"
	"strings"
)

// ProtocolValidator validates URL protocols
type ProtocolValidator struct {
	allowedProtocols map[string]bool
	standardPorts    map[string]bool
}

// NewProtocolValidator creates a new protocol validator
func NewProtocolValidator() *ProtocolValidator {
	return &ProtocolValidator{
		allowedProtocols: map[string]bool{
			"http":  true,
			"https": true,
		},
		standardPorts: map[string]bool{"": true, "80": true, "443": true, "8080": true, "8443": true},
	}
}

// Validate checks if the protocol is allowed
func (v *ProtocolValidator) Validate(scheme string) error {
	normalizedScheme := strings.ToLower(strings.TrimSpace(scheme))

	if normalizedScheme == "" {
		return fmt.Errorf("%w: protocol scheme is required", ErrBlocked)
	}

	if !v.allowedProtocols[normalizedScheme] {
		return fmt.Errorf("%w: protocol '%s' is not allowed (only http/https permitted)", ErrBlocked, scheme)
	}

	return nil
}

// IsStandardPort reports whether port is one browsers commonly use
func (v *ProtocolValidator) IsStandardPort(port string) bool {
	return v.standardPorts[port]
}
