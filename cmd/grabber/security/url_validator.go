package security

import (
	"context"
	"errors"
	"fmt"
	"net/url"

	"github.com/lyzr/mediagrab/common/logger"
	"github.com/lyzr/mediagrab/common/metrics"
	"github.com/lyzr/mediagrab/common/models"
)

// ErrBlocked is wrapped by every gate rejection
var ErrBlocked = errors.New("url blocked")

// URLValidator orchestrates all security validations for URLs
type URLValidator struct {
	protocolValidator *ProtocolValidator
	hostValidator     *HostValidator
	log               logger.Interface
}

// NewURLValidator creates a new URL validator with all security checks
func NewURLValidator(resolver Resolver, log logger.Interface) *URLValidator {
	return &URLValidator{
		protocolValidator: NewProtocolValidator(),
		hostValidator:     NewHostValidator(resolver, log),
		log:               log,
	}
}

// Validate returns nil when rawURL may be contacted, or an error wrapping
// ErrBlocked. Nothing is cached between calls.
func (v *URLValidator) Validate(ctx context.Context, rawURL string) error {
	err := v.validate(ctx, rawURL)
	if err != nil {
		metrics.RecordGateRejection()
	}
	return err
}

func (v *URLValidator) validate(ctx context.Context, rawURL string) error {
	parsedURL, err := url.Parse(rawURL)
	if err != nil {
		return fmt.Errorf("%w: invalid URL format: %v", ErrBlocked, err)
	}
	if !parsedURL.IsAbs() || parsedURL.Host == "" {
		return fmt.Errorf("%w: URL must be absolute", ErrBlocked)
	}

	if err := v.protocolValidator.Validate(parsedURL.Scheme); err != nil {
		return err
	}

	if parsedURL.User != nil {
		return fmt.Errorf("%w: credentials in URL are not allowed", ErrBlocked)
	}

	if port := parsedURL.Port(); !v.protocolValidator.IsStandardPort(port) {
		v.log.Warn("non-standard port", "url", rawURL, "port", port)
	}

	return v.hostValidator.Validate(ctx, parsedURL.Hostname())
}

// Evaluate is Validate expressed as a verdict
func (v *URLValidator) Evaluate(ctx context.Context, rawURL string) models.HostVerdict {
	if err := v.Validate(ctx, rawURL); err != nil {
		return models.HostVerdict{Allowed: false, Reason: err.Error()}
	}
	return models.HostVerdict{Allowed: true}
}
