package app

import (
	"github.com/patternscout/patternscout/internal/auth"
	"github.com/patternscout/patternscout/internal/services"
)

// JWTServiceConfig converts AuthConfig into the parameters expected by the JWT service.
func (c AuthConfig) JWTServiceConfig() auth.JWTConfig {
	ttl := c.JWT.TTL
	if ttl <= 0 {
		ttl = auth.DefaultSessionTokenTTL
	}

	return auth.JWTConfig{
		Secret:          c.JWT.Secret,
		Issuer:          c.JWT.Issuer,
		SessionTokenTTL: ttl,
	}
}

// VerificationOptions converts AuthConfig into VerificationService options.
func (c AuthConfig) VerificationOptions() []services.VerificationOption {
	var opts []services.VerificationOption
	if c.Verification.CodeTTL > 0 {
		opts = append(opts, services.WithCodeTTL(c.Verification.CodeTTL))
	}
	if c.Verification.ResendCooldown > 0 {
		opts = append(opts, services.WithResendCooldown(c.Verification.ResendCooldown))
	}
	return opts
}

// ResetOptions converts AuthConfig and the public base URL into
// PasswordResetService options.
func (c AuthConfig) ResetOptions(baseURL string) []services.PasswordResetOption {
	var opts []services.PasswordResetOption
	if c.Reset.TokenTTL > 0 {
		opts = append(opts, services.WithResetTokenTTL(c.Reset.TokenTTL))
	}
	if baseURL != "" {
		opts = append(opts, services.WithResetBaseURL(baseURL))
	}
	return opts
}
