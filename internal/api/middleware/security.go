package middleware

import (
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
)

// HSTSMaxAge is the max-age of the HSTS header, one year in seconds
const HSTSMaxAge = 31536000

// SecurityConfig holds configuration for security middleware
type SecurityConfig struct {
	AllowedOrigins   []string
	AllowCredentials bool

	HSTSMaxAge            int
	HSTSExcludeSubdomains bool

	ContentSecurityPolicy string
}

// DefaultSecurityConfig allows every origin. The API is consumed by browser front ends
// served from other hosts.
func DefaultSecurityConfig() SecurityConfig {
	return SecurityConfig{
		AllowedOrigins: []string{"*"},
		HSTSMaxAge:     HSTSMaxAge,
	}
}

// NewCORS creates a CORS middleware with the given configuration
func NewCORS(config SecurityConfig) echo.MiddlewareFunc {
	return middleware.CORSWithConfig(middleware.CORSConfig{
		AllowOrigins: config.AllowedOrigins,
		AllowMethods: []string{
			http.MethodGet,
			http.MethodHead,
			http.MethodPost,
			http.MethodOptions,
		},
		AllowHeaders: []string{
			echo.HeaderOrigin,
			echo.HeaderContentType,
			echo.HeaderAccept,
			echo.HeaderAuthorization,
			echo.HeaderXRequestID,
			"X-Requested-With",
		},
		ExposeHeaders:    []string{echo.HeaderXRequestID},
		AllowCredentials: config.AllowCredentials,
	})
}

// NewSecureHeaders sets security-related response headers
func NewSecureHeaders(config SecurityConfig) echo.MiddlewareFunc {
	return middleware.SecureWithConfig(middleware.SecureConfig{
		XSSProtection:         "1; mode=block",
		ContentTypeNosniff:    "nosniff",
		XFrameOptions:         "SAMEORIGIN",
		HSTSMaxAge:            config.HSTSMaxAge,
		HSTSExcludeSubdomains: config.HSTSExcludeSubdomains,
		ContentSecurityPolicy: config.ContentSecurityPolicy,
	})
}

// NewBodyLimit rejects request bodies larger than limit, e.g. "100M"
func NewBodyLimit(limit string) echo.MiddlewareFunc {
	return middleware.BodyLimit(limit)
}
