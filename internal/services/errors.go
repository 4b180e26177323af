package services

import (
	"fmt"

	"github.com/monkbot/gateway/pkg/response"
)

// Plugin request denials. The invalid and disabled key cases share one
// error so callers cannot probe which keys exist.
var (
	ErrMissingBearer         = response.NewUnauthorized("Missing Bearer token.")
	ErrInvalidKey            = response.NewUnauthorized("Invalid or disabled API key.")
	ErrMissingDomain         = response.NewBadRequest("Missing X-Monkbot-Domain header.")
	ErrDomainNotLinked       = response.NewForbidden("Domain is not linked to this API key.")
	ErrInvalidPayload        = response.NewBadRequest("Invalid request payload.")
	ErrInsufficientCredits   = response.NewPaymentRequired("Insufficient credits.")
	ErrUpstreamNotConfigured = response.NewServerError("OPENAI_API_KEY is not configured.")
	ErrUpstreamFailed        = response.NewBadGateway("OpenAI request failed.")
)

// Key and binding management.
var (
	ErrKeyNotFound           = response.NewNotFound("API key not found")
	ErrNoKeys                = response.NewNotFound("No API key found")
	ErrDomainBindingNotFound = response.NewNotFound("Domain binding not found")
	ErrDomainNotOwned        = response.NewNotFound("Not found or unauthorized")
	ErrInvalidDomain         = response.NewBadRequest("Invalid domain format")
	ErrDomainExists          = response.NewBadRequest("Domain already added")
	ErrFreePlanDomainLimit   = response.NewPaymentRequired("Free plan allows only 1 linked domain.")
	ErrInvalidPlan           = response.NewBadRequest("Invalid plan")
	ErrInvalidKeyStatus      = response.NewBadRequest("Invalid key status")
)

// Accounts.
var (
	ErrUserExists         = response.NewBadRequest("User already exists")
	ErrInvalidCredentials = response.NewUnauthorized("Invalid credentials")
	ErrUserNotFound       = response.NewNotFound("User not found")
)

func domainLimitError(limit int) error {
	if limit == 1 {
		return ErrFreePlanDomainLimit
	}
	return response.NewPaymentRequired(fmt.Sprintf("Free plan allows only %d linked domains.", limit))
}
