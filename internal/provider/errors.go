package provider

import (
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/url"

	"github.com/MikeSquared-Agency/tally/internal/anthropic"
	"github.com/MikeSquared-Agency/tally/internal/extractor"
	"github.com/MikeSquared-Agency/tally/internal/openai"
)

// Kind classifies a provider failure.
type Kind string

const (
	KindConfiguration  Kind = "configuration"
	KindAuth           Kind = "auth"
	KindPermission     Kind = "permission"
	KindRateLimit      Kind = "rate_limit"
	KindNotFound       Kind = "not_found"
	KindTransient      Kind = "transient_service"
	KindResponseFormat Kind = "response_format"
	KindNetwork        Kind = "network"
	KindUnknown        Kind = "unknown"
)

// Error is the failure type returned by adapters and the registry. Message
// is suitable for showing to the operator as is.
type Error struct {
	Kind       Kind
	Provider   string
	StatusCode int
	Message    string
	Err        error
}

func (e *Error) Error() string { return e.Message }

func (e *Error) Unwrap() error { return e.Err }

// KindOf returns the kind of the first *Error in err's chain, or
// KindUnknown.
func KindOf(err error) Kind {
	var pe *Error
	if errors.As(err, &pe) {
		return pe.Kind
	}
	return KindUnknown
}

func configError(providerID, msg string) *Error {
	return &Error{Kind: KindConfiguration, Provider: providerID, Message: msg}
}

type statusCoder interface {
	HTTPStatus() int
}

// classify maps a transport or decode failure onto the taxonomy using the
// extraction-screen wording.
func classify(b *Backend, err error) *Error {
	var pe *Error
	if errors.As(err, &pe) {
		return pe
	}

	out := &Error{Provider: b.ID, Err: err}

	var sc statusCoder
	var fe *extractor.FormatError
	var oe *openai.MalformedResponseError
	var ae *anthropic.MalformedResponseError
	switch {
	case errors.As(err, &sc):
		out.StatusCode = sc.HTTPStatus()
		out.Kind = kindForStatus(out.StatusCode)
		out.Message = statusMessage(b, out.StatusCode, err)
	case errors.As(err, &fe),
		errors.As(err, &oe),
		errors.As(err, &ae),
		errors.Is(err, openai.ErrEmptyContent),
		errors.Is(err, anthropic.ErrEmptyContent):
		out.Kind = KindResponseFormat
		out.Message = fmt.Sprintf("Invalid response format from %s. Please try again.", b.Name)
	case isNetwork(err):
		out.Kind = KindNetwork
		out.Message = "Network error. Please check your internet connection and try again."
	default:
		out.Kind = KindUnknown
		out.Message = "Failed to parse messages: " + err.Error()
	}
	return out
}

func kindForStatus(status int) Kind {
	switch status {
	case http.StatusUnauthorized:
		return KindAuth
	case http.StatusForbidden:
		return KindPermission
	case http.StatusNotFound:
		return KindNotFound
	case http.StatusTooManyRequests:
		return KindRateLimit
	case http.StatusInternalServerError, http.StatusBadGateway,
		http.StatusServiceUnavailable, http.StatusGatewayTimeout:
		return KindTransient
	default:
		return KindUnknown
	}
}

func statusMessage(b *Backend, status int, err error) string {
	switch status {
	case http.StatusTooManyRequests:
		return "Rate limit exceeded. Please wait a few minutes before trying again."
	case http.StatusUnauthorized:
		return fmt.Sprintf("Invalid %s. Please check your %s in settings.", b.Credential, b.CredentialHint)
	case http.StatusForbidden:
		return fmt.Sprintf("Access forbidden. Your %s may not have the required permissions.", b.CredentialShort)
	case http.StatusNotFound:
		return "AI model not found. The requested model may not be available."
	case http.StatusInternalServerError:
		return fmt.Sprintf("%s service is temporarily unavailable. Please try again later.", b.Name)
	case http.StatusBadGateway, http.StatusServiceUnavailable, http.StatusGatewayTimeout:
		return fmt.Sprintf("%s service is experiencing issues. Please try again in a few minutes.", b.Name)
	default:
		return fmt.Sprintf("%s service error (%d): %s", b.Name, status, remoteMessage(err))
	}
}

// connectionMessage uses the shorter settings-screen wording.
func connectionMessage(b *Backend, err error) string {
	var sc statusCoder
	if !errors.As(err, &sc) {
		if isNetwork(err) {
			return "Network error. Please check your internet connection and try again."
		}
		return err.Error()
	}

	switch status := sc.HTTPStatus(); status {
	case http.StatusUnauthorized:
		return fmt.Sprintf("Invalid %s. Please check your %s.", b.Credential, b.CredentialShort)
	case http.StatusForbidden:
		return fmt.Sprintf("Access forbidden. Check your %s permissions.", b.CredentialShort)
	case http.StatusTooManyRequests:
		return "Rate limit exceeded. Please try again later."
	case http.StatusNotFound:
		return "Model not found. Please check your model selection."
	default:
		return fmt.Sprintf("Connection failed (%d): %s", status, remoteMessage(err))
	}
}

func remoteMessage(err error) string {
	var oe *openai.APIError
	if errors.As(err, &oe) {
		return oe.Message
	}
	var ae *anthropic.APIError
	if errors.As(err, &ae) {
		return ae.Message
	}
	return err.Error()
}

func isNetwork(err error) bool {
	var urlErr *url.Error
	if errors.As(err, &urlErr) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr)
}
