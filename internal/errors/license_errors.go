package errors

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/go-chi/render"
)

// License-specific errors (using errors package for sentinel errors)
var (
	ErrLicenseNotFound    = errors.New("license key not found")
	ErrLicenseDeactivated = errors.New("license deactivated")
	ErrDeviceConflict     = errors.New("license bound to another device")
	ErrConnection         = errors.New("license authority unreachable")
	ErrInvalidLicenseKey  = errors.New("invalid license key")
	ErrRateLimited        = errors.New("rate limited")
)

// ActivationKind classifies why an activation failed.
type ActivationKind string

const (
	KindNotFound       ActivationKind = "not_found"
	KindDeactivated    ActivationKind = "deactivated"
	KindDeviceConflict ActivationKind = "device_conflict"
	KindConnection     ActivationKind = "connection_error"
	KindInvalidKey     ActivationKind = "invalid_key"
	KindThrottled      ActivationKind = "throttled"
)

var kindSentinels = map[ActivationKind]error{
	KindNotFound:       ErrLicenseNotFound,
	KindDeactivated:    ErrLicenseDeactivated,
	KindDeviceConflict: ErrDeviceConflict,
	KindConnection:     ErrConnection,
	KindInvalidKey:     ErrInvalidLicenseKey,
	KindThrottled:      ErrRateLimited,
}

var kindMessages = map[ActivationKind]string{
	KindNotFound:       "This license key does not exist. Check the key and try again.",
	KindDeactivated:    "This license key has been deactivated. Contact your administrator.",
	KindDeviceConflict: "This license key is already in use on another device.",
	KindConnection:     "Could not reach the license server. Check your connection and try again.",
	KindInvalidKey:     "Enter a license key.",
	KindThrottled:      "Too many activation attempts. Wait a moment and try again.",
}

// ActivationError is returned by activation. Message is meant to be shown to
// the user as-is; Err carries the underlying cause, if any.
type ActivationError struct {
	Kind    ActivationKind
	Message string
	Err     error
}

// NewActivationError creates an activation error with the standard message for kind.
func NewActivationError(kind ActivationKind, cause error) *ActivationError {
	return &ActivationError{Kind: kind, Message: kindMessages[kind], Err: cause}
}

func (e *ActivationError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("activation failed (%s): %v", e.Kind, e.Err)
	}
	return fmt.Sprintf("activation failed (%s)", e.Kind)
}

func (e *ActivationError) Unwrap() error {
	return e.Err
}

// Is matches the sentinel for the error's kind, so callers can write
// errors.Is(err, ErrDeviceConflict).
func (e *ActivationError) Is(target error) bool {
	return kindSentinels[e.Kind] == target
}

// ActivationKindOf extracts the kind from err, or "" if err is not an activation error.
func ActivationKindOf(err error) ActivationKind {
	var ae *ActivationError
	if errors.As(err, &ae) {
		return ae.Kind
	}
	return ""
}

// ActivationToAPIError maps an activation failure to its HTTP representation.
func ActivationToAPIError(err error) *APIError {
	var ae *ActivationError
	if !errors.As(err, &ae) {
		return NewWithDetails(http.StatusBadRequest, "LICENSE_ACTIVATION_FAILED", "Failed to activate license", err.Error())
	}

	switch ae.Kind {
	case KindNotFound:
		return New(http.StatusNotFound, "LICENSE_NOT_FOUND", ae.Message)
	case KindDeactivated:
		return New(http.StatusForbidden, "LICENSE_DEACTIVATED", ae.Message)
	case KindDeviceConflict:
		return New(http.StatusConflict, "DEVICE_CONFLICT", ae.Message)
	case KindConnection:
		return New(http.StatusServiceUnavailable, "AUTHORITY_UNAVAILABLE", ae.Message)
	case KindInvalidKey:
		return New(http.StatusBadRequest, "INVALID_LICENSE_KEY", ae.Message)
	case KindThrottled:
		return New(http.StatusTooManyRequests, "RATE_LIMIT_EXCEEDED", ae.Message)
	default:
		return New(http.StatusBadRequest, "LICENSE_ACTIVATION_FAILED", ae.Message)
	}
}

// ProblemDetails implements RFC 7807 Problem Details for HTTP APIs
type ProblemDetails struct {
	Type     string `json:"type"`
	Title    string `json:"title"`
	Status   int    `json:"status"`
	Detail   string `json:"detail,omitempty"`
	Instance string `json:"instance,omitempty"`

	Extensions map[string]interface{} `json:"-"`
}

// Render implements the render.Renderer interface
func (pd *ProblemDetails) Render(w http.ResponseWriter, r *http.Request) error {
	render.Status(r, pd.Status)
	return nil
}

// MarshalJSON custom marshaler to include extensions
func (pd *ProblemDetails) MarshalJSON() ([]byte, error) {
	data := make(map[string]interface{}, 5+len(pd.Extensions))

	for k, v := range pd.Extensions {
		data[k] = v
	}

	data["type"] = pd.Type
	data["title"] = pd.Title
	data["status"] = pd.Status
	if pd.Detail != "" {
		data["detail"] = pd.Detail
	}
	if pd.Instance != "" {
		data["instance"] = pd.Instance
	}

	return json.Marshal(data)
}

// NewProblemDetails creates a new RFC 7807 compliant error
func NewProblemDetails(status int, problemType, title, detail, instance string) *ProblemDetails {
	return &ProblemDetails{
		Type:       problemType,
		Title:      title,
		Status:     status,
		Detail:     detail,
		Instance:   instance,
		Extensions: make(map[string]interface{}),
	}
}

// WithExtension adds an extension field to the problem details
func (pd *ProblemDetails) WithExtension(key string, value interface{}) *ProblemDetails {
	pd.Extensions[key] = value
	return pd
}
