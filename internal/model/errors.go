package model

import "fmt"

// Kind classifies a failed remote model call. The classification decides
// whether the call is retried (see Client.call) and what the caller may
// report upstream.
type Kind int

const (
	// KindContentFilter means the endpoint rejected the request content.
	KindContentFilter Kind = iota
	// KindInvalidRequest means the request itself was malformed.
	KindInvalidRequest
	// KindConnection means the endpoint could not be reached.
	KindConnection
	// KindRateLimit means the token or request rate limit was exceeded.
	KindRateLimit
	// KindAuth means the credential was rejected.
	KindAuth
	// KindTimeout means the remote operation timed out.
	KindTimeout
	// KindDeploymentNotFound means the model deployment does not exist.
	KindDeploymentNotFound
	// KindRemote is any other error reported by the endpoint.
	KindRemote
	// KindUnknown is an uncategorized local failure.
	KindUnknown
)

func (k Kind) String() string {
	switch k {
	case KindContentFilter:
		return "content_filter"
	case KindInvalidRequest:
		return "invalid_request"
	case KindConnection:
		return "connection"
	case KindRateLimit:
		return "rate_limit"
	case KindAuth:
		return "authentication"
	case KindTimeout:
		return "timeout"
	case KindDeploymentNotFound:
		return "deployment_not_found"
	case KindRemote:
		return "remote"
	default:
		return "unknown"
	}
}

// Retryable reports whether calls failing with this kind may be re-issued
// with identical arguments. Authentication is handled separately: it becomes
// retryable only when a credential refresh hook is configured.
func (k Kind) Retryable() bool {
	switch k {
	case KindConnection, KindRateLimit, KindTimeout, KindRemote:
		return true
	default:
		return false
	}
}

// Error is a classified remote model-call failure.
type Error struct {
	Kind    Kind
	Status  int
	Message string
}

func (e *Error) Error() string {
	if e.Status != 0 {
		return fmt.Sprintf("model call failed (%s, status %d): %s", e.Kind, e.Status, e.Message)
	}
	return fmt.Sprintf("model call failed (%s): %s", e.Kind, e.Message)
}
