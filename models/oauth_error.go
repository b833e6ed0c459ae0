package models

// RFC 6749 error codes. Token-endpoint errors are always direct JSON;
// authorization-endpoint errors redirect only once the redirect URI has been
// validated against the registered set.
const (
	ErrInvalidRequest          = "invalid_request"
	ErrInvalidClient           = "invalid_client"
	ErrInvalidGrant            = "invalid_grant"
	ErrUnauthorizedClient      = "unauthorized_client"
	ErrUnsupportedGrantType    = "unsupported_grant_type"
	ErrInvalidScope            = "invalid_scope"
	ErrUnsupportedResponseType = "unsupported_response_type"
	ErrAccessDenied            = "access_denied"
	ErrServerError             = "server_error"
)

// OAuthError is the protocol error body: {"error": "...", "error_description": "..."}
type OAuthError struct {
	Code        string `json:"error"`
	Description string `json:"error_description,omitempty"`
}

func (e *OAuthError) Error() string {
	if e.Description == "" {
		return e.Code
	}
	return e.Code + ": " + e.Description
}

// NewOAuthError builds a protocol error
func NewOAuthError(code, description string) *OAuthError {
	return &OAuthError{Code: code, Description: description}
}

// StatusCode maps the error code to its HTTP status for token-endpoint
// responses: invalid_client is 401 per RFC 6749 §5.2, server_error 500,
// everything else 400.
func (e *OAuthError) StatusCode() int {
	switch e.Code {
	case ErrInvalidClient:
		return 401
	case ErrServerError:
		return 500
	default:
		return 400
	}
}
