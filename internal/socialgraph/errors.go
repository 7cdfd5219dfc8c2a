package socialgraph

import (
	"context"
	"net"
	"net/http"
	"strings"

	"github.com/flurbudurbur/Gramsight/internal/domain"
	"github.com/flurbudurbur/Gramsight/pkg/errors"
)

// Error is the normalised failure every Client call returns.
type Error = domain.SocialError

var (
	ErrChallengeRequired     = domain.ErrChallengeRequired
	ErrRateLimited           = domain.ErrRateLimited
	ErrSessionExpired        = domain.ErrSessionExpired
	ErrTransientNetworkError = domain.ErrTransientNetworkError
	ErrLoginFailed           = domain.ErrLoginFailed
)

// errorBody is what the sidecar sends with any non-2xx response.
type errorBody struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Detail  string `json:"detail"`
}

func (b errorBody) text() string {
	if b.Message != "" {
		return b.Message
	}
	return b.Detail
}

// classifyCode maps the structured error code. ok is false for unknown codes.
func classifyCode(code string) (domain.SocialErrorKind, bool) {
	switch strings.ToLower(code) {
	case "rate_limited", "please_wait", "feedback_required":
		return domain.SocialErrRateLimited, true
	case "challenge_required", "two_factor_required", "checkpoint_required":
		return domain.SocialErrChallengeRequired, true
	case "login_required", "session_expired", "session_invalid":
		return domain.SocialErrSessionExpired, true
	case "bad_password", "invalid_user", "login_failed":
		return domain.SocialErrLoginFailed, true
	case "network_error", "timeout", "upstream_unavailable":
		return domain.SocialErrTransientNetworkError, true
	}
	return "", false
}

// classifyMessage is the legacy fallback for sidecars that only send text.
func classifyMessage(message string) (domain.SocialErrorKind, bool) {
	m := strings.ToLower(message)
	switch {
	case strings.Contains(m, "two_factor"), strings.Contains(m, "two-factor"), strings.Contains(m, "challenge"), strings.Contains(m, "checkpoint"):
		return domain.SocialErrChallengeRequired, true
	case strings.Contains(m, "please wait"), strings.Contains(m, "rate limit"), strings.Contains(m, "temporarily restricted"):
		return domain.SocialErrRateLimited, true
	case strings.Contains(m, "login_required"), strings.Contains(m, "login required"), strings.Contains(m, "session expired"):
		return domain.SocialErrSessionExpired, true
	}
	return "", false
}

// classifyResponse normalises a non-2xx response. The structured code wins,
// then the status, then the message text.
func classifyResponse(status int, body errorBody) error {
	message := body.text()
	if message == "" {
		message = http.StatusText(status)
	}

	if kind, ok := classifyCode(body.Code); ok {
		return domain.NewSocialError(kind, message)
	}

	switch {
	case status == http.StatusTooManyRequests:
		return domain.NewSocialError(domain.SocialErrRateLimited, message)
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		if kind, ok := classifyMessage(message); ok && kind == domain.SocialErrChallengeRequired {
			return domain.NewSocialError(kind, message)
		}
		return domain.NewSocialError(domain.SocialErrSessionExpired, message)
	case status >= 500:
		return domain.NewSocialError(domain.SocialErrTransientNetworkError, message)
	}

	if kind, ok := classifyMessage(message); ok {
		return domain.NewSocialError(kind, message)
	}

	// the upstream answers list requests it is throttling with a bare 400
	if status == http.StatusBadRequest {
		return domain.NewSocialError(domain.SocialErrRateLimited, message)
	}

	return domain.NewSocialError(domain.SocialErrTransientNetworkError, message)
}

// classifyTransport normalises errors that never produced a response.
func classifyTransport(err error) error {
	if se, ok := domain.AsSocialError(err); ok {
		return se
	}

	var netErr net.Error
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		return domain.NewSocialError(domain.SocialErrTransientNetworkError, "request timed out")
	case errors.As(err, &netErr) && netErr.Timeout():
		return domain.NewSocialError(domain.SocialErrTransientNetworkError, "request timed out")
	}

	return domain.NewSocialError(domain.SocialErrTransientNetworkError, err.Error())
}
