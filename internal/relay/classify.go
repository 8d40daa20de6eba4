package relay

import (
	"errors"
	"strings"

	openai "github.com/sashabaranov/go-openai"
)

// quotaMarkers are substrings of provider errors that mean the account ran
// out of credit rather than that the request failed.
var quotaMarkers = []string{
	"insufficient_quota",
	"exceeded your current quota",
	"quota",
	"billing",
}

// IsQuotaError reports whether err signals an exhausted STT quota.
func IsQuotaError(err error) bool {
	if err == nil {
		return false
	}

	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		if code, ok := apiErr.Code.(string); ok && code == "insufficient_quota" {
			return true
		}
	}

	text := strings.ToLower(err.Error())
	for _, marker := range quotaMarkers {
		if strings.Contains(text, marker) {
			return true
		}
	}
	return false
}

// failureReply maps a transcription error to the user-facing text.
// Quota errors win over debug output.
func (c *Controller) failureReply(err error) (string, Outcome) {
	if IsQuotaError(err) {
		return c.messages.Quota, OutcomeQuota
	}
	if c.opts.Debug {
		text := err.Error()
		if c.opts.Redact != nil {
			text = c.opts.Redact(text)
		}
		return c.messages.DebugPrefix + " " + text, OutcomeFailed
	}
	return c.messages.Failed, OutcomeFailed
}
