package gemini

import (
	"context"
	"errors"
	"net"
	"net/http"
	"regexp"
	"strconv"
	"strings"
	"time"

	"google.golang.org/genai"
)

type failureClass int

const (
	failureNetwork failureClass = iota
	failureServer
	failureQuota
	failureKeyRejected
	failureClient
)

var retryAfterPatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)retry in\s+([0-9]+(?:\.[0-9]+)?)\s*s`),
	regexp.MustCompile(`(?i)"?retryDelay"?\s*[:=]\s*"([0-9]+(?:\.[0-9]+)?)s"`),
	regexp.MustCompile(`(?i)retry after\s+([0-9]+(?:\.[0-9]+)?)\s*(?:s|sec|secs|seconds)\b`),
}

func asAPIError(err error) (genai.APIError, bool) {
	var value genai.APIError
	if errors.As(err, &value) {
		return value, true
	}
	var ptr *genai.APIError
	if errors.As(err, &ptr) && ptr != nil {
		return *ptr, true
	}
	return genai.APIError{}, false
}

func classify(err error) failureClass {
	apiErr, ok := asAPIError(err)
	if !ok {
		var netErr net.Error
		if errors.As(err, &netErr) || errors.Is(err, context.DeadlineExceeded) {
			return failureNetwork
		}
		if isQuotaMessage(err.Error()) {
			return failureQuota
		}
		return failureNetwork
	}

	text := apiErr.Status + " " + apiErr.Message
	switch {
	case apiErr.Code == http.StatusTooManyRequests || isQuotaMessage(text):
		return failureQuota
	case apiErr.Code == http.StatusUnauthorized || apiErr.Code == http.StatusForbidden:
		return failureKeyRejected
	case apiErr.Code == http.StatusBadRequest && isKeyRejectedMessage(text):
		return failureKeyRejected
	case apiErr.Code >= 500:
		return failureServer
	case apiErr.Code >= 400:
		return failureClient
	default:
		return failureNetwork
	}
}

func isQuotaMessage(s string) bool {
	s = strings.ToLower(s)
	return strings.Contains(s, "quota exceeded") ||
		(strings.Contains(s, "billing") && strings.Contains(s, "limit")) ||
		strings.Contains(s, "rate limit") ||
		strings.Contains(s, "resource exhausted") ||
		strings.Contains(s, "resource_exhausted")
}

func isKeyRejectedMessage(s string) bool {
	s = strings.ToLower(s)
	return strings.Contains(s, "api key not valid") || strings.Contains(s, "api_key_invalid")
}

// retryAfter extracts a server supplied delay from an error message.
func retryAfter(msg string) (time.Duration, bool) {
	for _, re := range retryAfterPatterns {
		m := re.FindStringSubmatch(msg)
		if len(m) < 2 {
			continue
		}
		secs, err := strconv.ParseFloat(m[1], 64)
		if err != nil || secs <= 0 {
			continue
		}
		return time.Duration(secs * float64(time.Second)), true
	}
	return 0, false
}
