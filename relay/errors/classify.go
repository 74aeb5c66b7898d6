package errors

import "strings"

// Classify derives a NormalizedError from a raw message and an optional
// HTTP-equivalent status code, grounded on the MapHTTPError classify-by-
// status-and-substring idiom adapters already use for HTTP transport, but
// retargeted at the full closed taxonomy and its exact precedence.
//
// When statusCode is known it dominates: 401/403 -> auth, 402 -> billing,
// 429 -> rate_limit, >=500 -> server_error. Otherwise the message is tested,
// in order, for network, rate_limit, auth, context_length, content_filter
// substrings, falling back to unknown. The order matters: rate-limit
// messages often contain the word "key" ("invalid api key: resource
// exhausted"), so rate_limit must be tested before auth.
func Classify(message string, statusCode *int) *NormalizedError {
	if statusCode != nil {
		if ne := classifyByStatus(*statusCode, message); ne != nil {
			return ne
		}
	}
	return classifyByMessage(message)
}

func classifyByStatus(status int, message string) *NormalizedError {
	switch {
	case status == 401 || status == 403:
		return New(KindAuth, message)
	case status == 402:
		return New(KindBilling, message)
	case status == 429:
		return RateLimit(message, nil)
	case status >= 500:
		sc := status
		return ServerError(message, &sc)
	default:
		return nil
	}
}

var networkSubstrings = []string{
	"connection refused", "dial tcp", "no such host", "dns",
	"network is unreachable", "socket", "tls handshake", "econnrefused",
	"broken pipe", "connection reset",
}

var rateLimitSubstrings = []string{
	"429", "quota", "resource_exhausted", "resource exhausted",
	"rate limit", "rate_limit", "too many requests", "throttle",
}

var authSubstrings = []string{
	"401", "403", "unauthorized", "authentication", "invalid api key",
	"api key not valid", "permission denied", "forbidden", "invalid_api_key",
}

var contextLengthSubstrings = []string{
	"context length", "context_length", "context window",
	"maximum context", "too many tokens", "token limit",
}

var contentFilterSubstrings = []string{
	"content filter", "content_filter", "safety system", "flagged",
	"content policy", "moderation",
}

func classifyByMessage(message string) *NormalizedError {
	lower := strings.ToLower(message)

	if containsAny(lower, networkSubstrings) {
		return New(KindNetwork, message)
	}
	if containsAny(lower, rateLimitSubstrings) {
		return RateLimit(message, nil)
	}
	if containsAny(lower, authSubstrings) {
		return New(KindAuth, message)
	}
	if containsAny(lower, contextLengthSubstrings) {
		return New(KindContextLength, message)
	}
	if containsAny(lower, contentFilterSubstrings) {
		return New(KindContentFilter, message)
	}
	return New(KindUnknown, message)
}

func containsAny(haystack string, substrings []string) bool {
	for _, s := range substrings {
		if strings.Contains(haystack, s) {
			return true
		}
	}
	return false
}
