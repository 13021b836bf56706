// Package transport: response classification.
package transport

import "net/http"

// Classification buckets a raw HTTP result into the outcome kinds the send
// pipeline acts on.
type Classification int

const (
	// ClassSuccess means the server accepted the payload (2xx).
	ClassSuccess Classification = iota
	// ClassRejectedPermanently means the payload can never succeed as-is (4xx
	// business rejection); it must be dropped, not retried.
	ClassRejectedPermanently
	// ClassRejectedTemporarily means server-side backpressure (429, 5xx); the
	// same payload is retried after a pause.
	ClassRejectedTemporarily
	// ClassBadPayload means the request could not even be constructed locally
	// (e.g. unreadable attachment); never retried.
	ClassBadPayload
	// ClassNetworkFailure means the request never got a response (timeout,
	// connection failure); retried once connectivity returns.
	ClassNetworkFailure
)

func (c Classification) String() string {
	switch c {
	case ClassSuccess:
		return "success"
	case ClassRejectedPermanently:
		return "rejected_permanently"
	case ClassRejectedTemporarily:
		return "rejected_temporarily"
	case ClassBadPayload:
		return "bad_payload"
	case ClassNetworkFailure:
		return "network_failure"
	default:
		return "unknown"
	}
}

// Terminal reports whether the classification means the payload must be
// dropped rather than retried.
func (c Classification) Terminal() bool {
	return c == ClassRejectedPermanently || c == ClassBadPayload
}

// RawResult is the outcome of a single HTTP call, before classification.
type RawResult struct {
	StatusCode int
	Headers    http.Header
	Body       string
	// Err is set when no usable response was obtained.
	Err error
	// BadPayload marks a local request-construction failure; such results
	// never reached the network.
	BadPayload bool
}

// ClassifierConfig is the explicit status-code-to-classification table. The
// boundary cases (408, 429) are configuration rather than guesses about
// server intent.
type ClassifierConfig struct {
	// RetryableStatuses lists 4xx statuses treated as temporary rejections.
	RetryableStatuses map[int]bool
}

// DefaultClassifierConfig treats 408 (request timeout) and 429 (rate limit)
// as temporary; every other 4xx is permanent.
func DefaultClassifierConfig() ClassifierConfig {
	return ClassifierConfig{
		RetryableStatuses: map[int]bool{
			http.StatusRequestTimeout:  true,
			http.StatusTooManyRequests: true,
		},
	}
}

// Classify maps a raw result into its outcome classification.
func (cfg ClassifierConfig) Classify(r *RawResult) Classification {
	switch {
	case r.BadPayload:
		return ClassBadPayload
	case r.Err != nil:
		return ClassNetworkFailure
	case r.StatusCode >= 200 && r.StatusCode < 300:
		return ClassSuccess
	case cfg.RetryableStatuses[r.StatusCode]:
		return ClassRejectedTemporarily
	case r.StatusCode >= 400 && r.StatusCode < 500:
		return ClassRejectedPermanently
	default:
		// 5xx and anything unexpected: worth another try later.
		return ClassRejectedTemporarily
	}
}
