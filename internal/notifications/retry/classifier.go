package retry

import (
	"context"
	"errors"
	"io"
	"net"
	"net/http"
	"regexp"
	"strconv"
	"strings"
	"syscall"
)

// Classification is the verdict for a failure.
type Classification struct {
	Code      Code
	Retryable bool
}

// Classifier maps an error to a classification.
type Classifier func(err error) Classification

// statusCoder is implemented by errors that carry an HTTP response status.
type statusCoder interface {
	HTTPStatus() int
}

type retryable interface {
	IsRetryable() bool
}

var statusPattern = regexp.MustCompile(`\b([45]\d{2})\b`)

var (
	timeoutKeywords = []string{"timeout", "timed out", "deadline exceeded"}
	networkKeywords = []string{"network", "connection", "econnrefused", "econnreset", "socket hang up", "broken pipe", "no such host"}
)

// Classify maps err to a failure code and retryability.
//
// Precedence: already classified failures, network and timeout errors,
// rate limiting, 5xx, 4xx, then UNKNOWN_ERROR. Unknown failures are retryable.
func Classify(err error) Classification {
	if err == nil {
		return Classification{}
	}

	var f *Failure
	if errors.As(err, &f) {
		return Classification{Code: f.Code, Retryable: f.Retryable}
	}

	c := classify(err)

	var r retryable
	if errors.As(err, &r) {
		c.Retryable = r.IsRetryable()
	}
	return c
}

func classify(err error) Classification {
	if c, ok := classifyTransport(err); ok {
		return c
	}

	status, known := httpStatus(err)
	if !known {
		msg := strings.ToLower(err.Error())
		if c, ok := classifyMessage(msg); ok {
			return c
		}
		status = statusFromMessage(msg)
	}

	return classifyStatus(status)
}

func classifyTransport(err error) (Classification, bool) {
	if errors.Is(err, context.DeadlineExceeded) {
		return Classification{Code: CodeTimeout, Retryable: true}, true
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return Classification{Code: CodeTimeout, Retryable: true}, true
	}

	var opErr *net.OpError
	var dnsErr *net.DNSError
	if errors.As(err, &opErr) ||
		errors.As(err, &dnsErr) ||
		errors.Is(err, syscall.ECONNREFUSED) ||
		errors.Is(err, syscall.ECONNRESET) ||
		errors.Is(err, syscall.EPIPE) ||
		errors.Is(err, io.ErrUnexpectedEOF) {
		return Classification{Code: CodeNetwork, Retryable: true}, true
	}

	return Classification{}, false
}

func classifyMessage(msg string) (Classification, bool) {
	for _, kw := range timeoutKeywords {
		if strings.Contains(msg, kw) {
			return Classification{Code: CodeTimeout, Retryable: true}, true
		}
	}
	for _, kw := range networkKeywords {
		if strings.Contains(msg, kw) {
			return Classification{Code: CodeNetwork, Retryable: true}, true
		}
	}
	if strings.Contains(msg, "rate limit") || strings.Contains(msg, "too many requests") {
		return Classification{Code: CodeRateLimit, Retryable: true}, true
	}
	return Classification{}, false
}

func classifyStatus(status int) Classification {
	switch {
	case status == http.StatusTooManyRequests:
		return Classification{Code: CodeRateLimit, Retryable: true}
	case status >= 500 && status <= 599:
		return Classification{Code: CodeServer, Retryable: true}
	case status == http.StatusBadRequest:
		return Classification{Code: CodeBadRequest}
	case status == http.StatusUnauthorized:
		return Classification{Code: CodeUnauthorized}
	case status == http.StatusForbidden:
		return Classification{Code: CodeForbidden}
	case status == http.StatusNotFound:
		return Classification{Code: CodeNotFound}
	case status == http.StatusUnprocessableEntity:
		return Classification{Code: CodeUnprocessable}
	case status >= 400 && status <= 499:
		return Classification{Code: CodeClient}
	default:
		return Classification{Code: CodeUnknown, Retryable: true}
	}
}

func httpStatus(err error) (int, bool) {
	var sc statusCoder
	if errors.As(err, &sc) && sc.HTTPStatus() > 0 {
		return sc.HTTPStatus(), true
	}
	return 0, false
}

// statusFromMessage extracts the first standalone 4xx/5xx number in msg.
func statusFromMessage(msg string) int {
	m := statusPattern.FindStringSubmatch(msg)
	if m == nil {
		return 0
	}
	status, err := strconv.Atoi(m[1])
	if err != nil {
		return 0
	}
	return status
}
