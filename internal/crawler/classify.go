package crawler

import "github.com/user/site-crawler/internal/domain"

// Class buckets a fetch outcome.
type Class int

const (
	ClassTransportFailure Class = iota
	ClassSuccess
	ClassRedirect
	ClassClientError
	ClassServerError
)

func (c Class) String() string {
	switch c {
	case ClassSuccess:
		return "success"
	case ClassRedirect:
		return "redirect"
	case ClassClientError:
		return "client_error"
	case ClassServerError:
		return "server_error"
	default:
		return "transport_failure"
	}
}

// Transient reports whether the class may succeed on a later attempt.
func (c Class) Transient() bool {
	return c == ClassTransportFailure || c == ClassServerError
}

// Classify maps an outcome to its class. Statuses outside 1xx-4xx are
// treated as server errors; 1xx is terminal like 4xx.
func Classify(out domain.Outcome) Class {
	switch code := out.StatusCode; {
	case !out.Responded():
		return ClassTransportFailure
	case code >= 200 && code < 300:
		return ClassSuccess
	case code >= 300 && code < 400:
		return ClassRedirect
	case code >= 500 || code < 100:
		return ClassServerError
	default:
		return ClassClientError
	}
}

// Decision is what the engine does with a classified attempt.
type Decision struct {
	Requeue bool
	Extract bool
}

// Terminal reports whether the URL is finished for this run.
func (d Decision) Terminal() bool { return !d.Requeue }

// Decide applies the requeue policy: transient failures go back to the
// frontier while attempts < maxRequeue; everything else is terminal. Links
// are followed only from successful responses with a body.
func Decide(out domain.Outcome, attempts, maxRequeue int) Decision {
	class := Classify(out)
	if class.Transient() {
		return Decision{Requeue: attempts < maxRequeue}
	}
	return Decision{Extract: class == ClassSuccess && len(out.Body) > 0}
}
