// Package notifications provides best-effort, asynchronous delivery of
// human-facing messages about request lifecycle events. Delivery transport
// (email rendering and sending) is an external capability behind the Sender
// interface; this package owns queueing, template selection, and contact
// resolution.
package notifications

import "transferdesk/internal/models"

// Template names a notification template rendered by the delivery service.
type Template string

const (
	// TemplateRequestSubmitted goes to reviewers when a standard request is created.
	TemplateRequestSubmitted Template = "request_submitted"
	// TemplateBrokerSplitSubmitted goes to reviewers when a broker-split
	// request is created; it carries the richer three-security payload and
	// the action links.
	TemplateBrokerSplitSubmitted Template = "broker_split_submitted"
	// TemplateRequestRejected goes to the broker when their request is rejected.
	TemplateRequestRejected Template = "request_rejected"
	// TemplateRequestStatusChanged is the generic broker-facing status update.
	TemplateRequestStatusChanged Template = "request_status_changed"
)

// Event kinds. "submitted" covers request creation; the rest mirror
// lifecycle transitions.
const (
	KindSubmitted   = "submitted"
	KindStartReview = "start_review"
	KindRejected    = "reject"
	KindApproved    = "approve"
	KindCompleted   = "complete"
)

// TemplateFor selects the dispatch template. It is a pure function of the
// request type and the event kind.
func TemplateFor(requestType models.RequestType, kind string) Template {
	switch kind {
	case KindSubmitted:
		if requestType == models.RequestTypeBrokerSplit {
			return TemplateBrokerSplitSubmitted
		}
		return TemplateRequestSubmitted
	case KindRejected:
		return TemplateRequestRejected
	default:
		return TemplateRequestStatusChanged
	}
}

// audienceReviewers reports whether the template targets reviewers rather
// than the submitting broker.
func audienceReviewers(t Template) bool {
	return t == TemplateRequestSubmitted || t == TemplateBrokerSplitSubmitted
}
