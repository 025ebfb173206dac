package issue

const (
	TopicIssueCreated   = "issue.created"
	TopicOfferSubmitted = "offer.submitted"
	TopicOfferAccepted  = "offer.accepted"
	TopicOfferRejected  = "offer.rejected"
)

// Event describes a committed change to an issue. Repositories persist it in
// the same atomic write as the change itself.
type Event struct {
	Topic   string
	IssueID string
	Payload map[string]any
}
