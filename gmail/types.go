package gmail

// Message is one mailbox message decoded for classification. It is built per
// poll cycle and never persisted as-is.
type Message struct {
	ID       string
	ThreadID string

	From      string
	FromEmail string
	To        string
	Date      string
	Subject   string
	Body      string

	// MessageIDHeader is the RFC 5322 Message-ID, used to thread replies.
	MessageIDHeader string
	Snippet         string

	// Err is set when the message could not be fetched or decoded. The other
	// fields are then empty and the message should be retried next cycle.
	Err error
}

// Unreadable reports whether the fetch or decode failed.
func (m Message) Unreadable() bool {
	return m.Err != nil
}
