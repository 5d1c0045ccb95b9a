// Package mailsource defines the mailbox capability used by the ingestion cycle and
// the message shapes exchanged with provider adapters.
package mailsource

type MessageID string

// Encoding names the transport encoding of a Part's Data.
type Encoding int

const (
	EncodingIdentity  Encoding = iota // already decoded text
	EncodingBase64                    // standard alphabet
	EncodingBase64URL                 // URL-safe alphabet, Gmail API bodies
)

type Header struct {
	Name  string
	Value string
}

// Part is one leaf body part, in message order, still in its transport encoding.
type Part struct {
	MimeType string
	Data     string
	Encoding Encoding
}

// Message is the provider's view of a message as returned by Source.Get.
type Message struct {
	ID      MessageID
	Headers []Header
	Parts   []Part
}

// Header returns the value of the first header whose name matches exactly.
func (m Message) Header(name string) (string, bool) {
	for _, h := range m.Headers {
		if h.Name == name {
			return h.Value, true
		}
	}
	return "", false
}
