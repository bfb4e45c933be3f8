package adapter

// ContentTypeText is the only content type tool results carry
const ContentTypeText = "text"

// ErrorTextPrefix starts the text of every failed tool result
const ErrorTextPrefix = "Error: "

// Content is one item of a tool response
type Content struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

// Envelope is the protocol response for one tool invocation
type Envelope struct {
	Content []Content `json:"content"`
	IsError bool      `json:"isError,omitempty"`
}

func successEnvelope(text string) *Envelope {
	return &Envelope{
		Content: []Content{{Type: ContentTypeText, Text: text}},
	}
}

func failureEnvelope(message string) *Envelope {
	return &Envelope{
		Content: []Content{{Type: ContentTypeText, Text: ErrorTextPrefix + message}},
		IsError: true,
	}
}
