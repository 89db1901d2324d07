// Package reply formats answer emails.
package reply

import (
	"fmt"
	"strings"

	"github.com/nhle/quickans/internal/model"
)

// Template holds the names woven into every reply.
type Template struct {
	// AssistantName signs the reply and prefixes the subject.
	AssistantName string

	// IntroName is how the assistant introduces itself in the greeting.
	IntroName string

	ForumName string

	// Farewell completes "Hope you have a great day on ...".
	Farewell string
}

// DefaultTemplate is the QuickAns wording for CampusWire.
var DefaultTemplate = Template{
	AssistantName: "QuickAns Assistant",
	IntroName:     "QuickAns assistant",
	ForumName:     "CampusWire",
	Farewell:      "Campus (Wire)",
}

// Compose builds the reply for q using DefaultTemplate.
func Compose(q model.ParsedQuestion, answer, recipient string) model.Reply {
	return DefaultTemplate.Compose(q, answer, recipient)
}

// Compose builds the reply for q. It is a pure function of its inputs.
func (t Template) Compose(q model.ParsedQuestion, answer, recipient string) model.Reply {
	var b strings.Builder
	fmt.Fprintf(&b, "Hi there! I am %s and I am here to help you with questions on %s.\n\n",
		t.IntroName, t.ForumName)
	fmt.Fprintf(&b, "The following question was posed on %s: \n\n``%s``\n\n", t.ForumName, q.Body)
	fmt.Fprintf(&b, " Here is a baseline response / some helpful tips to answer the question: \n\n ``%s`` \n\n", answer)
	fmt.Fprintf(&b, "Thanks, Hope you have a great day on %s!\n %s", t.Farewell, t.AssistantName)

	return model.Reply{
		Subject:   fmt.Sprintf("%s replies to '%s'", t.AssistantName, q.Heading),
		Body:      b.String(),
		Recipient: recipient,
	}
}
