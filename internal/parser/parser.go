// Package parser turns forum notification emails into questions.
package parser

import (
	"errors"
	"fmt"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"github.com/nhle/quickans/internal/model"
	"github.com/nhle/quickans/internal/source"
)

// ErrNoQuestion means a relevant notification had no question paragraph.
var ErrNoQuestion = errors.New("notification has no question paragraph")

// ParseError describes a notification that looked relevant but could not
// be turned into a question.
type ParseError struct {
	MessageID model.QuestionID
	Heading   string
	Err       error
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("parsing message %s (%q): %v", e.MessageID, e.Heading, e.Err)
}

func (e *ParseError) Unwrap() error {
	return e.Err
}

// IsParseError reports whether err (or any error in its chain) is a
// ParseError.
func IsParseError(err error) bool {
	var pe *ParseError
	return errors.As(err, &pe)
}

// Parser extracts questions from notification HTML.
type Parser struct {
	// Marker is the heading substring that makes a notification relevant.
	Marker string

	// QuestionClass is the class of the paragraph that opens the question.
	QuestionClass string
}

// New returns a Parser with the given marker and question class, falling
// back to the defaults for empty values.
func New(marker, questionClass string) *Parser {
	if marker == "" {
		marker = model.DefaultMarker
	}
	if questionClass == "" {
		questionClass = model.DefaultQuestionClass
	}
	return &Parser{Marker: marker, QuestionClass: questionClass}
}

// Parse returns the question in msg, or (nil, nil) when msg is not a
// question notification.
func (p *Parser) Parse(msg source.RawMessage) (*model.ParsedQuestion, error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(msg.HTMLBody()))
	if err != nil {
		return nil, &ParseError{MessageID: model.QuestionID(msg.ID()), Err: err}
	}

	h1 := doc.Find("h1").First()
	if h1.Length() == 0 {
		return nil, nil
	}
	heading := collapseSpace(h1.Text())
	if !strings.Contains(heading, p.Marker) {
		return nil, nil
	}

	body, err := p.extract(doc)
	if err != nil {
		return nil, &ParseError{MessageID: model.QuestionID(msg.ID()), Heading: heading, Err: err}
	}

	return &model.ParsedQuestion{
		ID:      model.QuestionID(msg.ID()),
		Heading: heading,
		Body:    body,
	}, nil
}

// extract builds the question body: the text of the marked paragraph,
// then every following sibling paragraph, each followed by its first
// image URL. Images inside the marked paragraph are not collected.
func (p *Parser) extract(doc *goquery.Document) (string, error) {
	start := doc.Find("p." + p.QuestionClass).First()
	if start.Length() == 0 {
		return "", ErrNoQuestion
	}

	var b strings.Builder
	writeText(&b, start)
	start.NextAllFiltered("p").Each(func(_ int, s *goquery.Selection) {
		writeText(&b, s)
		writeImage(&b, s)
	})

	if b.Len() == 0 {
		return "", ErrNoQuestion
	}
	return b.String(), nil
}

func writeText(b *strings.Builder, s *goquery.Selection) {
	if text := strings.TrimSpace(s.Text()); text != "" {
		b.WriteString(text)
		b.WriteByte('\n')
	}
}

func writeImage(b *strings.Builder, s *goquery.Selection) {
	if src, ok := s.Find("img").First().Attr("src"); ok && src != "" {
		b.WriteString(src)
		b.WriteByte('\n')
	}
}

func collapseSpace(s string) string {
	return strings.Join(strings.Fields(s), " ")
}
