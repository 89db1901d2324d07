// Package dedup selects the parsed questions that still need an answer.
package dedup

import (
	"github.com/nhle/quickans/internal/ledger"
	"github.com/nhle/quickans/internal/model"
)

// Pending is an insertion-ordered map of question id to question.
type Pending struct {
	order []model.QuestionID
	byID  map[model.QuestionID]model.ParsedQuestion

	// Duplicates counts ids seen more than once in the input.
	Duplicates int

	// Answered counts questions dropped because the ledger holds them.
	Answered int
}

// Len returns the number of pending questions.
func (p *Pending) Len() int {
	return len(p.order)
}

// Get returns the question for id.
func (p *Pending) Get(id model.QuestionID) (model.ParsedQuestion, bool) {
	q, ok := p.byID[id]
	return q, ok
}

// IDs returns the pending ids in first-seen order.
func (p *Pending) IDs() []model.QuestionID {
	out := make([]model.QuestionID, len(p.order))
	copy(out, p.order)
	return out
}

// Questions returns the pending questions in first-seen order.
func (p *Pending) Questions() []model.ParsedQuestion {
	out := make([]model.ParsedQuestion, 0, len(p.order))
	for _, id := range p.order {
		out = append(out, p.byID[id])
	}
	return out
}

// Filter keeps each question whose (id, recipient) pair is not in the
// ledger. Keys keep the position of their first occurrence; a repeated id
// takes the content of its last occurrence.
func Filter(parsed []model.ParsedQuestion, recipient model.RecipientID, checker ledger.Checker) *Pending {
	p := &Pending{byID: make(map[model.QuestionID]model.ParsedQuestion)}

	seen := make(map[model.QuestionID]bool, len(parsed))
	for _, q := range parsed {
		if seen[q.ID] {
			p.Duplicates++
			if _, ok := p.byID[q.ID]; ok {
				p.byID[q.ID] = q
			}
			continue
		}
		seen[q.ID] = true

		if checker.Contains(model.LedgerEntry{QuestionID: q.ID, RecipientID: recipient}) {
			p.Answered++
			continue
		}

		p.order = append(p.order, q.ID)
		p.byID[q.ID] = q
	}

	return p
}
