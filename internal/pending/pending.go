// Package pending models an annotation request that is waiting for the user
// to pick a target wine or to supply note text.
package pending

import (
	"strings"

	"github.com/kalambet/vinochat/internal/candidates"
)

// State is the stage of a pending action.
type State int

const (
	// None means nothing is pending.
	None State = iota
	// AwaitingTarget waits for the user to pick one of Candidates.
	AwaitingTarget
	// AwaitingContent has resolved targets and waits for note text.
	AwaitingContent
)

func (s State) String() string {
	switch s {
	case AwaitingTarget:
		return "awaiting_target"
	case AwaitingContent:
		return "awaiting_content"
	default:
		return "none"
	}
}

// Kind is the annotation type.
type Kind string

const (
	Like Kind = "like"
	Note Kind = "note"
)

// Valid reports whether k is like or note.
func (k Kind) Valid() bool { return k == Like || k == Note }

// Action is an in-flight annotation request. The zero value is None.
type Action struct {
	State      State             `json:"state"`
	Kind       Kind              `json:"record_type,omitempty"`
	Reference  string            `json:"reference_text,omitempty"`
	Content    string            `json:"content,omitempty"`
	Candidates []candidates.Item `json:"candidates,omitempty"`
	Selected   []candidates.Item `json:"selected,omitempty"`
}

// Clear returns the empty action.
func Clear() Action { return Action{} }

// AwaitTarget asks the user to choose among items.
func AwaitTarget(kind Kind, content, reference string, items []candidates.Item) Action {
	return Action{
		State:      AwaitingTarget,
		Kind:       kind,
		Reference:  strings.TrimSpace(reference),
		Content:    strings.TrimSpace(content),
		Candidates: candidates.Cap(items),
	}
}

// AwaitContent keeps the resolved targets of a note until text arrives.
func AwaitContent(selected []candidates.Item) Action {
	return Action{
		State:    AwaitingContent,
		Kind:     Note,
		Selected: selected,
	}
}

// Active reports whether the action waits for user input.
func (a Action) Active() bool {
	return a.State != None && a.Kind.Valid()
}

// WithContent returns a copy carrying note text.
func (a Action) WithContent(text string) Action {
	a.Content = strings.TrimSpace(text)
	return a
}
