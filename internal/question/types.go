// Package question implements the interactive questionnaire workload.
package question

// Type is the kind of a question.
type Type string

const (
	TypeOpen           Type = "open"
	TypeMultipleChoice Type = "multiple_choice"
)

// OtherOptionID marks the free-text "Other" choice in a response.
const OtherOptionID = "__other__"

type Option struct {
	ID          string `json:"id" yaml:"id"`
	Label       string `json:"label" yaml:"label"`
	Description string `json:"description,omitempty" yaml:"description,omitempty"`
}

// Question is either an open question or a multiple choice question,
// selected by Type. Fields of the other kind are ignored.
type Question struct {
	Type        Type   `json:"type" yaml:"type"`
	ID          string `json:"id" yaml:"id"`
	Prompt      string `json:"prompt" yaml:"prompt"`
	Description string `json:"description,omitempty" yaml:"description,omitempty"`

	// open
	Placeholder string `json:"placeholder,omitempty" yaml:"placeholder,omitempty"`
	MinLength   int    `json:"minLength,omitempty" yaml:"minLength,omitempty"`
	MaxLength   int    `json:"maxLength,omitempty" yaml:"maxLength,omitempty"`

	// multiple choice
	Options         []Option `json:"options,omitempty" yaml:"options,omitempty"`
	DefaultOptionID string   `json:"defaultOptionID,omitempty" yaml:"defaultOptionID,omitempty"`
	AllowMultiple   bool     `json:"allowMultiple,omitempty" yaml:"allowMultiple,omitempty"`
	MinSelections   int      `json:"minSelections,omitempty" yaml:"minSelections,omitempty"`
	MaxSelections   int      `json:"maxSelections,omitempty" yaml:"maxSelections,omitempty"`
	AllowOwnVariant *bool    `json:"allowOwnVariant,omitempty" yaml:"allowOwnVariant,omitempty"`
}

// OwnVariantAllowed reports whether an "Other" answer is offered. It
// defaults to true.
func (q Question) OwnVariantAllowed() bool {
	return q.AllowOwnVariant == nil || *q.AllowOwnVariant
}

type Questionnaire struct {
	Questions []Question `json:"questions" yaml:"questions"`
}

type Answer struct {
	QuestionID string   `json:"questionId"`
	Response   []string `json:"response"`
	CustomText string   `json:"customText,omitempty"`
}

// Response is the workload output.
type Response struct {
	Responses []Answer `json:"responses"`
	Cancelled bool     `json:"cancelled"`
	TimedOut  bool     `json:"timedOut"`
}
