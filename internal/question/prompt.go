package question

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"slices"
	"strconv"
	"strings"
	"unicode/utf8"

	"github.com/charmbracelet/lipgloss"
)

const (
	otherLabel  = "Other (specify your own answer)"
	otherPrompt = "Please specify your own answer:"
)

// errStop ends a questionnaire early: the input closed or ctx ended.
var errStop = errors.New("questionnaire stopped")

type styles struct {
	title  lipgloss.Style
	prompt lipgloss.Style
	dim    lipgloss.Style
	warn   lipgloss.Style
	ok     lipgloss.Style
}

func newStyles() styles {
	return styles{
		title:  lipgloss.NewStyle().Foreground(lipgloss.Color("12")).Bold(true),
		prompt: lipgloss.NewStyle().Bold(true),
		dim:    lipgloss.NewStyle().Faint(true),
		warn:   lipgloss.NewStyle().Foreground(lipgloss.Color("11")).Bold(true),
		ok:     lipgloss.NewStyle().Foreground(lipgloss.Color("10")).Bold(true),
	}
}

type line struct {
	text string
	err  error
}

// Prompter asks questions line by line on a plain terminal.
type Prompter struct {
	out   io.Writer
	lines chan line
	st    styles
}

// NewPrompter starts reading in. The reader goroutine lives until in
// returns an error.
func NewPrompter(in io.Reader, out io.Writer) *Prompter {
	p := &Prompter{out: out, lines: make(chan line), st: newStyles()}
	go func() {
		sc := bufio.NewScanner(in)
		for sc.Scan() {
			p.lines <- line{text: sc.Text()}
		}
		err := sc.Err()
		if err == nil {
			err = io.EOF
		}
		p.lines <- line{err: err}
		close(p.lines)
	}()
	return p
}

func (p *Prompter) printf(format string, args ...any) {
	_, _ = fmt.Fprintf(p.out, format, args...)
}

func (p *Prompter) read(ctx context.Context) (string, error) {
	select {
	case <-ctx.Done():
		return "", errStop
	case l, ok := <-p.lines:
		if !ok || l.err != nil {
			return "", errStop
		}
		return strings.TrimRight(l.text, "\r"), nil
	}
}

// Ask walks the questionnaire. A closed input or an interrupt yields a
// cancelled response and a passed deadline a timed out one; neither is an
// error.
func (p *Prompter) Ask(ctx context.Context, q Questionnaire) (Response, error) {
	p.printf("%s\n\n%s\n%s\n\n",
		p.st.title.Render("Questionnaire"),
		p.st.dim.Render("Please answer the following questions:"),
		p.st.dim.Render("Press Ctrl+C or Ctrl+D to cancel at any time."))

	res := Response{Responses: make([]Answer, 0, len(q.Questions))}
	for i, qu := range q.Questions {
		p.printf("%s %s\n", p.st.dim.Render(fmt.Sprintf("[%d/%d]", i+1, len(q.Questions))), p.st.prompt.Render(qu.Prompt))
		if qu.Description != "" {
			p.printf("%s\n", p.st.dim.Render(qu.Description))
		}
		var (
			a   Answer
			err error
		)
		if qu.Type == TypeMultipleChoice {
			a, err = p.choice(ctx, qu)
		} else {
			a, err = p.open(ctx, qu)
		}
		if errors.Is(err, errStop) {
			if errors.Is(ctx.Err(), context.DeadlineExceeded) {
				p.printf("\n%s\n", p.st.warn.Render("Questionnaire timed out."))
				return Response{Responses: []Answer{}, TimedOut: true}, nil
			}
			p.printf("\n%s\n", p.st.warn.Render("Questionnaire cancelled by user."))
			return Response{Responses: []Answer{}, Cancelled: true}, nil
		}
		if err != nil {
			return Response{}, err
		}
		res.Responses = append(res.Responses, a)
		p.printf("\n")
	}
	return res, nil
}

// Done prints the closing message for a finished questionnaire.
func (p *Prompter) Done(goos string) {
	p.printf("%s\n", p.st.ok.Render("Questionnaire completed successfully!"))
	if goos == "darwin" {
		p.printf("%s\n", p.st.dim.Render("You can close this window now."))
		return
	}
	p.printf("%s\n", p.st.dim.Render("Window will close automatically in 3 seconds."))
}

func (p *Prompter) open(ctx context.Context, q Question) (Answer, error) {
	hint := "> "
	if q.Placeholder != "" {
		hint = p.st.dim.Render("("+q.Placeholder+")") + " > "
	}
	for {
		p.printf("%s", hint)
		text, err := p.read(ctx)
		if err != nil {
			return Answer{}, err
		}
		if text == "" {
			text = q.Placeholder
		}
		if msg := checkLength(q, text); msg != "" {
			p.printf("%s\n", p.st.warn.Render(msg))
			continue
		}
		return Answer{QuestionID: q.ID, Response: []string{text}}, nil
	}
}

func checkLength(q Question, text string) string {
	n := utf8.RuneCountInString(text)
	if q.MinLength > 0 && n < q.MinLength {
		return fmt.Sprintf("Answer must be at least %d characters long", q.MinLength)
	}
	if q.MaxLength > 0 && n > q.MaxLength {
		return fmt.Sprintf("Answer must be no more than %d characters long", q.MaxLength)
	}
	return ""
}

func checkSelections(q Question, n int) string {
	if q.MinSelections > 0 && n < q.MinSelections {
		return fmt.Sprintf("Please select at least %d option(s)", q.MinSelections)
	}
	if q.MaxSelections > 0 && n > q.MaxSelections {
		return fmt.Sprintf("Please select no more than %d option(s)", q.MaxSelections)
	}
	return ""
}

// choices lists the options as shown, with Other last when allowed.
func choices(q Question) []Option {
	out := append([]Option(nil), q.Options...)
	if q.OwnVariantAllowed() {
		out = append(out, Option{ID: OtherOptionID, Label: otherLabel})
	}
	return out
}

func (p *Prompter) choice(ctx context.Context, q Question) (Answer, error) {
	opts := choices(q)
	def := 0
	for i, o := range opts {
		mark := " "
		if o.ID == q.DefaultOptionID {
			mark = "*"
			def = i + 1
		}
		label := o.Label
		if o.Description != "" {
			label += " - " + p.st.dim.Render(o.Description)
		}
		p.printf(" %s %d) %s\n", mark, i+1, label)
	}
	hint := "Select one"
	if q.AllowMultiple {
		hint = "Select one or more, comma separated"
	}
	if def > 0 {
		hint += fmt.Sprintf(" [%d]", def)
	}

	for {
		p.printf("%s > ", p.st.dim.Render(hint))
		text, err := p.read(ctx)
		if err != nil {
			return Answer{}, err
		}
		picked, msg := parseSelection(text, len(opts), def, q.AllowMultiple)
		if msg == "" && q.AllowMultiple {
			msg = checkSelections(q, len(picked))
		}
		if msg != "" {
			p.printf("%s\n", p.st.warn.Render(msg))
			continue
		}

		a := Answer{QuestionID: q.ID, Response: make([]string, 0, len(picked))}
		for _, n := range picked {
			a.Response = append(a.Response, opts[n-1].ID)
		}
		if slices.Contains(a.Response, OtherOptionID) {
			custom, err := p.custom(ctx)
			if err != nil {
				return Answer{}, err
			}
			a.CustomText = custom
		}
		return a, nil
	}
}

func (p *Prompter) custom(ctx context.Context) (string, error) {
	for {
		p.printf("%s > ", p.st.prompt.Render(otherPrompt))
		text, err := p.read(ctx)
		if err != nil {
			return "", err
		}
		if strings.TrimSpace(text) == "" {
			p.printf("%s\n", p.st.warn.Render(otherPrompt))
			continue
		}
		return text, nil
	}
}

// parseSelection turns "2" or "1, 3" into 1-based option numbers. An empty
// line picks def when there is one.
func parseSelection(text string, n, def int, multiple bool) ([]int, string) {
	text = strings.TrimSpace(text)
	if text == "" {
		if def > 0 {
			return []int{def}, ""
		}
		if multiple {
			return nil, ""
		}
		return nil, "Please select an option"
	}
	parts := strings.Split(text, ",")
	if !multiple && len(parts) > 1 {
		return nil, "Please select exactly one option"
	}
	seen := make(map[int]bool, len(parts))
	out := make([]int, 0, len(parts))
	for _, part := range parts {
		v, err := strconv.Atoi(strings.TrimSpace(part))
		if err != nil || v < 1 || v > n {
			return nil, fmt.Sprintf("Enter a number between 1 and %d", n)
		}
		if !seen[v] {
			seen[v] = true
			out = append(out, v)
		}
	}
	return out, ""
}
