// Package prompt asks line-based questions on a console.
package prompt

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/Ning0612/Phonesync/internal/domain"
	"github.com/Ning0612/Phonesync/internal/logger"
)

// DefaultMaxAttempts is the number of invalid answers tolerated per question
const DefaultMaxAttempts = 3

// ErrTooManyAttempts is returned (wrapped in domain.ErrCancelled) when the
// user keeps giving invalid answers
var ErrTooManyAttempts = errors.New("too many invalid answers")

// Prompter reads answers from in and writes questions to out
type Prompter struct {
	in  *bufio.Reader
	out io.Writer

	MaxAttempts int
}

// New creates a prompter
func New(in io.Reader, out io.Writer) *Prompter {
	return &Prompter{
		in:          bufio.NewReader(in),
		out:         out,
		MaxAttempts: DefaultMaxAttempts,
	}
}

// readLine returns the next trimmed line. EOF with no pending input cancels.
func (p *Prompter) readLine() (string, error) {
	line, err := p.in.ReadString('\n')
	if err != nil {
		if errors.Is(err, io.EOF) && line != "" {
			return strings.TrimSpace(line), nil
		}
		if errors.Is(err, io.EOF) {
			fmt.Fprintln(p.out)
			return "", domain.ErrCancelled
		}
		return "", err
	}
	return strings.TrimSpace(line), nil
}

// ask repeats question until parse accepts the answer or attempts run out
func (p *Prompter) ask(question string, hint string, parse func(string) (bool, error)) error {
	for attempt := 1; attempt <= p.MaxAttempts; attempt++ {
		fmt.Fprintf(p.out, "%s %s: ", question, hint)

		answer, err := p.readLine()
		if err != nil {
			return err
		}

		ok, err := parse(answer)
		if err != nil {
			return err
		}
		if ok {
			return nil
		}

		if left := p.MaxAttempts - attempt; left > 0 {
			fmt.Fprintf(p.out, "Invalid choice %q (%d attempts remaining)\n", answer, left)
		} else {
			fmt.Fprintf(p.out, "Invalid choice %q (no attempts remaining)\n", answer)
		}
	}

	logger.Get().Warn("prompt abandoned", "question", question, "attempts", p.MaxAttempts)
	return fmt.Errorf("%w: %w", domain.ErrCancelled, ErrTooManyAttempts)
}

// Choose asks for one of options, matched case-insensitively. An empty
// answer selects def. The returned value is spelled as in options.
func (p *Prompter) Choose(question string, options []string, def string) (string, error) {
	hint := "[" + strings.Join(options, "/")
	if def != "" {
		hint += ", default: " + def
	}
	hint += "]"

	var chosen string
	err := p.ask(question, hint, func(answer string) (bool, error) {
		if answer == "" && def != "" {
			chosen = def
			return true, nil
		}
		for _, o := range options {
			if strings.EqualFold(answer, o) {
				chosen = o
				return true, nil
			}
		}
		return false, nil
	})
	return chosen, err
}

// Confirm asks a yes/no question. An empty answer selects def.
func (p *Prompter) Confirm(question string, def bool) (bool, error) {
	defAnswer := "n"
	if def {
		defAnswer = "y"
	}

	var result bool
	err := p.ask(question, fmt.Sprintf("[y/n, default: %s]", defAnswer), func(answer string) (bool, error) {
		switch strings.ToLower(answer) {
		case "":
			result = def
		case "y", "yes":
			result = true
		case "n", "no":
			result = false
		default:
			return false, nil
		}
		return true, nil
	})
	return result, err
}

// Select lists items numbered from 1 and returns the zero-based index of
// the chosen one
func (p *Prompter) Select(question string, items []string) (int, error) {
	if len(items) == 0 {
		return -1, errors.New("nothing to select from")
	}

	fmt.Fprintln(p.out, question)
	for i, item := range items {
		fmt.Fprintf(p.out, "  %d. %s\n", i+1, item)
	}

	idx := -1
	err := p.ask("Enter number", fmt.Sprintf("[1-%d]", len(items)), func(answer string) (bool, error) {
		n, err := strconv.Atoi(answer)
		if err != nil || n < 1 || n > len(items) {
			return false, nil
		}
		idx = n - 1
		return true, nil
	})
	return idx, err
}
