package cmd

import (
	"context"
	"fmt"
	"io"
	"regexp"
	"strings"
	"sync"

	"github.com/fatih/color"
)

// lineReader is the subset of *readline.Instance the shell and asker use.
type lineReader interface {
	Readline() (string, error)
	ReadPassword(prompt string) ([]byte, error)
	SetPrompt(prompt string)
}

// secretQuestion marks questions whose answers are not echoed.
var secretQuestion = regexp.MustCompile(`(?i)\b(password|passcode|pin|secret|token|otp|one-time|verification code|2fa)\b`)

type answer struct {
	text string
	err  error
}

// terminalAsker answers ask_user tool calls from the operator's terminal.
// It is also the shell's lineReader, so a read abandoned by a cancelled
// question completes before the next prompt starts reading.
type terminalAsker struct {
	rl     lineReader
	out    io.Writer
	prompt string // restored after each question

	mu      sync.Mutex
	pending <-chan answer // abandoned read, its line is discarded
}

func newTerminalAsker(rl lineReader, out io.Writer, prompt string) *terminalAsker {
	return &terminalAsker{rl: rl, out: out, prompt: prompt}
}

// Ask prints question and waits for one line. Cancelling ctx abandons the
// question; the line typed for it is discarded.
func (a *terminalAsker) Ask(ctx context.Context, question string) (string, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.settle()

	color.New(color.FgYellow, color.Bold).Fprintf(a.out, "\n? %s\n", strings.TrimSpace(question))

	ch := make(chan answer, 1)
	go func() {
		if isSecretQuestion(question) {
			b, err := a.rl.ReadPassword("(hidden) > ")
			ch <- answer{string(b), err}
			return
		}
		a.rl.SetPrompt("answer> ")
		line, err := a.rl.Readline()
		a.rl.SetPrompt(a.prompt)
		ch <- answer{line, err}
	}()

	select {
	case <-ctx.Done():
		a.pending = ch
		color.New(color.Faint).Fprintln(a.out, "(question cancelled, press Enter to continue)")
		return "", ctx.Err()
	case ans := <-ch:
		if ans.err != nil {
			return "", fmt.Errorf("read answer: %w", ans.err)
		}
		return strings.TrimSpace(ans.text), nil
	}
}

// settle waits for an abandoned read. Callers hold a.mu.
func (a *terminalAsker) settle() {
	if a.pending != nil {
		<-a.pending
		a.pending = nil
	}
}

func (a *terminalAsker) Readline() (string, error) {
	a.mu.Lock()
	a.settle()
	a.mu.Unlock()
	return a.rl.Readline()
}

func (a *terminalAsker) ReadPassword(prompt string) ([]byte, error) {
	a.mu.Lock()
	a.settle()
	a.mu.Unlock()
	return a.rl.ReadPassword(prompt)
}

func (a *terminalAsker) SetPrompt(prompt string) {
	a.rl.SetPrompt(prompt)
}

func isSecretQuestion(question string) bool {
	return secretQuestion.MatchString(question)
}
