package userio

import (
	"bufio"
	"fmt"
	"io"
	"os"

	"golang.org/x/term"

	"github.com/dargo-project/dargo/internal/direrr"
)

// Interaction is the four-callback surface a front-end supplies so the
// engine never talks to a terminal directly (spec §6): status messages,
// a yes/no pause (used before a destructive or ambiguous action), a
// plaintext prompt, and a secret prompt whose answer is returned as a
// SecureString the caller must Close.
type Interaction interface {
	// Message reports progress or a warning; it never blocks.
	Message(text string)
	// Pause asks a yes/no question and blocks for an answer; returning
	// false means the caller should abort the pending action.
	Pause(question string) (bool, error)
	// GetString prompts for a plaintext line of input.
	GetString(prompt string, echo bool) (string, error)
	// GetSecureString prompts for a secret; the returned SecureString
	// must be Closed by the caller once consumed.
	GetSecureString(prompt string) (*SecureString, error)
}

// Terminal is the default Interaction, reading prompts from an io.Reader
// (normally os.Stdin) and writing messages/questions to an io.Writer
// (normally os.Stderr, so Message output doesn't interleave with a
// program's own stdout data stream).
type Terminal struct {
	In  io.Reader
	Out io.Writer

	reader *bufio.Reader
}

// NewTerminal builds a Terminal wired to os.Stdin/os.Stderr.
func NewTerminal() *Terminal {
	return &Terminal{In: os.Stdin, Out: os.Stderr}
}

func (t *Terminal) lineReader() *bufio.Reader {
	if t.reader == nil {
		t.reader = bufio.NewReader(t.In)
	}
	return t.reader
}

func (t *Terminal) Message(text string) {
	fmt.Fprintln(t.Out, text)
}

func (t *Terminal) Pause(question string) (bool, error) {
	fmt.Fprintf(t.Out, "%s [y/N] ", question)
	line, err := t.lineReader().ReadString('\n')
	if err != nil && err != io.EOF {
		return false, direrr.New(direrr.System, "userio.Terminal.Pause", err)
	}
	switch line {
	case "y\n", "Y\n", "yes\n":
		return true, nil
	default:
		return false, nil
	}
}

func (t *Terminal) GetString(prompt string, echo bool) (string, error) {
	fmt.Fprint(t.Out, prompt)
	if !echo {
		if f, ok := t.In.(*os.File); ok && term.IsTerminal(int(f.Fd())) {
			raw, err := term.ReadPassword(int(f.Fd()))
			fmt.Fprintln(t.Out)
			if err != nil {
				return "", direrr.New(direrr.System, "userio.Terminal.GetString", err)
			}
			defer zero(raw)
			return string(raw), nil
		}
	}
	line, err := t.lineReader().ReadString('\n')
	if err != nil && err != io.EOF {
		return "", direrr.New(direrr.System, "userio.Terminal.GetString", err)
	}
	return trimNewline(line), nil
}

func (t *Terminal) GetSecureString(prompt string) (*SecureString, error) {
	fmt.Fprint(t.Out, prompt)
	if f, ok := t.In.(*os.File); ok && term.IsTerminal(int(f.Fd())) {
		raw, err := term.ReadPassword(int(f.Fd()))
		fmt.Fprintln(t.Out)
		if err != nil {
			return nil, direrr.New(direrr.System, "userio.Terminal.GetSecureString", err)
		}
		defer zero(raw)
		return NewSecureString(raw), nil
	}
	line, err := t.lineReader().ReadString('\n')
	if err != nil && err != io.EOF {
		return nil, direrr.New(direrr.System, "userio.Terminal.GetSecureString", err)
	}
	trimmed := []byte(trimNewline(line))
	defer zero(trimmed)
	return NewSecureString(trimmed), nil
}

func trimNewline(s string) string {
	if n := len(s); n > 0 && s[n-1] == '\n' {
		s = s[:n-1]
	}
	if n := len(s); n > 0 && s[n-1] == '\r' {
		s = s[:n-1]
	}
	return s
}

func zero(b []byte) {
	for i := range b {
		b[i] = 0
	}
}

// Noninteractive is an Interaction for unattended runs: Pause always
// answers the supplied default, and the prompt methods return an error
// rather than blocking on input that will never come.
type Noninteractive struct {
	DefaultAnswer bool
}

func (n Noninteractive) Message(string) {}

func (n Noninteractive) Pause(string) (bool, error) { return n.DefaultAnswer, nil }

func (n Noninteractive) GetString(prompt string, echo bool) (string, error) {
	return "", direrr.Newf(direrr.UserAbort, "userio.Noninteractive.GetString", "no terminal attached to answer %q", prompt)
}

func (n Noninteractive) GetSecureString(prompt string) (*SecureString, error) {
	return nil, direrr.Newf(direrr.UserAbort, "userio.Noninteractive.GetSecureString", "no terminal attached to answer %q", prompt)
}
