package commands

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"golang.org/x/term"

	"github.com/leapstack-labs/fdwregress/internal/cli/config"
)

// Prompter reads answers from an input stream. Secrets are read without
// echo when the input is a terminal.
type Prompter struct {
	in     *bufio.Reader
	out    io.Writer
	secret func() (string, error)
}

// NewPrompter creates a prompter writing its questions to out.
func NewPrompter(in io.Reader, out io.Writer) *Prompter {
	p := &Prompter{in: bufio.NewReader(in), out: out}
	if f, ok := in.(*os.File); ok && isTerminalFile(f) {
		p.secret = func() (string, error) {
			b, err := term.ReadPassword(int(f.Fd()))
			_, _ = fmt.Fprintln(out)
			return string(b), err
		}
	}
	return p
}

func isTerminalFile(f *os.File) bool {
	return term.IsTerminal(int(f.Fd()))
}

// Line asks a question and returns the trimmed answer.
func (p *Prompter) Line(question string) (string, error) {
	_, _ = fmt.Fprint(p.out, question)
	line, err := p.in.ReadString('\n')
	if err != nil && !(errors.Is(err, io.EOF) && line != "") {
		return "", fmt.Errorf("failed to read answer: %w", err)
	}
	return strings.TrimSpace(line), nil
}

// Secret asks a question whose answer is not echoed.
func (p *Prompter) Secret(question string) (string, error) {
	if p.secret == nil {
		return p.Line(question)
	}
	_, _ = fmt.Fprint(p.out, question)
	s, err := p.secret()
	if err != nil {
		return "", fmt.Errorf("failed to read password: %w", err)
	}
	return s, nil
}

// Endpoint asks for a connection string. A missing password is asked for
// separately.
func (p *Prompter) Endpoint(label string) (config.Endpoint, error) {
	answer, err := p.Line(fmt.Sprintf("Type in connection string for %s [host:port:dbname:user[:password]]: ", label))
	if err != nil {
		return config.Endpoint{}, err
	}
	e, err := config.ParseEndpoint(answer)
	if err != nil {
		return config.Endpoint{}, err
	}
	if strings.Count(answer, ":") < 4 {
		if e.Password, err = p.Secret(fmt.Sprintf("Password for %s@%s: ", e.User, e.Host)); err != nil {
			return config.Endpoint{}, err
		}
	}
	return e, nil
}

// promptAndWrite asks for both connections and writes the config file.
func promptAndWrite(p *Prompter, path string, force bool) error {
	remoteEnd, err := p.Endpoint("Tibero")
	if err != nil {
		return err
	}
	localEnd, err := p.Endpoint("PostgreSQL")
	if err != nil {
		return err
	}
	return config.WriteFile(path, config.File{Remote: remoteEnd, Local: localEnd}, force)
}
