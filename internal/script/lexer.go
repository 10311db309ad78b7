// Package script splits SQL script files into executable statements.
//
// Scripts are read line by line. Line comments ("--") and block comments
// ("/* ... */") are stripped outside string literals, optimizer hints ("/*+")
// are kept, and a statement ends at the first top-level semicolon. Lines of a
// statement are joined with newlines so layout-sensitive statements survive.
//
// Procedural blocks whose bodies contain semicolons are not supported: each
// inner semicolon ends a statement.
package script

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"iter"
	"os"
	"strings"
)

// errExhausted marks the end of input inside the lexer.
var errExhausted = errors.New("exhausted")

// Lexer turns a SQL script into a lazy sequence of statements.
// A Lexer is not safe for concurrent use.
type Lexer struct {
	r      *bufio.Reader
	closer io.Closer
	name   string

	line     int  // lines consumed so far (1-based after the first read)
	eof      bool // underlying reader is drained
	pushback string
	hasPush  bool
	quote    byte // delimiter of the open string literal, 0 outside literals

	// one-statement lookahead used by Exhausted
	peeked  bool
	pending string
	pendErr error
}

// NewLexer creates a lexer reading from r. The name is used in error messages.
func NewLexer(r io.Reader, name string) *Lexer {
	return &Lexer{
		r:    bufio.NewReader(r),
		name: name,
	}
}

// Open opens the script at path. The caller must Close the lexer.
func Open(path string) (*Lexer, error) {
	f, err := os.Open(path) //nolint:gosec // script paths come from the harness configuration
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("%w: %s", ErrNotFound, path)
		}
		return nil, fmt.Errorf("failed to open script %s: %w", path, err)
	}
	l := NewLexer(f, path)
	l.closer = f
	return l, nil
}

// Statements lexes the whole script at path.
func Statements(path string) ([]string, error) {
	l, err := Open(path)
	if err != nil {
		return nil, err
	}
	defer func() { _ = l.Close() }()

	var stmts []string
	for stmt, err := range l.All() {
		if err != nil {
			return nil, err
		}
		stmts = append(stmts, stmt)
	}
	return stmts, nil
}

// Close releases the underlying file, if the lexer owns one.
func (l *Lexer) Close() error {
	if l.closer == nil {
		return nil
	}
	err := l.closer.Close()
	l.closer = nil
	return err
}

// Exhausted reports whether no statement remains.
// It returns false when the next call to Next would fail with a lexing error,
// so the error is never hidden from a caller looping on Exhausted.
func (l *Lexer) Exhausted() bool {
	l.prefetch()
	return errors.Is(l.pendErr, errExhausted)
}

// Next returns the next statement, or ErrEndOfInput once the lexer is exhausted.
// After a lexing error the lexer is exhausted.
func (l *Lexer) Next() (string, error) {
	l.prefetch()
	stmt, err := l.pending, l.pendErr
	switch {
	case errors.Is(err, errExhausted):
		return "", ErrEndOfInput
	case err != nil:
		l.pendErr = errExhausted
		return "", err
	}
	l.peeked = false
	l.pending = ""
	return stmt, nil
}

// All returns a sequence over the remaining statements.
// The sequence stops after the first error.
func (l *Lexer) All() iter.Seq2[string, error] {
	return func(yield func(string, error) bool) {
		for !l.Exhausted() {
			stmt, err := l.Next()
			if !yield(stmt, err) || err != nil {
				return
			}
		}
	}
}

func (l *Lexer) prefetch() {
	if l.peeked {
		return
	}
	l.peeked = true
	l.pending, l.pendErr = l.scan()
}

// scan reads lines until a statement terminator. Text left without a
// terminator at end of input is not a statement and is dropped.
func (l *Lexer) scan() (string, error) {
	var frags []string
	for {
		line, ok, err := l.readLine()
		if err != nil {
			return "", err
		}
		if !ok {
			return "", errExhausted
		}

		res, err := l.stripLine(line)
		if err != nil {
			return "", err
		}

		blank := strings.TrimSpace(res.text) == ""
		if !res.term && blank && (res.stripped || len(frags) == 0) {
			// pure comment line, or blank line before the statement starts
			continue
		}

		if len(frags) == 0 {
			// the first fragment may start after a stripped comment or a previous terminator
			res.text = strings.TrimLeft(res.text, " \t")
		}
		frags = append(frags, res.text)
		if res.term {
			return strings.Join(frags, "\n"), nil
		}
	}
}

// lineResult is one source line after comment stripping.
type lineResult struct {
	text     string
	stripped bool // a comment was removed from the line
	term     bool // the line holds the statement terminator
}

func (l *Lexer) stripLine(line string) (lineResult, error) {
	var (
		b   strings.Builder
		res lineResult
	)

	for i := 0; i < len(line); {
		c := line[i]

		if l.quote != 0 {
			if c == l.quote {
				l.quote = 0
			}
			b.WriteByte(c)
			i++
			continue
		}

		switch {
		case c == '\'' || c == '"':
			l.quote = c
			b.WriteByte(c)
			i++

		case strings.HasPrefix(line[i:], "--"):
			res.stripped = true
			res.text = strings.TrimRight(b.String(), " \t")
			return res, nil

		case strings.HasPrefix(line[i:], "/*+"):
			b.WriteString("/*+")
			i += 3

		case strings.HasPrefix(line[i:], "/*"):
			res.stripped = true
			after, err := l.skipBlockComment(line[i+2:])
			if err != nil {
				return res, err
			}
			line, i = after, 0

		case c == ';':
			b.WriteByte(c)
			res.term = true
			rest := line[i+1:]
			if hasCode(rest) {
				// another statement shares the line
				l.pushback, l.hasPush = rest, true
			} else {
				b.WriteString(rest)
			}
			res.text = b.String()
			return res, nil

		default:
			b.WriteByte(c)
			i++
		}
	}

	res.text = b.String()
	return res, nil
}

// skipBlockComment consumes input up to and including "*/" and returns the
// text following it on the closing line. rest is the text after "/*".
func (l *Lexer) skipBlockComment(rest string) (string, error) {
	start := l.line
	for {
		if idx := strings.Index(rest, "*/"); idx >= 0 {
			return rest[idx+2:], nil
		}
		next, ok, err := l.readLine()
		if err != nil {
			return "", err
		}
		if !ok {
			return "", &UnterminatedBlockCommentError{Source: l.name, Line: start}
		}
		rest = next
	}
}

// hasCode reports whether text following a terminator holds more than
// whitespace or a trailing line comment.
func hasCode(s string) bool {
	s = strings.TrimSpace(s)
	return s != "" && !strings.HasPrefix(s, "--")
}

func (l *Lexer) readLine() (string, bool, error) {
	if l.hasPush {
		l.hasPush = false
		return l.pushback, true, nil
	}
	if l.eof {
		return "", false, nil
	}

	s, err := l.r.ReadString('\n')
	if err != nil {
		if !errors.Is(err, io.EOF) {
			return "", false, fmt.Errorf("failed to read %s: %w", l.name, err)
		}
		l.eof = true
		if s == "" {
			return "", false, nil
		}
	}

	l.line++
	s = strings.TrimSuffix(s, "\n")
	s = strings.TrimSuffix(s, "\r")
	return s, true, nil
}
