package script

import (
	"errors"
	"fmt"
	"io/fs"
)

var (
	// ErrNotFound is returned by Open when the script file does not exist.
	// It also matches fs.ErrNotExist.
	ErrNotFound = fmt.Errorf("script not found: %w", fs.ErrNotExist)

	// ErrEndOfInput is returned by Next once the lexer is exhausted.
	ErrEndOfInput = errors.New("end of script input")

	// ErrUnterminatedBlockComment matches any *UnterminatedBlockCommentError.
	ErrUnterminatedBlockComment = errors.New("unterminated block comment")
)

// UnterminatedBlockCommentError reports a "/*" with no matching "*/" before end of file.
type UnterminatedBlockCommentError struct {
	Source string
	Line   int // line of the opening marker (1-based)
}

func (e *UnterminatedBlockCommentError) Error() string {
	if e.Source != "" {
		return fmt.Sprintf("%s:%d: %s", e.Source, e.Line, ErrUnterminatedBlockComment)
	}
	return fmt.Sprintf("line %d: %s", e.Line, ErrUnterminatedBlockComment)
}

// Is makes errors.Is(err, ErrUnterminatedBlockComment) work.
func (e *UnterminatedBlockCommentError) Is(target error) bool {
	return target == ErrUnterminatedBlockComment
}
