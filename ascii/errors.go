package ascii

import "strconv"

// ParseError is returned by Parse when the buffered bytes cannot be framed
// as any reply of the protocol. The connection they came from must be
// closed: there is no way to find the next response boundary.
type ParseError struct {
	Message string
	Line    string // offending line, truncated, without terminator
	Err     error  // Underlying error, if any
}

func (e *ParseError) Error() string {
	msg := "parse error: " + e.Message
	if e.Line != "" {
		msg += ": " + strconv.Quote(e.Line)
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

// Unwrap returns the underlying error for error chain inspection
func (e *ParseError) Unwrap() error {
	return e.Err
}

const maxQuotedLine = 64

func newParseError(message string, line []byte, err error) *ParseError {
	if len(line) > maxQuotedLine {
		line = line[:maxQuotedLine]
	}
	return &ParseError{Message: message, Line: string(line), Err: err}
}
