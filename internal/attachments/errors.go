package attachments

import "fmt"

// InputError reports attachment input that could not be decoded.
type InputError struct {
	Field string
	Err   error
}

func (e *InputError) Error() string {
	return fmt.Sprintf("attachments: invalid %s: %v", e.Field, e.Err)
}

func (e *InputError) Unwrap() error { return e.Err }

// ParseError reports a malformed gallery query string.
type ParseError struct {
	Segment string
	Index   int
	Reason  string
	Err     error
}

func (e *ParseError) Error() string {
	msg := "attachments: parse query string: " + e.Reason
	if e.Segment != "" {
		msg += fmt.Sprintf(" (segment %d %q)", e.Index, e.Segment)
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *ParseError) Unwrap() error { return e.Err }
