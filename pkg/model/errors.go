package model

import (
	"errors"
	"fmt"
)

// Code identifies a session-local failure kind. Codes travel to clients as
// the target of an ERROR frame, using their String form.
type Code uint8

const (
	CodeUnknown Code = iota
	CodeAlreadyExists
	CodeNotFound
	CodeNotMember
	CodeNameTaken
	CodeUserNotFound
	CodeBadCommand
	CodeDecodeError
	CodeUnreachable
	CodeServerFull
	CodeRateLimited
)

func (c Code) String() string {
	switch c {
	case CodeAlreadyExists:
		return "AlreadyExists"
	case CodeNotFound:
		return "NotFound"
	case CodeNotMember:
		return "NotMember"
	case CodeNameTaken:
		return "NameTaken"
	case CodeUserNotFound:
		return "UserNotFound"
	case CodeBadCommand:
		return "BadCommand"
	case CodeDecodeError:
		return "DecodeError"
	case CodeUnreachable:
		return "Unreachable"
	case CodeServerFull:
		return "ServerFull"
	case CodeRateLimited:
		return "RateLimited"
	default:
		return "Unknown"
	}
}

// ParseCode is the inverse of Code.String. Unrecognized names map to CodeUnknown.
func ParseCode(s string) Code {
	for c := CodeAlreadyExists; c <= CodeRateLimited; c++ {
		if c.String() == s {
			return c
		}
	}
	return CodeUnknown
}

// Fatal reports whether a failure of this kind ends the session.
func (c Code) Fatal() bool {
	return c == CodeDecodeError || c == CodeUnreachable || c == CodeServerFull
}

// Sentinels for errors.Is. An *Error matches the sentinel carrying the same code.
var (
	ErrAlreadyExists = &Error{Code: CodeAlreadyExists}
	ErrNotFound      = &Error{Code: CodeNotFound}
	ErrNotMember     = &Error{Code: CodeNotMember}
	ErrNameTaken     = &Error{Code: CodeNameTaken}
	ErrUserNotFound  = &Error{Code: CodeUserNotFound}
	ErrBadCommand    = &Error{Code: CodeBadCommand}
	ErrDecode        = &Error{Code: CodeDecodeError}
	ErrUnreachable   = &Error{Code: CodeUnreachable}
	ErrServerFull    = &Error{Code: CodeServerFull}
	ErrRateLimited   = &Error{Code: CodeRateLimited}
)

// Error is a chat failure reported back to the issuing session.
type Error struct {
	Code Code
	Arg  string // offending argument (room, user, command); may be empty
	Msg  string
}

// Errorf builds an *Error for code c about arg.
func Errorf(c Code, arg, format string, a ...any) *Error {
	return &Error{Code: c, Arg: arg, Msg: fmt.Sprintf(format, a...)}
}

func (e *Error) Error() string {
	if e.Msg == "" {
		if e.Arg == "" {
			return e.Code.String()
		}
		return e.Code.String() + ": " + e.Arg
	}
	return e.Code.String() + ": " + e.Msg
}

// Is matches any *Error with the same code.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	return ok && t.Code == e.Code
}

// CodeOf extracts the chat code from err, or CodeUnknown.
func CodeOf(err error) Code {
	var ce *Error
	if errors.As(err, &ce) {
		return ce.Code
	}
	return CodeUnknown
}
