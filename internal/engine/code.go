package engine

import (
	"errors"
	"fmt"
)

// Code is a native result code. Values follow the native engine's numbering.
type Code int

const (
	CodeOK                  Code = 0
	CodeUnsupportedProtocol Code = 1
	CodeURLMalformat        Code = 3
	CodeCouldntResolveHost  Code = 6
	CodeCouldntConnect      Code = 7
	CodeHTTPReturnedError   Code = 22
	CodeWriteError          Code = 23
	CodeReadError           Code = 26
	CodeOperationTimedout   Code = 28
	CodeAbortedByCallback   Code = 42
	CodeBadFunctionArgument Code = 43
	CodeUnknownOption       Code = 48
	CodeSendError           Code = 55
	CodeRecvError           Code = 56
)

var codeNames = map[Code]string{
	CodeOK:                  "no error",
	CodeUnsupportedProtocol: "unsupported protocol",
	CodeURLMalformat:        "URL using bad/illegal format or missing URL",
	CodeCouldntResolveHost:  "couldn't resolve host name",
	CodeCouldntConnect:      "couldn't connect to server",
	CodeHTTPReturnedError:   "HTTP response code said error",
	CodeWriteError:          "failed writing received data",
	CodeReadError:           "failed reading upload data",
	CodeOperationTimedout:   "timeout was reached",
	CodeAbortedByCallback:   "operation was aborted by an application callback",
	CodeBadFunctionArgument: "a function was given a bad argument",
	CodeUnknownOption:       "an unknown option was passed in",
	CodeSendError:           "failed sending data to the peer",
	CodeRecvError:           "failure when receiving data from the peer",
}

func (c Code) String() string {
	if name, ok := codeNames[c]; ok {
		return name
	}
	return fmt.Sprintf("unknown error code %d", int(c))
}

// Error is a failure carrying a native code and, optionally, its cause.
type Error struct {
	Code  Code
	Cause error
}

func NewError(code Code, cause error) *Error {
	return &Error{Code: code, Cause: cause}
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s (%d): %v", e.Code, int(e.Code), e.Cause)
	}
	return fmt.Sprintf("%s (%d)", e.Code, int(e.Code))
}

func (e *Error) Unwrap() error {
	return e.Cause
}

// CodeOf extracts the native code from err, CodeOK for nil and
// CodeBadFunctionArgument for errors that carry none.
func CodeOf(err error) Code {
	if err == nil {
		return CodeOK
	}
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return CodeBadFunctionArgument
}
