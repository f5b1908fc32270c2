package api

import (
	"errors"
	"fmt"
)

// ErrorKind classifies a failed round trip
type ErrorKind int

const (
	// KindTransport covers connection, DNS and TLS failures and HTTP failures
	// without a usable body
	KindTransport ErrorKind = iota
	// KindProtocol covers bodies that are not valid JSON
	KindProtocol
	// KindApplication covers well-formed responses carrying errors or a message
	KindApplication
	// KindDataShape covers responses missing data where it was expected
	KindDataShape
)

func (k ErrorKind) String() string {
	switch k {
	case KindTransport:
		return "transport"
	case KindProtocol:
		return "protocol"
	case KindApplication:
		return "application"
	case KindDataShape:
		return "data-shape"
	}
	return fmt.Sprintf("ErrorKind(%d)", int(k))
}

// Error represents a classified GraphQL request failure
type Error struct {
	Kind    ErrorKind
	Message string
	Err     error
}

func (e *Error) Error() string {
	switch {
	case e.Message != "" && e.Err != nil:
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	case e.Message != "":
		return e.Message
	case e.Err != nil:
		return fmt.Sprintf("%s error: %v", e.Kind, e.Err)
	}
	return e.Kind.String() + " error"
}

func (e *Error) Unwrap() error { return e.Err }

// DataShapeError reports a response that lacks the object at path
func DataShapeError(path string) *Error {
	return &Error{Kind: KindDataShape, Message: fmt.Sprintf("response has no %s", path)}
}

// KindOf returns the classification of err, or false when err did not come
// from this package
func KindOf(err error) (ErrorKind, bool) {
	var apiErr *Error
	if errors.As(err, &apiErr) {
		return apiErr.Kind, true
	}
	return 0, false
}
