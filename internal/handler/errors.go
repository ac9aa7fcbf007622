package handler

import "fmt"

// Command failure kinds. Every kind maps to an ERROR reply; none of them
// terminate the connection.
type errKind int

const (
	errProtocol errKind = iota
	errAuthorization
	errNotFound
	errPrecondition
)

// commandError is a business-rule failure raised at the command boundary.
type commandError struct {
	kind errKind
	msg  string
}

func (e *commandError) Error() string {
	return e.msg
}

func protocolErr(format string, args ...interface{}) error {
	return &commandError{kind: errProtocol, msg: fmt.Sprintf(format, args...)}
}

func authzErr(format string, args ...interface{}) error {
	return &commandError{kind: errAuthorization, msg: fmt.Sprintf(format, args...)}
}

func notFoundErr(format string, args ...interface{}) error {
	return &commandError{kind: errNotFound, msg: fmt.Sprintf(format, args...)}
}

func preconditionErr(format string, args ...interface{}) error {
	return &commandError{kind: errPrecondition, msg: fmt.Sprintf(format, args...)}
}
