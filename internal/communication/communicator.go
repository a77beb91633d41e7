package communication

import (
	"context"
	"reflect"
)

type SandCode string

const (
	CodeOK            SandCode = "OK"
	CodeBadRequest    SandCode = "BAD_REQUEST"
	CodeNotFound      SandCode = "NOT_FOUND"
	CodeNotADirectory SandCode = "NOT_A_DIRECTORY"
	CodeTableFull     SandCode = "TABLE_FULL"
	CodeInvalidHandle SandCode = "INVALID_HANDLE"
	CodeAlreadyExists SandCode = "ALREADY_EXISTS"
	CodeUnavailable   SandCode = "UNAVAILABLE"
	CodeInternal      SandCode = "INTERNAL"
)

type Message struct {
	From    string `json:"from"`
	Type    string `json:"type"`
	Payload any    `json:"payload,omitempty"`
}

type Response struct {
	Code    SandCode          `json:"code"`
	Body    []byte            `json:"body,omitempty"`
	Headers map[string]string `json:"headers,omitempty"`
}

type Communicator interface {
	// Start begins serving, handing every decoded message to handler.
	Start(handler MessageHandler) error
	Stop() error
	Send(ctx context.Context, to string, msg Message) (*Response, error)
	// Address is the bound address once started, the configured one before.
	Address() string
	RegisterPayloadType(msgType string, payloadType reflect.Type)
}
