// Package model defines the messages exchanged with the bridge.
package model

import (
	"encoding/json"
	"fmt"
)

// CommuniqueType is the kind of a message on the wire.
type CommuniqueType string

const (
	ReadRequest         CommuniqueType = "ReadRequest"
	ReadResponse        CommuniqueType = "ReadResponse"
	CreateRequest       CommuniqueType = "CreateRequest"
	CreateResponse      CommuniqueType = "CreateResponse"
	UpdateRequest       CommuniqueType = "UpdateRequest"
	UpdateResponse      CommuniqueType = "UpdateResponse"
	DeleteRequest       CommuniqueType = "DeleteRequest"
	DeleteResponse      CommuniqueType = "DeleteResponse"
	SubscribeRequest    CommuniqueType = "SubscribeRequest"
	SubscribeResponse   CommuniqueType = "SubscribeResponse"
	UnsubscribeRequest  CommuniqueType = "UnsubscribeRequest"
	UnsubscribeResponse CommuniqueType = "UnsubscribeResponse"
	ExceptionResponse   CommuniqueType = "ExceptionResponse"
)

// Header carries the routing metadata of a message.
// Field order matches the order documents are serialized in.
type Header struct {
	ClientTag       string      `json:"ClientTag,omitempty"`
	MessageBodyType string      `json:"MessageBodyType,omitempty"`
	StatusCode      *StatusCode `json:"StatusCode,omitempty"`
	Url             string      `json:"Url"`
}

// Message is one newline-delimited JSON document.
// Body is kept raw; its schema depends on Url and MessageBodyType.
type Message struct {
	CommuniqueType CommuniqueType  `json:"CommuniqueType"`
	Header         Header          `json:"Header"`
	Body           json.RawMessage `json:"Body,omitempty"`
}

// Tag returns the correlation tag, empty when the message carries none.
func (m *Message) Tag() string {
	return m.Header.ClientTag
}

// HasBody reports whether a non-null body is present.
func (m *Message) HasBody() bool {
	return len(m.Body) > 0 && string(m.Body) != "null"
}

// DecodeBody unmarshals Body into v (must be a pointer).
// An absent or null body leaves v untouched.
func (m *Message) DecodeBody(v any) error {
	if !m.HasBody() {
		return nil
	}
	if err := json.Unmarshal(m.Body, v); err != nil {
		return fmt.Errorf("decode %s body for %s: %w", m.Header.MessageBodyType, m.Header.Url, err)
	}
	return nil
}

// BodyAs decodes the body of msg into a new T.
func BodyAs[T any](msg *Message) (*T, error) {
	var v T
	if err := msg.DecodeBody(&v); err != nil {
		return nil, err
	}
	return &v, nil
}

// NewRequest builds an outgoing message. A nil body is omitted on the wire.
// The tag is left empty; the correlation engine assigns one.
func NewRequest(typ CommuniqueType, url string, body any) (*Message, error) {
	msg := &Message{
		CommuniqueType: typ,
		Header:         Header{Url: url},
	}
	if body == nil {
		return msg, nil
	}
	switch b := body.(type) {
	case json.RawMessage:
		msg.Body = b
	case []byte:
		msg.Body = json.RawMessage(b)
	default:
		raw, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("marshal %s body for %s: %w", typ, url, err)
		}
		msg.Body = raw
	}
	return msg, nil
}
