// Package leapmq is a tag-correlated request and subscription client for
// the LEAP bridge protocol. It re-exports the main types of pkg/client.
package leapmq

import (
	"github.com/lightforgemedia/go-leapmq/pkg/client"
	"github.com/lightforgemedia/go-leapmq/pkg/connection"
	leaperrors "github.com/lightforgemedia/go-leapmq/pkg/errors"
	"github.com/lightforgemedia/go-leapmq/pkg/events"
	"github.com/lightforgemedia/go-leapmq/pkg/model"
)

// Re-export core types
type (
	Client          = client.Client
	Option          = client.Option
	Options         = client.Options
	SubscribeResult = client.SubscribeResult
	StatusError     = client.StatusError
	Message         = model.Message
	Header          = model.Header
	StatusCode      = model.StatusCode
	CommuniqueType  = model.CommuniqueType
	State           = connection.State
	Provider        = connection.Provider
	Event           = events.Event
	EventKind       = events.Kind
)

// Re-export error kinds
var (
	ErrNotConnected       = leaperrors.ErrNotConnected
	ErrAlreadyConnected   = leaperrors.ErrAlreadyConnected
	ErrDuplicateTag       = leaperrors.ErrDuplicateTag
	ErrMalformedMessage   = leaperrors.ErrMalformedMessage
	ErrConnectionClosed   = leaperrors.ErrConnectionClosed
	ErrClosedByClient     = leaperrors.ErrClosedByClient
	ErrPeerClosed         = leaperrors.ErrPeerClosed
	ErrTimeout            = leaperrors.ErrTimeout
	ErrUnregistered       = leaperrors.ErrUnregistered
	ErrInvalidCredentials = leaperrors.ErrInvalidCredentials
	ErrShutdown           = leaperrors.ErrShutdown
)

// Communique types
const (
	ReadRequest         = model.ReadRequest
	ReadResponse        = model.ReadResponse
	CreateRequest       = model.CreateRequest
	CreateResponse      = model.CreateResponse
	UpdateRequest       = model.UpdateRequest
	UpdateResponse      = model.UpdateResponse
	DeleteRequest       = model.DeleteRequest
	DeleteResponse      = model.DeleteResponse
	SubscribeRequest    = model.SubscribeRequest
	SubscribeResponse   = model.SubscribeResponse
	UnsubscribeRequest  = model.UnsubscribeRequest
	UnsubscribeResponse = model.UnsubscribeResponse
	ExceptionResponse   = model.ExceptionResponse
)

// Connection states and event kinds
const (
	Disconnected    = connection.Disconnected
	Connecting      = connection.Connecting
	SecureHandshake = connection.SecureHandshake
	Connected       = connection.Connected
	Closing         = connection.Closing

	EventConnected    = events.Connected
	EventDisconnected = events.Disconnected
	EventError        = events.Error
	EventUnsolicited  = events.Unsolicited
)

// New creates a client for the bridge at host:port. caCert, clientKey and
// clientCert are PEM encoded. The client is not connected yet.
func New(host string, port int, caCert, clientKey, clientCert string, opts ...client.Option) (*client.Client, error) {
	return client.New(host, port, caCert, clientKey, clientCert, opts...)
}

// NewWithProvider creates a client over a custom stream provider.
func NewWithProvider(p connection.Provider, opts ...client.Option) (*client.Client, error) {
	return client.NewWithProvider(p, opts...)
}

// DefaultOptions returns default options for NewWithOptions.
func DefaultOptions() client.Options {
	return client.DefaultOptions()
}

// NewWithOptions creates a client from an Options struct.
func NewWithOptions(host string, port int, caCert, clientKey, clientCert string, opts client.Options) (*client.Client, error) {
	return client.NewWithOptions(host, port, caCert, clientKey, clientCert, opts)
}

// NewRequest builds an untagged request message.
func NewRequest(t model.CommuniqueType, url string, body any) (*model.Message, error) {
	return model.NewRequest(t, url, body)
}
