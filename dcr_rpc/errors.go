// Copyright (c) 2014-2017 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package dcr_rpc

import "fmt"

// ErrorCode identifies the flat error taxonomy of a dcr_rpc operation.
type ErrorCode int

const (
	// ErrTCPStream indicates the underlying TCP dial failed.
	ErrTCPStream ErrorCode = iota

	// ErrTLSHandshake indicates the TLS handshake failed.
	ErrTLSHandshake

	// ErrTLSStream indicates the configured PEM certificate chain could
	// not be parsed.
	ErrTLSStream

	// ErrWsTLSCertificate indicates the certificate presented by the
	// server could not be validated.
	ErrWsTLSCertificate

	// ErrRPCHandshake indicates the websocket upgrade request failed.
	ErrRPCHandshake

	// ErrRPCAuthenticationRequest indicates the upgrade request could not
	// be constructed.
	ErrRPCAuthenticationRequest

	// ErrProxyAuthentication indicates the CONNECT request carrying the
	// proxy credentials could not be written to the proxy.
	ErrProxyAuthentication

	// ErrRPCProxyStatus indicates the proxy responded to CONNECT with a
	// non-200 status.  The status code appears only in the error's
	// Message text; there is no separate field for it.
	ErrRPCProxyStatus

	// ErrRPCProxyResponseParse indicates the proxy's CONNECT response
	// could not be parsed.
	ErrRPCProxyResponseParse

	// CodeWebsocketAlreadyConnected indicates Connect was called while
	// already connected.
	CodeWebsocketAlreadyConnected

	// ErrRPCDisconnected indicates a submission after disconnect, or a
	// transport failure with auto-reconnect disabled.
	ErrRPCDisconnected

	// ErrMarshaller indicates outbound JSON marshalling failed.
	ErrMarshaller

	// ErrUnmarshaller indicates inbound JSON parsing failed at the typed
	// wrapper layer.
	ErrUnmarshaller

	// ErrUnregisteredNotification indicates the server refused a
	// subscription request.  The method name appears only in the error's
	// Message text; there is no separate field for it.
	ErrUnregisteredNotification

	// ErrServerError indicates a non-null error field in a JSON-RPC
	// response.  The server's error code and message appear only in the
	// error's Message text; there are no separate fields for them.
	ErrServerError

	// CodeClientNotConnected indicates Connect, a websocket-only
	// operation, was called on a client running in HTTP POST mode.
	CodeClientNotConnected

	// CodeNotificationsUnsupported indicates a notify_* call was made
	// while running in HTTP POST mode.
	CodeNotificationsUnsupported

	// CodeClientShutdown indicates the client is shutting down or has
	// already shut down.
	CodeClientShutdown
)

var errorCodeStrings = map[ErrorCode]string{
	ErrTCPStream:                  "TCPStream",
	ErrTLSHandshake:               "TLSHandshake",
	ErrTLSStream:                  "TLSStream",
	ErrWsTLSCertificate:           "WsTLSCertificate",
	ErrRPCHandshake:               "RPCHandshake",
	ErrRPCAuthenticationRequest:   "RPCAuthenticationRequest",
	ErrProxyAuthentication:        "ProxyAuthentication",
	ErrRPCProxyStatus:             "RPCProxyStatus",
	ErrRPCProxyResponseParse:      "RPCProxyResponseParse",
	CodeWebsocketAlreadyConnected: "WebsocketAlreadyConnected",
	ErrRPCDisconnected:            "RPCDisconnected",
	ErrMarshaller:                 "Marshaller",
	ErrUnmarshaller:               "Unmarshaller",
	ErrUnregisteredNotification:   "UnregisteredNotification",
	ErrServerError:                "ServerError",
	CodeClientNotConnected:        "ClientNotConnected",
	CodeNotificationsUnsupported:  "NotificationsUnsupported",
	CodeClientShutdown:            "ClientShutdown",
}

func (e ErrorCode) String() string {
	if s, ok := errorCodeStrings[e]; ok {
		return s
	}
	return "Unknown"
}

// RPCClientError is the error type returned by every dcr_rpc operation that
// can fail.  It carries a coarse Code for programmatic dispatch (errors.As)
// alongside a human-readable message and an optional wrapped cause.
type RPCClientError struct {
	Code    ErrorCode
	Message string
	Cause   error
}

func (e *RPCClientError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *RPCClientError) Unwrap() error {
	return e.Cause
}

func newErr(code ErrorCode, msg string) *RPCClientError {
	return &RPCClientError{Code: code, Message: msg}
}

func wrapErr(code ErrorCode, msg string, cause error) *RPCClientError {
	return &RPCClientError{Code: code, Message: msg, Cause: cause}
}

// ErrClientDisconnect describes the condition where the client has been
// disconnected from the RPC server.  Outstanding futures return this error
// when Disconnect is called, or when the connection is lost while
// DisableAutoReconnect is set; requests submitted while the client is
// marked disconnected return it as well.
var ErrClientDisconnect = newErr(ErrRPCDisconnected, "the client has been disconnected")

// ErrClientShutdown describes the condition where the client is either
// already shutdown, or in the process of shutting down.  Any outstanding
// futures when a client shutdown occurs will return this error as will any
// new requests.
var ErrClientShutdown = newErr(CodeClientShutdown, "the client has been shutdown")

// ErrClientNotConnected describes the condition where Connect, a
// websocket-only operation, was called while the client is running in HTTP
// POST mode.  Notification subscriptions in that mode return
// ErrNotificationsUnsupported instead.
var ErrClientNotConnected = newErr(CodeClientNotConnected, "the client was never connected, or is running in HTTP POST mode")

// ErrNotificationsUnsupported describes the condition where a notify_* call
// was issued against an HTTP POST mode client.
var ErrNotificationsUnsupported = newErr(CodeNotificationsUnsupported, "notifications are not supported in HTTP POST mode")

// ErrWebsocketAlreadyConnected describes the condition where Connect is
// called while a websocket connection is already established.
var ErrWebsocketAlreadyConnected = newErr(CodeWebsocketAlreadyConnected, "websocket client has already connected")

// errMarshaller wraps a failure to marshal an outbound request.
func errMarshaller(cause error) error {
	return wrapErr(ErrMarshaller, "failed to marshal request", cause)
}

// errUnmarshaller wraps a failure to unmarshal a typed response.
func errUnmarshaller(cause error) error {
	return wrapErr(ErrUnmarshaller, "failed to unmarshal response", cause)
}

// errUnregisteredNotification reports that the server refused a
// notification subscription for method.
func errUnregisteredNotification(method string) error {
	return newErr(ErrUnregisteredNotification, fmt.Sprintf("server refused subscription to %q", method))
}

// errServerError wraps a non-null JSON-RPC error field.
func errServerError(code int, message string) error {
	return &RPCClientError{
		Code:    ErrServerError,
		Message: fmt.Sprintf("server error %d: %s", code, message),
	}
}

// errRPCProxyStatus reports a non-200 response to an HTTP CONNECT request.
func errRPCProxyStatus(status int) error {
	return newErr(ErrRPCProxyStatus, fmt.Sprintf("proxy CONNECT failed with status %d", status))
}
