// Copyright (c) 2014-2017 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package dcr_rpc

// ConnConfig describes the connection configuration parameters for the
// client.
type ConnConfig struct {
	// Host is the IP address and port of the RPC server you want to connect
	// to.
	Host string

	// Endpoint is the websocket endpoint on the RPC server.  This is
	// typically "ws" and is ignored in HTTP POST mode.
	Endpoint string

	// User is the username to use to authenticate to the RPC server.
	User string

	// Pass is the passphrase to use to authenticate to the RPC server.
	Pass string

	// DisableTLS specifies whether transport layer security should be
	// disabled.  It is recommended to always use TLS if the RPC server
	// supports it as otherwise your username and password is sent across
	// the wire in cleartext.
	DisableTLS bool

	// Certificates are the bytes for a PEM-encoded certificate chain used
	// for the TLS connection.  It has no effect if the DisableTLS parameter
	// is true.
	Certificates []byte

	// AllowInsecureHostnames disables hostname verification during the TLS
	// handshake while still validating the certificate chain against
	// Certificates.  This mirrors a long-standing permissive default in the
	// btcsuite/decred rpcclient lineage; it defaults to false for new
	// configurations and should only be set for servers whose certificate
	// does not name the dial address (see DESIGN.md OQ-1).
	AllowInsecureHostnames bool

	// ProxyHost, if set, is the address of an HTTP CONNECT proxy to tunnel
	// the connection through before the TLS handshake and websocket
	// upgrade.
	ProxyHost string

	// ProxyUser and ProxyPass are accepted for configuration completeness,
	// but note DESIGN.md OQ-2: the CONNECT tunnel's Proxy-Authorization
	// header is built from User/Pass, not these fields, matching observed
	// upstream behavior.
	ProxyUser string
	ProxyPass string

	// DisableConnectOnNew instructs New to return a disconnected Client
	// without attempting to dial.  The caller must call Connect explicitly.
	// Has no effect in HTTPPostMode.
	DisableConnectOnNew bool

	// DisableAutoReconnect specifies the client should not automatically
	// try to reconnect to the server when it has been disconnected.
	DisableAutoReconnect bool

	// HTTPPostMode instructs the client to run using multiple independent
	// connections issuing HTTP POST requests instead of using the default
	// of websockets.  Websockets are generally preferred as some of the
	// features of the client such as notifications only work with
	// websockets, however, not all servers support the websocket
	// extensions, so this flag can be set to true to use basic HTTP POST
	// requests instead.
	HTTPPostMode bool
}

// endpointOrDefault returns the configured websocket endpoint, or the
// conventional "ws" default used by Decred-style nodes when unset.
func (cfg *ConnConfig) endpointOrDefault() string {
	if cfg.Endpoint == "" {
		return "ws"
	}
	return cfg.Endpoint
}
