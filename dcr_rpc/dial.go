// Copyright (c) 2014-2017 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package dcr_rpc

import (
	"bufio"
	"crypto/tls"
	"crypto/x509"
	"encoding/base64"
	"fmt"
	"net"
	"net/http"
	"net/url"

	"github.com/btcsuite/websocket"
)

// dial performs the full connection adapter sequence of spec.md §4.9:
// optionally tunnel through an HTTP CONNECT proxy, optionally perform a
// TLS handshake, and finally the websocket upgrade with HTTP Basic
// authentication on "/<Endpoint>".
func dial(cfg *ConnConfig) (*websocket.Conn, error) {
	dialer := websocket.Dialer{
		NetDial: func(network, addr string) (net.Conn, error) {
			return dialTarget(cfg)
		},
	}

	scheme := "wss"
	if cfg.DisableTLS {
		scheme = "ws"
	}
	u := url.URL{Scheme: scheme, Host: cfg.Host, Path: "/" + cfg.endpointOrDefault()}

	header := http.Header{}
	header.Set("Authorization", "Basic "+basicAuth(cfg.User, cfg.Pass))

	conn, resp, err := dialer.Dial(u.String(), header)
	if err != nil {
		if resp != nil && resp.StatusCode == http.StatusUnauthorized {
			return nil, wrapErr(ErrRPCAuthenticationRequest, "websocket upgrade rejected credentials", err)
		}
		return nil, wrapErr(ErrRPCHandshake, "websocket upgrade failed", err)
	}
	return conn, nil
}

// dialTarget opens the underlying net.Conn that the websocket dialer reads
// and writes through: a plain or proxied TCP connection, with TLS layered
// on top unless DisableTLS is set.  The websocket library performs its own
// HTTP upgrade over whatever net.Conn is returned here, which is why TLS
// (not the websocket handshake) is negotiated in this function.
func dialTarget(cfg *ConnConfig) (net.Conn, error) {
	dialAddr := cfg.Host
	if cfg.ProxyHost != "" {
		dialAddr = cfg.ProxyHost
	}

	conn, err := net.Dial("tcp", dialAddr)
	if err != nil {
		return nil, wrapErr(ErrTCPStream, fmt.Sprintf("failed to dial %s", dialAddr), err)
	}

	if cfg.ProxyHost != "" {
		if err := connectProxyTunnel(conn, cfg); err != nil {
			conn.Close()
			return nil, err
		}
	}

	if cfg.DisableTLS {
		return conn, nil
	}

	tlsConfig, err := buildTLSConfig(cfg)
	if err != nil {
		conn.Close()
		return nil, err
	}

	tlsConn := tls.Client(conn, tlsConfig)
	if err := tlsConn.Handshake(); err != nil {
		conn.Close()
		return nil, wrapErr(ErrTLSHandshake, "TLS handshake failed", err)
	}
	return tlsConn, nil
}

// connectProxyTunnel negotiates an HTTP CONNECT tunnel to cfg.Host over
// conn.  Per spec.md §9 (DESIGN.md OQ-2), the Proxy-Authorization header
// is built from the RPC user/password, not ProxyUser/ProxyPass, matching
// the observed behavior of the lineage this client is modeled on.
func connectProxyTunnel(conn net.Conn, cfg *ConnConfig) error {
	req := fmt.Sprintf("CONNECT %s HTTP/1.1\r\n"+
		"Host: %s\r\n"+
		"Proxy-Connection: Keep-Alive\r\n"+
		"Proxy-Authorization: Basic %s\r\n\r\n",
		cfg.Host, cfg.Host, basicAuth(cfg.User, cfg.Pass))

	if _, err := conn.Write([]byte(req)); err != nil {
		return wrapErr(ErrProxyAuthentication, "failed to write CONNECT request", err)
	}

	resp, err := http.ReadResponse(bufio.NewReader(conn), &http.Request{Method: "CONNECT"})
	if err != nil {
		return wrapErr(ErrRPCProxyResponseParse, "failed to parse proxy CONNECT response", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return errRPCProxyStatus(resp.StatusCode)
	}
	return nil
}

// buildTLSConfig constructs the TLS client configuration from cfg: the PEM
// certificate chain as trusted roots, minimum TLS 1.2, and the permissive
// hostname verification opt-in described in spec.md §9 / SPEC_FULL.md OQ-1.
func buildTLSConfig(cfg *ConnConfig) (*tls.Config, error) {
	tlsConfig := &tls.Config{MinVersion: tls.VersionTLS12, ServerName: serverNameFor(cfg.Host)}

	if len(cfg.Certificates) > 0 {
		pool := x509.NewCertPool()
		if !pool.AppendCertsFromPEM(cfg.Certificates) {
			return nil, wrapErr(ErrTLSStream, "failed to parse PEM certificate chain", nil)
		}
		tlsConfig.RootCAs = pool
	}

	if cfg.AllowInsecureHostnames {
		tlsConfig.InsecureSkipVerify = true
		tlsConfig.VerifyConnection = func(cs tls.ConnectionState) error {
			return verifyChainIgnoringHostname(cs, tlsConfig.RootCAs)
		}
	}

	return tlsConfig, nil
}

// verifyChainIgnoringHostname re-implements the chain-validation half of
// the default TLS verifier while skipping the hostname check, so
// AllowInsecureHostnames only disables the hostname comparison and not
// certificate trust.
func verifyChainIgnoringHostname(cs tls.ConnectionState, roots *x509.CertPool) error {
	if len(cs.PeerCertificates) == 0 {
		return wrapErr(ErrWsTLSCertificate, "no certificate presented by server", nil)
	}
	opts := x509.VerifyOptions{
		Roots:         roots,
		Intermediates: x509.NewCertPool(),
	}
	for _, cert := range cs.PeerCertificates[1:] {
		opts.Intermediates.AddCert(cert)
	}
	if _, err := cs.PeerCertificates[0].Verify(opts); err != nil {
		return wrapErr(ErrWsTLSCertificate, "certificate chain validation failed", err)
	}
	return nil
}

// serverNameFor strips a port suffix from a host:port address for use as
// the TLS ServerName.
func serverNameFor(hostport string) string {
	host, _, err := net.SplitHostPort(hostport)
	if err != nil {
		return hostport
	}
	return host
}

// basicAuth returns the base64-encoded "user:pass" credential used by both
// the proxy CONNECT and the websocket/HTTP POST Basic auth headers.
func basicAuth(user, pass string) string {
	return base64.StdEncoding.EncodeToString([]byte(user + ":" + pass))
}
