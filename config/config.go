// Package config defines the connection configuration surface for the
// Futu OpenD gateway client: host/port, client identity, the
// encryption preference, and the reconnect-policy fields the core
// exposes primitives for but does not itself implement.
package config

import "time"

// Config configures a client.Client. Reconnection itself is a caller
// concern — Reconnect/ReconnectInterval are carried here only so a
// caller-built reconnect loop has somewhere standard to read its
// policy from; the core never reads them itself.
type Config struct {
	Host string
	Port uint16

	ClientID  string
	ClientVer int32

	EnableEncryption bool
	// RSAKeyPath is reserved: the AES-ECB path in use does not require
	// RSA material on the client side (the gateway uses it internally
	// to hand back the AES key during the handshake).
	RSAKeyPath string

	Reconnect         bool
	ReconnectInterval time.Duration
}

// Default returns the documented Futu OpenD defaults.
func Default() Config {
	return Config{
		Host:              "127.0.0.1",
		Port:              11111,
		ClientID:          "nautilus_futu",
		ClientVer:         100,
		EnableEncryption:  false,
		Reconnect:         true,
		ReconnectInterval: 5 * time.Second,
	}
}
