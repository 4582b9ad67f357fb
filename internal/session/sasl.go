package session

import (
	"fmt"

	ncerr "gonntp/internal/errors"
)

// Mechanism is the client side of one SASL mechanism.
type Mechanism interface {
	// Name is the IANA mechanism name, e.g. "PLAIN".
	Name() string
	// Start returns the initial response.  secure reports whether the
	// connection is encrypted.
	Start(secure bool) ([]byte, error)
	// Next answers a server challenge.
	Next(challenge []byte) ([]byte, error)
}

// Plain implements SASL PLAIN (RFC 4616).  It sends the password in
// the clear and therefore refuses to run over an unencrypted
// connection unless AllowPlaintext is set.
type Plain struct {
	Identity       string // authorization identity, usually empty
	Username       string
	Password       string
	AllowPlaintext bool
}

func (p *Plain) Name() string { return "PLAIN" }

func (p *Plain) Start(secure bool) ([]byte, error) {
	if !secure && !p.AllowPlaintext {
		return nil, &ncerr.AuthError{Kind: ncerr.EncryptionRequired, Message: "SASL PLAIN over an unencrypted connection"}
	}
	msg := make([]byte, 0, len(p.Identity)+len(p.Username)+len(p.Password)+2)
	msg = append(msg, p.Identity...)
	msg = append(msg, 0)
	msg = append(msg, p.Username...)
	msg = append(msg, 0)
	msg = append(msg, p.Password...)
	return msg, nil
}

func (p *Plain) Next(challenge []byte) ([]byte, error) {
	return nil, fmt.Errorf("PLAIN: unexpected challenge of %d bytes", len(challenge))
}
