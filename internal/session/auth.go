package session

import (
	"context"
	"encoding/base64"
	"fmt"

	ncerr "gonntp/internal/errors"
	"gonntp/internal/wire"
)

// maxSASLRounds bounds the challenge loop against a server that never
// finishes.
const maxSASLRounds = 8

// Authenticate logs in with AUTHINFO USER/PASS, or with SASL PLAIN
// when the server config asks for it.  With no username configured the
// session is marked authenticated without a round trip.
func (s *Session) Authenticate(ctx context.Context) error {
	s.lock()
	defer s.unlock()

	if err := s.ready(Connected); err != nil {
		return err
	}
	if s.state >= Authenticated {
		return &ncerr.AuthError{Kind: ncerr.AlreadyAuthenticated}
	}
	if s.cfg.Username == "" {
		s.logger.Verbose("no credentials configured, continuing anonymously")
		s.state = Authenticated
		return nil
	}
	if s.cfg.SASL {
		return s.saslLocked(ctx, &Plain{Username: s.cfg.Username, Password: s.cfg.Password})
	}

	resp, err := s.dof(ctx, "AUTHINFO USER %s", s.cfg.Username)
	if err != nil {
		return err
	}
	switch resp.Code {
	case wire.CodeAuthAccepted:
		// no password required
	case wire.CodeAuthContinue:
		resp, err = s.dof(ctx, "AUTHINFO PASS %s", s.cfg.Password)
		if err != nil {
			return err
		}
		if resp.Code != wire.CodeAuthAccepted {
			return authError(resp)
		}
	default:
		return authError(resp)
	}

	s.state = Authenticated
	s.logger.Verbose("authenticated as %s", s.cfg.Username)
	return nil
}

// AuthenticateSASL runs AUTHINFO SASL with the given mechanism.
func (s *Session) AuthenticateSASL(ctx context.Context, mech Mechanism) error {
	s.lock()
	defer s.unlock()

	if err := s.ready(Connected); err != nil {
		return err
	}
	if s.state >= Authenticated {
		return &ncerr.AuthError{Kind: ncerr.AlreadyAuthenticated}
	}
	return s.saslLocked(ctx, mech)
}

func (s *Session) saslLocked(ctx context.Context, mech Mechanism) error {
	_, secure := s.conn.TLS()
	initial, err := mech.Start(secure)
	if err != nil {
		return err
	}

	resp, err := s.dof(ctx, "AUTHINFO SASL %s %s", mech.Name(), encodeSASL(initial))
	if err != nil {
		return err
	}
	for round := 0; resp.Code == wire.CodeSASLContinue; round++ {
		if round >= maxSASLRounds {
			return s.cancelSASL(ctx, fmt.Errorf("more than %d challenges", maxSASLRounds))
		}
		challenge, err := decodeSASL(resp.Message)
		if err != nil {
			return s.cancelSASL(ctx, fmt.Errorf("bad challenge: %w", err))
		}
		answer, err := mech.Next(challenge)
		if err != nil {
			return s.cancelSASL(ctx, err)
		}
		resp, err = s.dof(ctx, "AUTHINFO SASL %s", encodeSASL(answer))
		if err != nil {
			return err
		}
	}
	if resp.Code != wire.CodeAuthAccepted {
		return authError(resp)
	}

	s.state = Authenticated
	s.logger.Verbose("authenticated via SASL %s", mech.Name())
	return nil
}

// cancelSASL aborts the exchange with "*" and reports cause.
func (s *Session) cancelSASL(ctx context.Context, cause error) error {
	if _, err := s.do(ctx, wire.CmdAuthSASLCancel); err != nil {
		return err
	}
	return &ncerr.AuthError{Kind: ncerr.Rejected, Message: cause.Error()}
}

func authError(resp *wire.Response) *ncerr.AuthError {
	e := &ncerr.AuthError{Kind: ncerr.Rejected, Code: resp.Code, Message: resp.Message}
	switch resp.Code {
	case wire.CodeAuthOutOfSequence:
		e.Kind = ncerr.OutOfSequence
	case wire.CodeEncryptionRequired:
		e.Kind = ncerr.EncryptionRequired
	case wire.CodeFeatureNotSupp:
		// AUTHINFO not offered to this client; retrying cannot help.
		e.Kind = ncerr.Unsupported
	case wire.CodeUnavailable, wire.CodeInternalFault:
		e.Kind = ncerr.Temporary
	}
	return e
}

// encodeSASL renders a SASL payload; an empty one is sent as "=".
func encodeSASL(p []byte) string {
	if len(p) == 0 {
		return "="
	}
	return base64.StdEncoding.EncodeToString(p)
}

func decodeSASL(s string) ([]byte, error) {
	if s == "" || s == "=" {
		return nil, nil
	}
	return base64.StdEncoding.DecodeString(s)
}
