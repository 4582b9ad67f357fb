// Package wire frames NNTP traffic: status lines with strictly
// validated three-digit codes, dot-terminated multi-line bodies with
// byte-stuffing removal, binary bodies, and CRLF-terminated commands.
package wire

import (
	"fmt"
	"strings"

	ncerr "gonntp/internal/errors"
)

const utf8BOM = "\uFEFF"

// Response is one parsed server reply.  Lines holds the multi-line
// body, already unstuffed, when one was read.
type Response struct {
	Code    int
	Message string
	Lines   []string
}

func (r *Response) String() string {
	if r.Message == "" {
		return fmt.Sprintf("%03d", r.Code)
	}
	return fmt.Sprintf("%03d %s", r.Code, r.Message)
}

// Err converts an error reply into a ProtocolError of the given kind.
func (r *Response) Err(kind ncerr.ProtocolKind) error {
	return ncerr.Protocol(kind, r.Code, r.Message)
}

// ParseStatusLine extracts the status code and message from a reply
// line.  The code must be exactly three ASCII digits followed by a
// space or the end of the line; "2000 OK" is rejected rather than
// read as 200.  A leading UTF-8 BOM and trailing CR/LF are ignored.
func ParseStatusLine(line string) (int, string, error) {
	line = strings.TrimPrefix(line, utf8BOM)
	line = strings.TrimRight(line, "\r\n")

	n := 0
	for n < len(line) && line[n] >= '0' && line[n] <= '9' {
		n++
	}
	if n != 3 {
		return 0, "", ncerr.Protocol(ncerr.MalformedStatusCode, 0, fmt.Sprintf("%q", truncate(line, 64)))
	}
	if len(line) > 3 && line[3] != ' ' {
		return 0, "", ncerr.Protocol(ncerr.MalformedStatusCode, 0, fmt.Sprintf("%q", truncate(line, 64)))
	}

	code := int(line[0]-'0')*100 + int(line[1]-'0')*10 + int(line[2]-'0')
	msg := ""
	if len(line) > 4 {
		msg = line[4:]
	}
	return code, msg, nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
