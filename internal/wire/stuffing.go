package wire

import "bytes"

// Stuff escapes a body line for transmission: a line starting with a
// dot gets one more.
func Stuff(line string) string {
	if len(line) > 0 && line[0] == '.' {
		return "." + line
	}
	return line
}

// Unstuff reverses [Stuff]: a line starting with two dots loses one.
func Unstuff(line string) string {
	if len(line) > 1 && line[0] == '.' && line[1] == '.' {
		return line[1:]
	}
	return line
}

func unstuffBytes(line []byte) []byte {
	if len(line) > 1 && line[0] == '.' && line[1] == '.' {
		return line[1:]
	}
	return line
}

// trimEOL strips one trailing LF and an optional preceding CR.
func trimEOL(line []byte) []byte {
	line = bytes.TrimSuffix(line, []byte{'\n'})
	return bytes.TrimSuffix(line, []byte{'\r'})
}

// isTerminator reports whether a line (without its EOL) is the lone
// dot that ends a multi-line block.
func isTerminator(line []byte) bool {
	return len(line) == 1 && line[0] == '.'
}

// SplitBody splits a decoded data block into unstuffed lines, stopping
// at the terminator if one is present.  It accepts CRLF or LF endings.
func SplitBody(data []byte) []string {
	var lines []string
	for len(data) > 0 {
		var line []byte
		if i := bytes.IndexByte(data, '\n'); i >= 0 {
			line, data = data[:i+1], data[i+1:]
		} else {
			line, data = data, nil
		}
		line = trimEOL(line)
		if isTerminator(line) {
			break
		}
		lines = append(lines, string(unstuffBytes(line)))
	}
	return lines
}
