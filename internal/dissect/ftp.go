package dissect

import (
	"bytes"
	"strings"
	"unicode/utf8"
)

// dissectFTP recognises one control-channel line: a numeric reply such as
// "220 ready" or a command such as "USER anonymous".
func dissectFTP(p []byte) (string, string, bool) {
	line := p
	if i := bytes.IndexByte(line, '\n'); i >= 0 {
		line = line[:i]
	}
	line = bytes.TrimSuffix(line, []byte{'\r'})
	if len(line) == 0 || !utf8.Valid(line) || bytes.ContainsFunc(line, isControl) {
		return "", "", false
	}

	if isFTPReply(line) {
		code, text := string(line[:3]), strings.TrimSpace(string(line[3:]))
		if len(text) > 0 && text[0] == '-' {
			text = strings.TrimSpace(text[1:])
		}
		return ProtoFTP, "FTP reply " + code + ": " + text, true
	}

	cmd, arg, _ := strings.Cut(string(line), " ")
	if !isFTPCommand(cmd) {
		return "", "", false
	}
	cmd = strings.ToUpper(cmd)
	if cmd == "PASS" && arg != "" {
		arg = "****"
	}
	detail := "FTP request " + cmd
	if arg != "" {
		detail += " " + arg
	}
	return ProtoFTP, detail, true
}

// isFTPReply matches a three-digit code followed by space, hyphen or nothing.
func isFTPReply(line []byte) bool {
	if len(line) < 3 || line[0] < '1' || line[0] > '5' {
		return false
	}
	for _, c := range line[1:3] {
		if c < '0' || c > '9' {
			return false
		}
	}
	return len(line) == 3 || line[3] == ' ' || line[3] == '-'
}

// isFTPCommand matches the three- or four-letter verbs of RFC 959 and its
// extensions.
func isFTPCommand(cmd string) bool {
	if len(cmd) < 3 || len(cmd) > 4 {
		return false
	}
	for i := 0; i < len(cmd); i++ {
		c := cmd[i] | 0x20
		if c < 'a' || c > 'z' {
			return false
		}
	}
	return true
}

func isControl(r rune) bool {
	return (r < 0x20 && r != '\t') || r == 0x7F
}
