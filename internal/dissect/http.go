package dissect

import (
	"bytes"

	"github.com/buger/goreplay/proto"
)

var (
	crlf       = []byte("\r\n")
	hostHeader = []byte("Host")
)

// dissectHTTP recognises an HTTP/1.x request or status line.
func dissectHTTP(p []byte) (string, string, bool) {
	switch {
	case proto.HasRequestTitle(p):
		detail := "HTTP " + string(proto.Method(p)) + " " + string(proto.Path(p))
		if host := proto.Header(p, hostHeader); len(host) > 0 {
			detail += " (Host: " + string(host) + ")"
		}
		return ProtoHTTP, detail, true
	case proto.HasResponseTitle(p):
		return ProtoHTTP, string(p[:bytes.Index(p, crlf)]), true
	}
	return "", "", false
}
