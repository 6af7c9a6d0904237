package dissect

import (
	"fmt"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
)

func dissectDNS(p []byte) (string, string, bool) {
	var msg layers.DNS
	if err := msg.DecodeFromBytes(p, gopacket.NilDecodeFeedback); err != nil {
		return "", "", false
	}

	kind := "query"
	if msg.QR {
		kind = "response"
	}
	detail := fmt.Sprintf("DNS %s %s 0x%04x", msg.OpCode, kind, msg.ID)
	if len(msg.Questions) > 0 {
		q := msg.Questions[0]
		detail += fmt.Sprintf(" %s %s", q.Type, q.Name)
	}
	if msg.QR {
		detail += fmt.Sprintf(", %d answer(s), %s", len(msg.Answers), msg.ResponseCode)
	}
	return ProtoDNS, detail, true
}
