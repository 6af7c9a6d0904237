package dissect

// appDissector recognises an application payload and returns its label
// and detail. ok is false when the payload does not look like the protocol.
type appDissector func(payload []byte) (label, detail string, ok bool)

type application struct {
	transport tag
	ports     []uint16
	dissect   appDissector
}

// applications is ordered by priority. Classification by port is a
// heuristic: a port can carry unrelated traffic, so every candidate must
// also validate the payload.
var applications = []application{
	{transport: tagTCP, ports: []uint16{443, 465, 993, 995}, dissect: dissectTLS},
	{transport: tagTCP, ports: []uint16{445}, dissect: dissectSMB},
	{transport: tagTCP, ports: []uint16{80}, dissect: dissectHTTP},
	{transport: tagTCP, ports: []uint16{21}, dissect: dissectFTP},
	{transport: tagUDP, ports: []uint16{53}, dissect: dissectDNS},
	{transport: tagUDP, ports: []uint16{67, 68}, dissect: dissectDHCP},
}

func (a application) matches(transport tag, src, dst uint16) bool {
	if a.transport != transport {
		return false
	}
	for _, p := range a.ports {
		if p == src || p == dst {
			return true
		}
	}
	return false
}

// try runs the candidate and treats a parser fault as a rejection, so a
// malformed payload leaves the transport summary intact.
func (a application) try(payload []byte) (label, detail string, ok bool) {
	defer func() {
		if r := recover(); r != nil {
			label, detail, ok = "", "", false
		}
	}()
	return a.dissect(payload)
}

// decodeApplication tries each matching candidate in priority order. When
// none recognises the payload the transport summary stays in place.
func decodeApplication(s *state) tag {
	for _, app := range applications {
		if !app.matches(s.transport, s.srcPort, s.dstPort) {
			continue
		}
		label, detail, ok := app.try(s.data)
		if !ok {
			continue
		}
		s.rec.Protocol = label
		s.rec.Detail = endpoint(s.src, s.srcPort) + " > " + endpoint(s.dst, s.dstPort) + " " + detail
		return tagDone
	}
	return tagDone
}
