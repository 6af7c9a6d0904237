package console

import (
	"io"

	"github.com/charmbracelet/lipgloss"

	"firestige.xyz/anansi/internal/dissect"
)

// palette colors protocol labels. A disabled palette renders plain text.
type palette struct {
	styles   map[string]lipgloss.Style
	fallback lipgloss.Style
	enabled  bool
}

var protocolColors = map[string]lipgloss.Color{
	dissect.ProtoTCP:     "39",
	dissect.ProtoUDP:     "45",
	dissect.ProtoICMP:    "214",
	dissect.ProtoICMPv6:  "214",
	dissect.ProtoIGMP:    "178",
	dissect.ProtoARP:     "141",
	dissect.ProtoIPv4:    "250",
	dissect.ProtoIPv6:    "250",
	dissect.ProtoTLS:     "42",
	dissect.ProtoHTTP:    "76",
	dissect.ProtoDNS:     "220",
	dissect.ProtoDHCP:    "208",
	dissect.ProtoSMB:     "170",
	dissect.ProtoSMB2:    "170",
	dissect.ProtoFTP:     "117",
	dissect.ProtoUnknown: "240",
}

func newPalette(out io.Writer, enabled bool) palette {
	if !enabled {
		return palette{}
	}
	r := lipgloss.NewRenderer(out)
	p := palette{
		styles:   make(map[string]lipgloss.Style, len(protocolColors)),
		fallback: r.NewStyle().Foreground(lipgloss.Color("240")),
		enabled:  true,
	}
	for proto, c := range protocolColors {
		p.styles[proto] = r.NewStyle().Foreground(c).Bold(proto != dissect.ProtoUnknown)
	}
	return p
}

func (p palette) render(proto, text string) string {
	if !p.enabled {
		return text
	}
	if s, ok := p.styles[proto]; ok {
		return s.Render(text)
	}
	return p.fallback.Render(text)
}
