package mqtt

import (
	"fmt"
	"unicode/utf8"

	"github.com/256dpi/gomqtt/packet"
)

const debugPayloadMax = 256

// PacketString is packet.String for logs: PUBLISH payload as text, CONNECT password hidden.
func PacketString(p packet.Generic) string {
	switch pkt := p.(type) {
	case nil:
		return "(nil)"
	case *packet.Publish:
		return fmt.Sprintf("<Publish ID=%d Dup=%t %s>", pkt.ID, pkt.Dup, MessageString(&pkt.Message))
	case *packet.Connect:
		password := ""
		if pkt.Password != "" {
			password = "(secret)"
		}
		return fmt.Sprintf("<Connect ClientID=%q KeepAlive=%d Username=%q Password=%s CleanSession=%t Version=%d>",
			pkt.ClientID, pkt.KeepAlive, pkt.Username, password, pkt.CleanSession, pkt.Version)
	}
	return p.String()
}

// MessageString shows snapshot JSON as quoted text, binary payload as hex.
// Long payloads are cut at debugPayloadMax bytes.
func MessageString(m *packet.Message) string {
	if m == nil {
		return "message=nil"
	}
	b, suffix := m.Payload, ""
	if len(b) > debugPayloadMax {
		b, suffix = b[:debugPayloadMax], fmt.Sprintf("...(%d)", len(m.Payload))
	}
	if utf8.Valid(b) {
		return fmt.Sprintf("Topic=%q QOS=%d Retain=%t Payload=%q%s", m.Topic, m.QOS, m.Retain, b, suffix)
	}
	return fmt.Sprintf("Topic=%q QOS=%d Retain=%t Payload=%x%s", m.Topic, m.QOS, m.Retain, b, suffix)
}
