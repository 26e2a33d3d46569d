package mqtt

import (
	"strings"
	"testing"

	"github.com/256dpi/gomqtt/packet"
	"github.com/stretchr/testify/assert"
)

func TestPacketString(t *testing.T) {
	t.Parallel()

	long := []byte(strings.Repeat("a", debugPayloadMax+10))
	cases := []struct {
		name   string
		p      packet.Generic
		expect string
	}{
		{"nil", nil, "(nil)"},
		{"publish-json", &packet.Publish{ID: 3, Message: packet.Message{Topic: "tele/h/ar844/data", Payload: []byte(`{"avg":45.2}`), QOS: 1}},
			`<Publish ID=3 Dup=false Topic="tele/h/ar844/data" QOS=1 Retain=false Payload="{\"avg\":45.2}">`},
		{"publish-binary", &packet.Publish{Message: packet.Message{Topic: "t", Payload: []byte{0xff, 0x00}}},
			`<Publish ID=0 Dup=false Topic="t" QOS=0 Retain=false Payload=ff00>`},
		{"publish-long", &packet.Publish{Message: packet.Message{Topic: "t", Payload: long}},
			`<Publish ID=0 Dup=false Topic="t" QOS=0 Retain=false Payload="` + string(long[:debugPayloadMax]) + `"...(266)>`},
		{"connect-secret", &packet.Connect{ClientID: "ar844-h", KeepAlive: 90, Username: "u", Password: "p4ss", CleanSession: true, Version: packet.Version311},
			`<Connect ClientID="ar844-h" KeepAlive=90 Username="u" Password=(secret) CleanSession=true Version=4>`},
		{"connect-anon", &packet.Connect{ClientID: "c", Version: packet.Version311},
			`<Connect ClientID="c" KeepAlive=0 Username="" Password= CleanSession=false Version=4>`},
	}
	for _, c := range cases {
		c := c
		t.Run(c.name, func(t *testing.T) {
			t.Parallel()
			s := PacketString(c.p)
			assert.Equal(t, c.expect, s)
			assert.NotContains(t, s, "p4ss")
		})
	}
	assert.Equal(t, "message=nil", MessageString(nil))
}
