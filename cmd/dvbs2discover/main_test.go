package main

import (
	"bytes"
	"net"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/rjboer/GoDVBS2/internal/mdns"
)

func TestPrintHost(t *testing.T) {
	var buf bytes.Buffer
	printHost(&buf, 2, mdns.Host{
		Instance:  "dvbs2rx 1a2b3c4d",
		Hostname:  "lab.local.",
		Addresses: []net.IP{net.IPv4(10, 0, 0, 5), net.ParseIP("fe80::1")},
		Port:      8080,
		TXT:       []string{"run_id=1a2b3c4d-0000", "modcod=QPSK-S_8/9"},
	})
	out := buf.String()
	assert.Contains(t, out, "Receiver #2")
	assert.Contains(t, out, "Run ID   : 1a2b3c4d-0000")
	assert.Contains(t, out, "MODCOD   : QPSK-S_8/9")
	assert.Contains(t, out, "http://10.0.0.5:8080/api/live")
	assert.Contains(t, out, "http://[fe80::1]:8080/api/live")

	buf.Reset()
	printHost(&buf, 1, mdns.Host{Instance: "bare"})
	assert.Contains(t, buf.String(), "<none>")
	assert.NotContains(t, buf.String(), "Run ID")
}
