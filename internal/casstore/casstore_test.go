package casstore

import (
	"strings"
	"testing"
)

func TestAddressBytesDeterministic(t *testing.T) {
	a := AddressBytes([]byte("deed of sale"))
	b := AddressBytes([]byte("deed of sale"))
	if a != b {
		t.Errorf("same bytes produced different addresses: %q vs %q", a, b)
	}
	if a == AddressBytes([]byte("deed of sale.")) {
		t.Error("different bytes produced the same address")
	}
	if !strings.HasPrefix(a, "sha256:") {
		t.Errorf("address %q missing scheme prefix", a)
	}
}

func TestValidAddress(t *testing.T) {
	good := AddressBytes([]byte("payload"))
	if !ValidAddress(good) {
		t.Errorf("expected %q to be valid", good)
	}
	for _, bad := range []string{
		"",
		"sha256:",
		"sha256:zzzz",
		"md5:d41d8cd98f00b204e9800998ecf8427e",
		strings.TrimPrefix(good, "sha256:"),
		good + "00",
	} {
		if ValidAddress(bad) {
			t.Errorf("expected %q to be invalid", bad)
		}
	}
}
