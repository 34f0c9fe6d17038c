package capref_test

import (
	"testing"

	"github.com/jwolter-go/vnetswitch/capref"
)

func TestAlwaysAliveReportsAlive(t *testing.T) {
	t.Parallel()

	if !capref.AlwaysAlive.Alive() {
		t.Fatal("expected AlwaysAlive to report alive")
	}
}

func TestFuncAdaptsPlainFunction(t *testing.T) {
	t.Parallel()

	alive := true
	peer := capref.Func(func() bool { return alive })

	if !peer.Alive() {
		t.Fatal("expected peer to be alive")
	}

	alive = false

	if peer.Alive() {
		t.Fatal("expected peer to report gone once the backing bool flips")
	}
}
