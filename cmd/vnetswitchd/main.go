// Command vnetswitchd runs a standalone layer-2 Ethernet switch: a fixed
// pool of virtio-net and uplink ports, VLAN-aware MAC learning and flooding,
// and an optional monitor/mirror port, matching the original switch
// process's setup-then-serve shape.
package main

import (
	"log"

	"github.com/alecthomas/kong"
)

func main() {
	c := CLI{}

	ctx := kong.Parse(&c,
		kong.Name("vnetswitchd"),
		kong.Description("vnetswitchd is a software layer-2 Ethernet switch with virtio-net ports"),
		kong.UsageOnError(),
		kong.ConfigureHelp(kong.HelpOptions{
			Compact: true,
			Summary: true,
		}))

	if err := ctx.Run(); err != nil {
		log.Fatal(err)
	}
}
