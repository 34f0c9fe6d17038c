package main

import (
	"context"
	"fmt"
	stdlog "log"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/jwolter-go/vnetswitch/engine"
	"github.com/jwolter-go/vnetswitch/factory"
	"github.com/jwolter-go/vnetswitch/port"
	"github.com/jwolter-go/vnetswitch/switchlog"
	"github.com/jwolter-go/vnetswitch/tap"
	"github.com/jwolter-go/vnetswitch/vlan"
	"github.com/pkg/profile"
	"golang.org/x/sync/errgroup"
)

// checkPortsInterval mirrors how often main.cc's Del_cap_irq handler would
// fire in the original IRQ-driven design; here it is a plain poll since no
// capability-deletion IRQ source exists in this environment.
const checkPortsInterval = 500 * time.Millisecond

// idlePollInterval bounds how long the dispatch loop sleeps when every
// registered port reported no pending work, so the process does not busy
// spin waiting on a tap device with nothing queued.
const idlePollInterval = 5 * time.Millisecond

// CLI is vnetswitchd's flag surface, matching spec.md's CLI surface
// (queue size, port count, auto-MAC, trusted dataspaces, verbosity) the way
// gokvm's flag/runs.go wires kong.
type CLI struct {
	QueueSize int      `short:"s" default:"256" help:"virtqueue size (descriptors per ring)"`
	MaxPorts  int      `short:"p" default:"8" help:"maximum number of switch ports"`
	AutoMAC   bool     `short:"m" help:"auto-assign a MAC address to any port that did not request one"`
	Dataspace []string `short:"d" help:"trusted dataspace path, repeatable"`
	Verbosity []string `short:"D" help:"verbosity spec: LEVEL or component=LEVEL, repeatable"`
	Quiet     bool     `short:"q" help:"suppress all logging, warnings included"`
	Verbose   bool     `short:"v" help:"enable trace-level logging on every component"`

	Uplink string   `help:"tap interface name bound as the switch's uplink port"`
	Port   []string `short:"P" help:"declarative port option string (name=,vlan=,mac=,type=,ds-max=), repeatable"`

	Profile string `help:"enable profiling for the run: cpu, mem, or trace"`
}

// Run wires a Switch from the parsed flags and drives its dispatch loop
// until interrupted, matching main.cc's top-level setup-then-serve shape.
func (c *CLI) Run() error {
	log := switchlog.New(stdlog.New(os.Stderr, "", stdlog.LstdFlags))
	if err := c.applyVerbosity(log); err != nil {
		return err
	}

	if c.Profile != "" {
		stop, err := startProfile(c.Profile)
		if err != nil {
			return err
		}

		defer stop()
	}

	sw := engine.New(c.MaxPorts, c.MaxPorts*4, log)
	sw.SetFilter(port.ExampleFilter)

	for _, spec := range c.Dataspace {
		log.Infof(switchlog.Core, "trusted dataspace %q accepted", spec)
	}

	var uplink *port.UplinkPort

	if c.Uplink != "" {
		dev, err := tap.New(c.Uplink)
		if err != nil {
			return fmt.Errorf("vnetswitchd: opening uplink %q: %w", c.Uplink, err)
		}

		addr := factory.DefaultMAC(0, false)
		uplink = port.NewUplinkPort(c.Uplink, addr, vlan.NewTrunkAllRole(), dev, log)

		if _, ok := sw.AddPort(uplink); !ok {
			return fmt.Errorf("vnetswitchd: switch rejected uplink port %q", c.Uplink)
		}
	}

	// Guest-facing ports declared with -P are registered here so naming, VLAN
	// role and MAC assignment run through the same factory logic a real
	// transport would use, but they sit idle until something attaches a
	// transport (virtqueues + memory regions) to them — standing up that
	// transport means speaking the IPC factory protocol itself, which is out
	// of scope here.
	for _, raw := range c.Port {
		opts := strings.Split(raw, ",")

		if !c.AutoMAC && !hasMACOption(opts) {
			log.Warnf(switchlog.Core, "dropping port spec %q: no mac= given and -m not set", raw)

			continue
		}

		if _, _, err := factory.CreatePort(sw, opts, localTransport(c.QueueSize), log); err != nil {
			log.Warnf(switchlog.Core, "dropping port spec %q: %v", raw, err)
		}
	}

	return runLoop(sw, uplink, log)
}

func runLoop(sw *engine.Switch, uplink *port.UplinkPort, log *switchlog.Logger) error {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return watchSignals(ctx, cancel)
	})

	g.Go(func() error {
		return pollCheckPorts(ctx, sw)
	})

	g.Go(func() error {
		return dispatchLoop(ctx, sw, uplink)
	})

	if err := g.Wait(); err != nil && ctx.Err() == nil {
		return err
	}

	log.Infof(switchlog.Core, "vnetswitchd shutting down")

	return nil
}

func watchSignals(ctx context.Context, cancel context.CancelFunc) error {
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigCh)

	select {
	case <-sigCh:
		cancel()
	case <-ctx.Done():
	}

	return nil
}

func pollCheckPorts(ctx context.Context, sw *engine.Switch) error {
	ticker := time.NewTicker(checkPortsInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			sw.CheckPorts()
		}
	}
}

// dispatchLoop is the sole driver of Switch.DispatchPortTX, preserving the
// engine's single-threaded dispatch invariant even though it runs alongside
// the signal and check-ports goroutines.
func dispatchLoop(ctx context.Context, sw *engine.Switch, uplink *port.UplinkPort) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		default:
		}

		if uplink == nil {
			select {
			case <-ctx.Done():
				return nil
			case <-time.After(idlePollInterval):
			}

			continue
		}

		drained := sw.DispatchPortTX(uplink)
		if drained {
			select {
			case <-ctx.Done():
				return nil
			case <-time.After(idlePollInterval):
			}
		}
	}
}

func startProfile(kind string) (func(), error) {
	switch kind {
	case "cpu":
		p := profile.Start(profile.CPUProfile)

		return p.Stop, nil
	case "mem":
		p := profile.Start(profile.MemProfile)

		return p.Stop, nil
	case "trace":
		p := profile.Start(profile.TraceProfile)

		return p.Stop, nil
	}

	return nil, fmt.Errorf("vnetswitchd: unknown profile kind %q", kind)
}

func hasMACOption(opts []string) bool {
	for _, opt := range opts {
		if strings.HasPrefix(opt, "mac=") {
			return true
		}
	}

	return false
}

func (c *CLI) applyVerbosity(log *switchlog.Logger) error {
	switch {
	case c.Quiet:
		log.SetVerbosity(switchlog.Quiet)
	case c.Verbose:
		log.SetVerbosity(switchlog.Warn | switchlog.Info | switchlog.Debug | switchlog.Trace)
	}

	for _, spec := range c.Verbosity {
		if err := log.ApplySpec(spec); err != nil {
			return fmt.Errorf("vnetswitchd: %w", err)
		}
	}

	return nil
}
