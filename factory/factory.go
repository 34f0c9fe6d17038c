// Package factory turns a per-port option string list into a configured
// port, the way main.cc's Switch_factory::op_create and handle_opt_arg
// interpret the "type=", "name=", "vlan=", "mac=" and "ds-max=" arguments a
// client passes when requesting a new port.
package factory

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/jwolter-go/vnetswitch/mac"
	"github.com/jwolter-go/vnetswitch/vlan"
)

// DefaultDSMax is main.cc's default number of guest dataspaces a port
// accepts (its "num_ds" default).
const DefaultDSMax = 2

// MaxDSMax is the upper bound accepted for "ds-max=".
const MaxDSMax = 80

// maxNameLen mirrors main.cc's `char name[20]` buffer, one byte reserved for
// the NUL terminator snprintf always leaves room for.
const maxNameLen = 19

// Spec is the parsed, validated result of one port's option string list —
// everything needed to name it, pick its MAC and build its vlan.Role, before
// any transport-specific object (queues, memory regions) is constructed.
type Spec struct {
	Monitor bool
	Name    string

	VLANAccess   vlan.ID
	VLANTrunk    []vlan.ID
	VLANTrunkAll bool
	hasVLANOpt   bool

	MAC    mac.Addr
	MACSet bool

	DSMax int
}

// Role builds the vlan.Role this spec describes. Must only be called on a
// Spec returned by a successful ParseOptions, which validates it.
func (s Spec) Role() vlan.Role {
	if s.Monitor {
		return vlan.NewMonitorRole()
	}

	switch {
	case s.VLANTrunkAll:
		return vlan.NewTrunkAllRole()
	case len(s.VLANTrunk) > 0:
		return vlan.NewTrunkRole(s.VLANTrunk)
	case s.VLANAccess != 0:
		return vlan.NewAccessRole(s.VLANAccess)
	default:
		return vlan.NewNativeRole()
	}
}

// newSpec returns a Spec with main.cc's defaults applied.
func newSpec() Spec {
	return Spec{DSMax: DefaultDSMax}
}

// ParseOptions parses a full option string list, mirroring op_create's loop
// over the Varg_list plus handle_opt_arg.
func ParseOptions(opts []string) (Spec, error) {
	spec := newSpec()

	for _, opt := range opts {
		if err := applyOption(&spec, opt); err != nil {
			return Spec{}, err
		}
	}

	if err := spec.validate(); err != nil {
		return Spec{}, err
	}

	return spec, nil
}

func (s Spec) validate() error {
	if s.VLANAccess != 0 && (len(s.VLANTrunk) > 0 || s.VLANTrunkAll) {
		return fmt.Errorf("factory: port cannot be access and trunk VLAN port simultaneously")
	}

	if s.Monitor && s.hasVLANOpt {
		// main.cc only warns and ignores vlan=... on monitor ports; it does
		// not reject the request.
		return nil
	}

	return nil
}

func applyOption(spec *Spec, opt string) error {
	if v, ok, err := parseDSMax(opt); err != nil {
		return err
	} else if ok {
		spec.DSMax = v

		return nil
	}

	switch {
	case opt == "type=monitor":
		spec.Monitor = true

		return nil
	case opt == "type=none":
		return nil
	case strings.HasPrefix(opt, "type="):
		return fmt.Errorf("factory: unknown type %q", strings.TrimPrefix(opt, "type="))
	case strings.HasPrefix(opt, "name="):
		spec.Name = strings.TrimPrefix(opt, "name=")

		return nil
	case strings.HasPrefix(opt, "vlan="):
		return applyVLANOption(spec, strings.TrimPrefix(opt, "vlan="))
	case strings.HasPrefix(opt, "mac="):
		return applyMACOption(spec, strings.TrimPrefix(opt, "mac="))
	}

	return fmt.Errorf("factory: unknown option %q", opt)
}

func parseDSMax(opt string) (int, bool, error) {
	const prefix = "ds-max="
	if !strings.HasPrefix(opt, prefix) {
		return 0, false, nil
	}

	n, err := strconv.Atoi(strings.TrimPrefix(opt, prefix))
	if err != nil {
		return 0, false, fmt.Errorf("factory: bad parameter %q: %w", opt, err)
	}

	if n <= 0 || n > MaxDSMax {
		return 0, false, fmt.Errorf("factory: invalid number of data spaces %d (0 < n <= %d)", n, MaxDSMax)
	}

	return n, true, nil
}

func applyVLANOption(spec *Spec, rest string) error {
	spec.hasVLANOpt = true

	switch {
	case strings.HasPrefix(rest, "access="):
		vidStr := strings.TrimPrefix(rest, "access=")

		v, err := strconv.ParseUint(vidStr, 10, 16)
		if err != nil || !vlan.Valid(vlan.ID(v)) {
			return fmt.Errorf("factory: invalid VLAN access port id %q", rest)
		}

		spec.VLANAccess = vlan.ID(v)

		return nil

	case rest == "trunk=all":
		spec.VLANTrunkAll = true

		return nil

	case strings.HasPrefix(rest, "trunk="):
		idsStr := strings.TrimPrefix(rest, "trunk=")

		ids, err := parseTrunkIDs(idsStr)
		if err != nil {
			return fmt.Errorf("factory: invalid VLAN trunk port spec %q: %w", rest, err)
		}

		spec.VLANTrunk = ids

		return nil
	}

	return fmt.Errorf("factory: invalid VLAN specification %q", rest)
}

func parseTrunkIDs(s string) ([]vlan.ID, error) {
	parts := strings.Split(s, ",")

	ids := make([]vlan.ID, 0, len(parts))

	for _, p := range parts {
		v, err := strconv.ParseUint(p, 10, 16)
		if err != nil || !vlan.Valid(vlan.ID(v)) {
			return nil, fmt.Errorf("bad VLAN id %q", p)
		}

		ids = append(ids, vlan.ID(v))
	}

	if len(ids) == 0 {
		return nil, fmt.Errorf("empty trunk VLAN list")
	}

	return ids, nil
}

func applyMACOption(spec *Spec, rest string) error {
	parts := strings.Split(rest, ":")
	if len(parts) != mac.Length {
		return fmt.Errorf("factory: invalid mac address %q", rest)
	}

	var b [mac.Length]byte

	for i, p := range parts {
		v, err := strconv.ParseUint(p, 16, 8)
		if err != nil {
			return fmt.Errorf("factory: invalid mac address %q", rest)
		}

		b[i] = byte(v)
	}

	spec.MAC = mac.New(b[:])
	spec.MACSet = true

	return nil
}

// DefaultMAC builds the fallback MAC address main.cc assigns when no "mac="
// option was given: 02:08:0f:2a:<portHi>:<portLo>, or 02:08:0f:2a:de:ad for
// the monitor port (under the assumption there will never be more than
// 0xdea8 regular ports).
func DefaultMAC(portNum int, monitor bool) mac.Addr {
	b := [mac.Length]byte{0x02, 0x08, 0x0f, 0x2a, 0x00, 0x00}

	if monitor {
		b[4], b[5] = 0xde, 0xad
	} else {
		b[4] = byte(portNum >> 8)
		b[5] = byte(portNum)
	}

	return mac.New(b[:])
}

// PortName resolves the final name for a port: the user-supplied "name="
// value (truncated to maxNameLen) with "[portNum]" appended, or
// "monitor[portNum]"/"[portNum]" if none was given — matching main.cc's
// name[20] buffer and its two snprintf call sites.
func PortName(spec Spec, portNum int) string {
	base := spec.Name
	if len(base) > maxNameLen {
		base = base[:maxNameLen]
	}

	if base == "" && spec.Monitor {
		base = "monitor"
	}

	return fmt.Sprintf("%s[%d]", base, portNum)
}

// ResolveMAC picks the MAC address a new port should advertise: the explicit
// "mac=" option if given, otherwise DefaultMAC for its slot.
func ResolveMAC(spec Spec, portNum int) mac.Addr {
	if spec.MACSet {
		return spec.MAC
	}

	return DefaultMAC(portNum, spec.Monitor)
}
