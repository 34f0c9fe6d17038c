// Package virtionet implements the virtio-net device model shared by every
// guest-facing port: feature negotiation, the status state machine and the
// config space (MAC, link status, max virtqueue pairs), grounded on
// virtio_net.h's Virtio_net class and adapted from gokvm's much smaller
// fixed-function virtio.Net device header.
package virtionet

import "github.com/jwolter-go/vnetswitch/mac"

// Features is the virtio-net feature negotiation bitmap, mirroring
// Virtio_net::Features.
type Features uint32

const (
	FeatureCSum          Features = 1 << 0
	FeatureGuestCSum     Features = 1 << 1
	FeatureMAC           Features = 1 << 5
	FeatureGSO           Features = 1 << 6
	FeatureGuestTSO4     Features = 1 << 7
	FeatureGuestTSO6     Features = 1 << 8
	FeatureGuestECN      Features = 1 << 9
	FeatureGuestUFO      Features = 1 << 10
	FeatureHostTSO4      Features = 1 << 11
	FeatureHostTSO6      Features = 1 << 12
	FeatureHostECN       Features = 1 << 13
	FeatureHostUFO       Features = 1 << 14
	FeatureMrgRxBuf      Features = 1 << 15
	FeatureStatus        Features = 1 << 16
	FeatureCtrlVQ        Features = 1 << 17
	FeatureCtrlRX        Features = 1 << 18
	FeatureCtrlVLAN      Features = 1 << 19
	FeatureCtrlRXExtra   Features = 1 << 20
	FeatureGuestAnnounce Features = 1 << 21
	FeatureMQ            Features = 1 << 22
	FeatureCtrlMACAddr   Features = 1 << 23

	// FeatureRingIndirectDesc lives in the generic virtio feature range
	// rather than the net-specific one, but is tracked the same way since
	// this device exposes a single combined feature word.
	FeatureRingIndirectDesc Features = 1 << 28
)

// defaultHostFeatures matches Virtio_net's constructor: indirect descriptors
// and mergeable RX buffers advertised, checksum offload and GSO variants
// left disabled (present in the original only as commented-out
// documentation of what a fuller implementation could add).
const defaultHostFeatures = FeatureRingIndirectDesc | FeatureMrgRxBuf

// Status is the virtio device status byte, standard bits per the virtio 1.x
// spec (not net-specific).
type Status uint8

const (
	StatusAck        Status = 1 << 0
	StatusDriver     Status = 1 << 1
	StatusDriverOK   Status = 1 << 2
	StatusFeaturesOK Status = 1 << 3
	StatusNeedsReset Status = 1 << 6
	StatusFailed     Status = 1 << 7
)

// ConfigSpace is the net_config_space layout: MAC, link status and the
// number of virtqueue pairs the device supports.
type ConfigSpace struct {
	MAC               mac.Addr
	LinkUp            bool
	MaxVirtqueuePairs uint16
}

// Device is one virtio-net device instance, owned by a guest-facing port.
// It tracks feature negotiation and the status state machine; the
// virtqueues themselves (one tx and one rx queue) live in the owning port.
type Device struct {
	hostFeatures  Features
	guestFeatures Features
	status        Status
	config        ConfigSpace

	onConfigChange func()
}

// New builds a Device advertising the default feature set plus whatever
// extra is requested (e.g. FeatureCtrlVQ for a port configured with control
// channel support).
func New(cfg ConfigSpace, extra Features) *Device {
	hf := defaultHostFeatures | extra
	if cfg.MAC != mac.Unknown {
		hf |= FeatureMAC
	}

	return &Device{hostFeatures: hf, config: cfg}
}

// SetConfigChangeCallback installs the callback invoked once whenever
// DeviceError or a link-status change needs to raise a config-change
// interrupt.
func (d *Device) SetConfigChangeCallback(f func()) {
	d.onConfigChange = f
}

// HostFeatures returns the features this device offers.
func (d *Device) HostFeatures() Features {
	return d.hostFeatures
}

// NegotiateFeatures records the driver's accepted subset, matching
// L4virtio::Svr::Device's feature negotiation step. Bits the driver set
// that the device never offered are simply dropped, not an error: the
// standard virtio contract only requires the device ignore them.
func (d *Device) NegotiateFeatures(requested Features) {
	d.guestFeatures = requested & d.hostFeatures
}

// GuestFeatures returns the negotiated feature subset.
func (d *Device) GuestFeatures() Features {
	return d.guestFeatures
}

// Status returns the current device status byte.
func (d *Device) Status() Status {
	return d.status
}

// SetStatus applies a driver-issued status byte, matching the RESET -> ACK
// -> DRIVER -> FEATURES_OK -> DRIVER_OK progression, and clears down to RESET
// state whenever the driver writes a zero byte.
func (d *Device) SetStatus(s Status) {
	if s == 0 {
		d.Reset()

		return
	}

	d.status = s
}

// Reset returns the device to its post-RESET state: status cleared, feature
// negotiation forgotten. Queue state is the owning port's responsibility.
func (d *Device) Reset() {
	d.status = 0
	d.guestFeatures = 0
}

// CheckFeatures reports whether the driver has finished negotiation
// (FEATURES_OK still set, meaning the device accepted what was negotiated).
// A driver is expected to re-read status and abort if this ever goes false.
func (d *Device) CheckFeatures() bool {
	return d.status&StatusFeaturesOK != 0
}

// DeviceError latches NEEDS_RESET and raises one config-change interrupt,
// mirroring the original's error path for a descriptor chain the device
// cannot make sense of (L4virtio::Svr::Bad_descriptor turning into a fatal
// per-queue condition rather than killing the whole switch).
func (d *Device) DeviceError() {
	d.status |= StatusNeedsReset

	if d.onConfigChange != nil {
		d.onConfigChange()
	}
}

// Config returns the device's config space.
func (d *Device) Config() ConfigSpace {
	return d.config
}

// SetLinkUp updates the link-status bit in config space and raises a
// config-change interrupt if FeatureStatus was negotiated.
func (d *Device) SetLinkUp(up bool) {
	d.config.LinkUp = up

	if d.guestFeatures&FeatureStatus != 0 && d.onConfigChange != nil {
		d.onConfigChange()
	}
}
