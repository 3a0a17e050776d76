package connectivity

import (
	"net"
)

// NetworkDetector reports whether the host has any interface that could
// reach a network at all. It is consulted before any probe is sent.
type NetworkDetector interface {
	Available() bool
}

// DetectorFunc adapts a function to NetworkDetector.
type DetectorFunc func() bool

func (f DetectorFunc) Available() bool { return f() }

// AlwaysAvailable skips interface inspection.
var AlwaysAvailable = DetectorFunc(func() bool { return true })

// InterfaceDetector inspects the host interfaces and reports true when at
// least one non-loopback interface is up and carries an address.
type InterfaceDetector struct {
	interfaces func() ([]net.Interface, error)
	addrs      func(net.Interface) ([]net.Addr, error)
}

func NewInterfaceDetector() *InterfaceDetector {
	return &InterfaceDetector{
		interfaces: net.Interfaces,
		addrs:      func(i net.Interface) ([]net.Addr, error) { return i.Addrs() },
	}
}

func (d *InterfaceDetector) Available() bool {
	ifaces, err := d.interfaces()
	if err != nil {
		// unknown state, let the probe decide
		return true
	}
	for _, iface := range ifaces {
		if iface.Flags&net.FlagUp == 0 || iface.Flags&net.FlagLoopback != 0 {
			continue
		}
		addrs, err := d.addrs(iface)
		if err == nil && len(addrs) > 0 {
			return true
		}
	}
	return false
}
