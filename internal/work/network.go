package work

import "net"

// NetworkMonitor reports whether the host currently has a usable network.
type NetworkMonitor interface {
	IsConnected() bool
}

// NetworkFunc adapts a function to NetworkMonitor.
type NetworkFunc func() bool

func (f NetworkFunc) IsConnected() bool { return f() }

// InterfaceMonitor considers the network connected when at least one
// non-loopback interface is up and has an address.
type InterfaceMonitor struct{}

func (InterfaceMonitor) IsConnected() bool {
	ifaces, err := net.Interfaces()
	if err != nil {
		return false
	}
	for _, iface := range ifaces {
		if iface.Flags&net.FlagUp == 0 || iface.Flags&net.FlagLoopback != 0 {
			continue
		}
		addrs, err := iface.Addrs()
		if err == nil && len(addrs) > 0 {
			return true
		}
	}
	return false
}
