package session

import (
	"context"
	"crypto/rand"
	"fmt"
	"log/slog"
	"net"
	"net/netip"
	"runtime"
	"slices"
	"strings"
	"time"

	"github.com/shirou/gopsutil/v4/cpu"
	gnet "github.com/shirou/gopsutil/v4/net"
)

// Packet sizes.
const (
	DefaultPacketSize = 1392
	VPNPacketSize     = 1024
)

// reachabilityTimeout bounds the connection used to find the local route.
const reachabilityTimeout = 3 * time.Second

// Reachability classifies the route to the host.
type Reachability int

const (
	ReachabilityUnknown Reachability = iota
	ReachabilityLAN
	ReachabilityVPN
)

func (r Reachability) String() string {
	switch r {
	case ReachabilityLAN:
		return "lan"
	case ReachabilityVPN:
		return "vpn"
	default:
		return "unknown"
	}
}

// System answers the machine queries a session makes.
type System interface {
	CPUCount() int
	HasFastAES() bool
	// Reachability classifies the route to address (host:port).
	Reachability(ctx context.Context, address string) Reachability
}

type hostSystem struct {
	logger *slog.Logger
}

// HostSystem queries the running machine through gopsutil.
func HostSystem(logger *slog.Logger) System {
	return hostSystem{logger: logger}
}

func (s hostSystem) CPUCount() int {
	n, err := cpu.Counts(true)
	if err != nil || n <= 0 {
		return runtime.NumCPU()
	}
	return n
}

func (s hostSystem) HasFastAES() bool {
	if runtime.GOOS == "darwin" {
		return true
	}
	infos, err := cpu.Info()
	if err != nil {
		s.logger.Debug("cpu info unavailable", slog.String("error", err.Error()))
		return false
	}
	for _, info := range infos {
		if slices.Contains(info.Flags, "aes") {
			return true
		}
	}
	return false
}

func (s hostSystem) Reachability(ctx context.Context, address string) Reachability {
	dialer := net.Dialer{Timeout: reachabilityTimeout}
	conn, err := dialer.DialContext(ctx, "tcp", address)
	if err != nil {
		s.logger.Warn("unable to check reachability",
			slog.String("address", address),
			slog.String("error", err.Error()))
		return ReachabilityUnknown
	}
	local := addrOf(conn.LocalAddr())
	peer := addrOf(conn.RemoteAddr())
	_ = conn.Close()

	ifaces, err := gnet.InterfacesWithContext(ctx)
	if err != nil {
		s.logger.Warn("unable to list interfaces", slog.String("error", err.Error()))
		return ReachabilityUnknown
	}
	r, name := ClassifyRoute(ifaces, local, peer)
	s.logger.Info("route classified",
		slog.String("interface", name),
		slog.String("local", local.String()),
		slog.String("reachability", r.String()))
	return r
}

func addrOf(a net.Addr) netip.Addr {
	if tcp, ok := a.(*net.TCPAddr); ok {
		if ip, ok := netip.AddrFromSlice(tcp.IP); ok {
			return ip.Unmap()
		}
	}
	return netip.Addr{}
}

// ClassifyRoute finds the interface owning local and classifies the route
// to peer through it. It also returns the interface name.
func ClassifyRoute(ifaces []gnet.InterfaceStat, local, peer netip.Addr) (Reachability, string) {
	for _, iface := range ifaces {
		if !slices.Contains(iface.Flags, "up") {
			continue
		}
		for _, a := range iface.Addrs {
			prefix, err := netip.ParsePrefix(a.Addr)
			if err != nil || prefix.Addr().Unmap() != local {
				continue
			}
			return classifyInterface(iface, prefix, peer), iface.Name
		}
	}
	return ReachabilityUnknown, ""
}

func classifyInterface(iface gnet.InterfaceStat, prefix netip.Prefix, peer netip.Addr) Reachability {
	switch {
	case slices.Contains(iface.Flags, "pointtopoint"):
		return ReachabilityVPN
	case iface.MTU != 0 && iface.MTU < 1500:
		return ReachabilityVPN
	case strings.HasPrefix(strings.ToUpper(iface.HardwareAddr), "00:FF"):
		return ReachabilityVPN
	case strings.HasPrefix(iface.Name, "ZeroTier"), strings.Contains(iface.Name, "VPN"):
		return ReachabilityVPN
	case isTunnelName(iface.Name):
		return ReachabilityVPN
	}

	local := netip.PrefixFrom(prefix.Addr().Unmap(), prefix.Bits()).Masked()
	if local.Contains(peer.Unmap()) {
		return ReachabilityLAN
	}
	return ReachabilityUnknown
}

// isTunnelName matches virtual interfaces commonly carrying VPN traffic.
func isTunnelName(name string) bool {
	for _, p := range []string{"tun", "tap", "wg", "ppp", "tailscale", "zt"} {
		if strings.HasPrefix(name, p) {
			return true
		}
	}
	return false
}

// EncryptionFor returns the encryption policy: everything when the CPU has
// AES acceleration and more than 2 cores, audio only otherwise.
func EncryptionFor(fastAES bool, cpus int) Encryption {
	if fastAES && cpus > 2 {
		return EncryptAll
	}
	return EncryptAudio
}

// NetworkPolicy returns the distance and video packet size for a route.
// A non-zero packetSize override forces local streaming.
func NetworkPolicy(packetSize int, r Reachability) (Distance, int) {
	if packetSize != 0 {
		return DistanceLocal, packetSize
	}
	switch r {
	case ReachabilityLAN:
		return DistanceLocal, DefaultPacketSize
	case ReachabilityVPN:
		return DistanceRemote, VPNPacketSize
	default:
		return DistanceAuto, DefaultPacketSize
	}
}

// remoteInputKeys generates the remote input AES key and IV.
func remoteInputKeys() (key, iv [16]byte, err error) {
	if _, err = rand.Read(key[:]); err != nil {
		return key, iv, fmt.Errorf("generate remote input key: %w", err)
	}
	if _, err = rand.Read(iv[:4]); err != nil {
		return key, iv, fmt.Errorf("generate remote input iv: %w", err)
	}
	return key, iv, nil
}
