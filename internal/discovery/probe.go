package discovery

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"slices"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"
)

// probePorts maps TCP ports to the service they indicate. The sweep dials
// each port on each candidate host; open ports drive both the supported
// protocol list and the device type inference.
var probePorts = map[int]string{
	21:   "ftp",
	22:   "sftp",
	80:   "webdav",
	139:  "smb",
	443:  "webdav",
	445:  "smb",
	515:  "lpd",
	8080: "webdav",
	9100: "jetdirect",
}

// PortProber sweeps the local /24 subnets with bounded-concurrency TCP
// dials. It is the default Prober; tests and other integrations inject
// their own.
type PortProber struct {
	// Timeout bounds each individual dial.
	Timeout time.Duration
	// Workers is the number of concurrent dials.
	Workers int
	// Interfaces overrides the subnet list (CIDR strings) for testing;
	// empty means enumerate local non-loopback IPv4 interfaces.
	Subnets []string

	Logger *slog.Logger
}

// Probe dials every (host, port) pair in the local subnets and emits one
// detection per host with at least one open port.
func (p *PortProber) Probe(ctx context.Context, _ Filter, emit func(Detection)) error {
	subnets := p.Subnets
	if len(subnets) == 0 {
		var err error

		subnets, err = localSubnets()
		if err != nil {
			return fmt.Errorf("discovery: enumerating interfaces: %w", err)
		}
	}

	hosts := expandHosts(subnets)
	if len(hosts) == 0 {
		return fmt.Errorf("discovery: no probeable subnets")
	}

	p.Logger.Debug("port sweep starting",
		slog.Int("hosts", len(hosts)),
		slog.Int("ports", len(probePorts)),
	)

	var g errgroup.Group

	g.SetLimit(p.Workers)

	for _, host := range hosts {
		g.Go(func() error {
			if det, ok := p.probeHost(ctx, host); ok {
				emit(det)
			}

			// Unreachable hosts are the common case, not an error.
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return err
	}

	return ctx.Err()
}

// probeHost dials the probe ports on one host. The signal score is derived
// from the fastest successful dial latency.
func (p *PortProber) probeHost(ctx context.Context, host string) (Detection, bool) {
	var (
		open    []string
		fastest = p.Timeout
	)

	dialer := net.Dialer{Timeout: p.Timeout}

	for port, proto := range probePorts {
		if ctx.Err() != nil {
			break
		}

		start := time.Now()

		conn, err := dialer.DialContext(ctx, "tcp", net.JoinHostPort(host, fmt.Sprint(port)))
		if err != nil {
			continue
		}

		conn.Close()

		if latency := time.Since(start); latency < fastest {
			fastest = latency
		}

		open = append(open, proto)
	}

	if len(open) == 0 {
		return Detection{}, false
	}

	slices.Sort(open)
	open = slices.Compact(open)

	name := host
	if names, err := net.LookupAddr(host); err == nil && len(names) > 0 {
		name = strings.TrimSuffix(names[0], ".")
	}

	return Detection{
		ID:        host, // MAC resolution needs raw sockets; address is the stable fallback
		Name:      name,
		Type:      inferType(open),
		Addr:      host,
		Protocols: transferProtocols(open),
		Signal:    signalScore(fastest, p.Timeout),
		Metadata:  map[string]string{"services": strings.Join(open, ",")},
	}, true
}

// inferType guesses the device type from the open service set.
func inferType(services []string) DeviceType {
	has := func(s string) bool { return slices.Contains(services, s) }

	switch {
	case has("jetdirect") || has("lpd"):
		return DeviceTypePrinter
	case has("smb") && (has("ftp") || has("webdav")):
		return DeviceTypeNAS
	case has("smb"):
		return DeviceTypeComputer
	case has("sftp") && has("webdav"):
		return DeviceTypeServer
	case has("webdav"):
		return DeviceTypeRouter
	case has("sftp") || has("ftp"):
		return DeviceTypeServer
	default:
		return DeviceTypeUnknown
	}
}

// transferProtocols filters the service list down to protocols the adapter
// layer can actually mount.
func transferProtocols(services []string) []string {
	var out []string

	for _, s := range services {
		switch s {
		case "smb", "ftp", "sftp", "webdav":
			out = append(out, s)
		}
	}

	return out
}

// signalScore maps dial latency to a 0-100 quality score: instant dials
// score 100, dials at the timeout boundary score near 0.
func signalScore(latency, timeout time.Duration) int {
	if timeout <= 0 || latency >= timeout {
		return 0
	}

	return int(100 - (latency * 100 / timeout))
}

// localSubnets enumerates /24 CIDRs for all non-loopback IPv4 interfaces.
func localSubnets() ([]string, error) {
	addrs, err := net.InterfaceAddrs()
	if err != nil {
		return nil, err
	}

	var subnets []string

	for _, addr := range addrs {
		ipNet, ok := addr.(*net.IPNet)
		if !ok || ipNet.IP.IsLoopback() {
			continue
		}

		ip4 := ipNet.IP.To4()
		if ip4 == nil {
			continue
		}

		subnets = append(subnets, fmt.Sprintf("%d.%d.%d.0/24", ip4[0], ip4[1], ip4[2]))
	}

	return subnets, nil
}

// expandHosts lists the usable host addresses of each /24.
func expandHosts(subnets []string) []string {
	var hosts []string

	seen := make(map[string]bool)

	for _, cidr := range subnets {
		ip, _, err := net.ParseCIDR(cidr)
		if err != nil {
			continue
		}

		ip4 := ip.To4()
		if ip4 == nil {
			continue
		}

		for i := 1; i < 255; i++ {
			h := fmt.Sprintf("%d.%d.%d.%d", ip4[0], ip4[1], ip4[2], i)
			if !seen[h] {
				seen[h] = true
				hosts = append(hosts, h)
			}
		}
	}

	return hosts
}
