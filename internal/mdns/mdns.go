package mdns

import (
	"context"
	"fmt"
	"net"
	"sort"
	"strings"

	"github.com/grandcat/zeroconf"
)

// Service is the DNS-SD service type of the receiver telemetry server.
const Service = "_dvbs2rx._tcp"

const domain = "local."

// Host represents a discovered receiver.
type Host struct {
	Instance  string // Advertised name: "dvbs2rx on lab"
	Hostname  string // DNS hostname: "lab.local."
	Addresses []net.IP
	Port      int
	TXT       []string
}

// Attr returns the value of a key=value TXT record.
func (h Host) Attr(key string) (string, bool) {
	v, ok := parseTXT(h.TXT)[key]
	return v, ok
}

// Announce registers the telemetry server on the local network until ctx
// is canceled.
func Announce(ctx context.Context, instance string, port int, txt []string) error {
	server, err := zeroconf.Register(instance, Service, domain, port, txt, nil)
	if err != nil {
		return fmt.Errorf("register %s: %w", Service, err)
	}
	go func() {
		<-ctx.Done()
		server.Shutdown()
	}()
	return nil
}

// Discover performs a blocking mDNS browse for receivers until ctx is done.
// It returns cleaned and deduplicated host entries sorted by instance.
func Discover(ctx context.Context) ([]Host, error) {
	resolver, err := zeroconf.NewResolver(nil)
	if err != nil {
		return nil, fmt.Errorf("resolver error: %w", err)
	}

	entries := make(chan *zeroconf.ServiceEntry)
	resultMap := make(map[string]Host)

	// Consumer goroutine
	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			select {
			case e, ok := <-entries:
				if !ok {
					return
				}
				if e == nil {
					continue
				}
				resultMap[hostKey(e)] = hostFromEntry(e)
			case <-ctx.Done():
				return
			}
		}
	}()

	if err := resolver.Browse(ctx, Service, domain, entries); err != nil {
		return nil, fmt.Errorf("browse error: %w", err)
	}

	<-done

	out := make([]Host, 0, len(resultMap))
	for _, h := range resultMap {
		out = append(out, h)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Instance < out[j].Instance })
	return out, nil
}

func hostKey(e *zeroconf.ServiceEntry) string {
	return fmt.Sprintf("%s|%d", e.HostName, e.Port)
}

func hostFromEntry(e *zeroconf.ServiceEntry) Host {
	addrs := make([]net.IP, 0, len(e.AddrIPv4)+len(e.AddrIPv6))
	addrs = append(addrs, e.AddrIPv4...)
	addrs = append(addrs, e.AddrIPv6...)
	return Host{
		Instance:  cleanInstance(e.Instance),
		Hostname:  e.HostName,
		Addresses: addrs,
		Port:      e.Port,
		TXT:       append([]string{}, e.Text...),
	}
}

func parseTXT(txt []string) map[string]string {
	out := make(map[string]string, len(txt))
	for _, rec := range txt {
		k, v, _ := strings.Cut(rec, "=")
		if k != "" {
			out[k] = v
		}
	}
	return out
}

// cleanInstance removes Zeroconf escape sequences: "\ " => " "
func cleanInstance(s string) string {
	return strings.ReplaceAll(s, `\ `, " ")
}
