// Package mdns advertises a room server on the local network and finds
// the ones already advertised.
//
// Servers register as _roomsync._tcp with TXT records naming the protocol
// version and the WebSocket path. Discovery only reveals presence; a room
// still needs its code and password.
package mdns

import (
	"context"
	"fmt"
	"net"
	"os"
	"sort"
	"strconv"
	"strings"
	"sync"

	"github.com/charmbracelet/log"
	"github.com/grandcat/zeroconf"
)

// ServiceType is the DNS-SD service type for room servers.
const ServiceType = "_roomsync._tcp"

// ProtocolVersion identifies the wire protocol for compatibility checks.
const ProtocolVersion = "1"

// DefaultPath is the WebSocket path advertised when Config.Path is empty.
const DefaultPath = "/ws"

// Config holds what is advertised.
type Config struct {
	// Port is the server port.
	Port int

	// Name is the instance name. Defaults to the hostname.
	Name string

	// Path is the WebSocket endpoint path.
	Path string
}

// Advertiser manages one DNS-SD registration.
type Advertiser struct {
	config Config
	server *zeroconf.Server
	mu     sync.Mutex
}

// NewAdvertiser creates an advertiser. Nothing is sent until Start.
func NewAdvertiser(cfg Config) *Advertiser {
	if cfg.Path == "" {
		cfg.Path = DefaultPath
	}
	return &Advertiser{config: cfg}
}

func (a *Advertiser) instanceName() string {
	if a.config.Name != "" {
		return a.config.Name
	}
	hostname, err := os.Hostname()
	if err != nil {
		return "roomsync"
	}
	return hostname
}

// txtRecords builds the TXT strings. Each must stay under 255 bytes.
func (a *Advertiser) txtRecords(name string) []string {
	return []string{
		"version=" + ProtocolVersion,
		"name=" + name,
		"path=" + a.config.Path,
	}
}

// Start registers the service. Calling it again while running is a no-op.
func (a *Advertiser) Start() error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.server != nil {
		return nil
	}

	name := a.instanceName()
	server, err := zeroconf.Register(name, ServiceType, "local.", a.config.Port, a.txtRecords(name), nil)
	if err != nil {
		return fmt.Errorf("mdns register: %w", err)
	}
	log.WithPrefix("devserver").Info("advertising via mDNS", "name", name, "port", a.config.Port)

	a.server = server
	return nil
}

// Stop unregisters the service. Safe to call more than once or before Start.
func (a *Advertiser) Stop() {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.server != nil {
		a.server.Shutdown()
		a.server = nil
	}
}

// IsRunning reports whether the service is registered.
func (a *Advertiser) IsRunning() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.server != nil
}

// DiscoveredServer is a room server found on the network.
type DiscoveredServer struct {
	Name    string
	Host    string
	Port    int
	Path    string
	Version string
}

// URL returns the server's WebSocket endpoint.
func (d DiscoveredServer) URL() string {
	path := d.Path
	if path == "" {
		path = DefaultPath
	}
	return "ws://" + net.JoinHostPort(d.Host, strconv.Itoa(d.Port)) + path
}

func fromEntry(entry *zeroconf.ServiceEntry) DiscoveredServer {
	d := DiscoveredServer{Name: entry.Instance, Port: entry.Port}
	if len(entry.AddrIPv4) > 0 {
		d.Host = entry.AddrIPv4[0].String()
	} else if len(entry.AddrIPv6) > 0 {
		d.Host = entry.AddrIPv6[0].String()
	} else {
		d.Host = strings.TrimSuffix(entry.HostName, ".")
	}
	applyTXT(&d, entry.Text)
	return d
}

func applyTXT(d *DiscoveredServer, records []string) {
	for _, txt := range records {
		key, value, ok := strings.Cut(txt, "=")
		if !ok || value == "" {
			continue
		}
		switch key {
		case "version":
			d.Version = value
		case "name":
			d.Name = value
		case "path":
			d.Path = value
		}
	}
}

// Discover browses until ctx is done and returns the servers seen, sorted
// by name. Duplicate announcements of one instance are collapsed.
func Discover(ctx context.Context) ([]DiscoveredServer, error) {
	resolver, err := zeroconf.NewResolver(nil)
	if err != nil {
		return nil, fmt.Errorf("mdns resolver: %w", err)
	}

	seen := make(map[string]DiscoveredServer)
	var wg sync.WaitGroup
	entries := make(chan *zeroconf.ServiceEntry)

	wg.Add(1)
	go func() {
		defer wg.Done()
		for entry := range entries {
			seen[entry.ServiceInstanceName()] = fromEntry(entry)
		}
	}()

	if err := resolver.Browse(ctx, ServiceType, "local.", entries); err != nil {
		return nil, fmt.Errorf("mdns browse: %w", err)
	}

	<-ctx.Done()
	// zeroconf closes entries once ctx is done.
	wg.Wait()

	out := make([]DiscoveredServer, 0, len(seen))
	for _, d := range seen {
		out = append(out, d)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Name != out[j].Name {
			return out[i].Name < out[j].Name
		}
		return out[i].URL() < out[j].URL()
	})
	return out, nil
}
