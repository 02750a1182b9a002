// Package hosts describes the backend servers a client shards its keys across.
//
// A Host is an immutable {address, port, weight} record whose ID ("address:port")
// is the key used both on the hash ring and in the client's live-server registry.
// Hosts come from a Resolver: either a static list known up front, or a
// discovery function that is consulted once while the client bootstraps.
//
// Example:
//
//	list, err := hosts.ParseList([]string{"10.0.0.1:6379", "10.0.0.2:6379:2"})
//	if err != nil {
//		log.Fatal(err)
//	}
//	res, err := hosts.Static(list).Resolve(ctx)
package hosts

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strconv"
	"strings"

	"github.com/mitchellh/mapstructure"
)

// DefaultWeight is the weight of a host that does not declare one.
const DefaultWeight = 1

// ErrInvalidHost is returned for host specifications that cannot be parsed.
var ErrInvalidHost = errors.New("invalid host")

// Host is a single backend server.
type Host struct {
	Address string `mapstructure:"address"`
	Port    int    `mapstructure:"port"`
	Weight  int    `mapstructure:"weight"`
}

// New validates and builds a Host. A weight <= 0 becomes DefaultWeight.
func New(address string, port, weight int) (Host, error) {
	if address == "" {
		return Host{}, fmt.Errorf("%w: empty address", ErrInvalidHost)
	}
	if port < 1 || port > 65535 {
		return Host{}, fmt.Errorf("%w: port %d out of range", ErrInvalidHost, port)
	}
	if weight <= 0 {
		weight = DefaultWeight
	}
	return Host{Address: address, Port: port, Weight: weight}, nil
}

// ID returns the stable "address:port" identity of the host.
func (h Host) ID() string {
	return net.JoinHostPort(h.Address, strconv.Itoa(h.Port))
}

func (h Host) String() string { return h.ID() }

// Parse reads "address:port" or "address:port:weight".
func Parse(spec string) (Host, error) {
	spec = strings.TrimSpace(spec)
	if spec == "" {
		return Host{}, fmt.Errorf("%w: empty spec", ErrInvalidHost)
	}

	weight := DefaultWeight
	addr, portStr, err := net.SplitHostPort(spec)
	if err != nil {
		i := strings.LastIndex(spec, ":")
		if i <= 0 {
			return Host{}, fmt.Errorf("%w: %q", ErrInvalidHost, spec)
		}
		w, werr := strconv.Atoi(spec[i+1:])
		if werr != nil {
			return Host{}, fmt.Errorf("%w: %q: bad weight", ErrInvalidHost, spec)
		}
		weight = w
		addr, portStr, err = net.SplitHostPort(spec[:i])
		if err != nil {
			return Host{}, fmt.Errorf("%w: %q: %v", ErrInvalidHost, spec, err)
		}
	}

	port, err := strconv.Atoi(portStr)
	if err != nil {
		return Host{}, fmt.Errorf("%w: %q: bad port", ErrInvalidHost, spec)
	}
	if weight <= 0 {
		return Host{}, fmt.Errorf("%w: %q: weight must be positive", ErrInvalidHost, spec)
	}
	return New(addr, port, weight)
}

// ParseList parses every spec, failing on the first invalid one.
func ParseList(specs []string) ([]Host, error) {
	out := make([]Host, 0, len(specs))
	for _, s := range specs {
		h, err := Parse(s)
		if err != nil {
			return nil, err
		}
		out = append(out, h)
	}
	return out, nil
}

// Decode converts loosely typed records, as typically returned by service
// discovery backends, into hosts. Numeric fields may be strings.
//
//	hosts.Decode([]map[string]any{{"address": "10.0.0.1", "port": "6379"}})
func Decode(records []map[string]any) ([]Host, error) {
	out := make([]Host, 0, len(records))
	for i, rec := range records {
		var h Host
		dec, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
			Result:           &h,
			WeaklyTypedInput: true,
			ErrorUnused:      true,
		})
		if err != nil {
			return nil, err
		}
		if err := dec.Decode(rec); err != nil {
			return nil, fmt.Errorf("%w: record %d: %v", ErrInvalidHost, i, err)
		}
		h, err = New(h.Address, h.Port, h.Weight)
		if err != nil {
			return nil, fmt.Errorf("record %d: %w", i, err)
		}
		out = append(out, h)
	}
	return out, nil
}

// Resolution is the outcome of resolving a host specification. Replacements
// are spare hosts promoted, in order, when a live host is removed.
type Resolution struct {
	Hosts        []Host
	Replacements []Host
}

// Resolver turns a host specification into concrete hosts.
type Resolver interface {
	Resolve(ctx context.Context) (Resolution, error)
}

// Static resolves to a fixed list of hosts with no replacements.
type Static []Host

// Resolve implements Resolver.
func (s Static) Resolve(context.Context) (Resolution, error) {
	return Resolution{Hosts: append([]Host(nil), s...)}.normalize(), nil
}

// DiscoveryFunc resolves hosts asynchronously, e.g. by asking a registry.
type DiscoveryFunc func(ctx context.Context) (Resolution, error)

// Resolve implements Resolver.
func (f DiscoveryFunc) Resolve(ctx context.Context) (Resolution, error) {
	res, err := f(ctx)
	if err != nil {
		return Resolution{}, err
	}
	return res.normalize(), nil
}

// normalize fills default weights and drops duplicate identities. A host that
// appears in Hosts is never also kept as a replacement.
func (r Resolution) normalize() Resolution {
	seen := make(map[string]bool, len(r.Hosts)+len(r.Replacements))
	clean := func(in []Host) []Host {
		out := make([]Host, 0, len(in))
		for _, h := range in {
			if h.Weight <= 0 {
				h.Weight = DefaultWeight
			}
			if seen[h.ID()] {
				continue
			}
			seen[h.ID()] = true
			out = append(out, h)
		}
		return out
	}
	return Resolution{Hosts: clean(r.Hosts), Replacements: clean(r.Replacements)}
}
