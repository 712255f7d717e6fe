package tcp

import (
	"context"
	"fmt"
	"net"
	"strconv"
	"strings"
	"time"
)

// Mode selects how an Address picks its host.
type Mode int

const (
	ModeLoopback Mode = iota // "localhost", host argument ignored
	ModeExplicit             // caller supplied hostname or IP
	ModeWildcard             // every local interface, bind only
)

const (
	DefaultPort      = 10000
	loopbackHost     = "localhost"
	defaultLookupTTL = 5 * time.Second
)

func (m Mode) String() string {
	switch m {
	case ModeLoopback:
		return "loopback"
	case ModeExplicit:
		return "explicit"
	case ModeWildcard:
		return "wildcard"
	default:
		return "unknown"
	}
}

// ParseMode maps a config/flag value to a Mode.
func ParseMode(s string) (Mode, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "loopback", "":
		return ModeLoopback, nil
	case "explicit":
		return ModeExplicit, nil
	case "wildcard":
		return ModeWildcard, nil
	default:
		return 0, fmt.Errorf("unknown mode %q (want loopback, explicit or wildcard)", s)
	}
}

// Address is an immutable host/port pair tagged with the mode that built it.
// A wildcard address has an empty Host.
type Address struct {
	Mode Mode
	Host string
	Port int
}

func Loopback(port int) Address { return Address{Mode: ModeLoopback, Host: loopbackHost, Port: port} }

func Explicit(host string, port int) Address {
	return Address{Mode: ModeExplicit, Host: host, Port: port}
}

func Wildcard(port int) Address { return Address{Mode: ModeWildcard, Port: port} }

// BindAddr is the host:port string handed to net.Listen.
func (a Address) BindAddr() string {
	return net.JoinHostPort(a.Host, strconv.Itoa(a.Port))
}

// DialAddr is the host:port string handed to net.Dial.
func (a Address) DialAddr() (string, error) {
	if a.Mode == ModeWildcard {
		return "", ErrWildcardDial
	}
	return net.JoinHostPort(a.Host, strconv.Itoa(a.Port)), nil
}

func (a Address) String() string {
	host := a.Host
	if host == "" {
		host = "*"
	}
	return fmt.Sprintf("%s port %d (%s)", host, a.Port, a.Mode)
}

// Resolve builds an Address for mode. Explicit hosts are looked up once so a
// bad name fails here instead of at bind/dial; reachability is left to those calls.
func Resolve(ctx context.Context, mode Mode, hostArg string, port int) (Address, error) {
	if port < 1 || port > 65535 {
		return Address{}, &ResolutionError{Host: hostArg, Port: port, Err: ErrInvalidPort}
	}

	switch mode {
	case ModeLoopback:
		return Loopback(port), nil
	case ModeWildcard:
		return Wildcard(port), nil
	case ModeExplicit:
		host := strings.TrimSpace(hostArg)
		if host == "" {
			return Address{}, &ResolutionError{Host: hostArg, Port: port, Err: ErrMissingHost}
		}
		if net.ParseIP(host) != nil {
			return Explicit(host, port), nil
		}

		if _, ok := ctx.Deadline(); !ok {
			var cancel context.CancelFunc
			ctx, cancel = context.WithTimeout(ctx, defaultLookupTTL)
			defer cancel()
		}
		addrs, err := net.DefaultResolver.LookupHost(ctx, host)
		if err != nil {
			return Address{}, &ResolutionError{Host: host, Port: port, Err: err}
		}
		if len(addrs) == 0 {
			return Address{}, &ResolutionError{Host: host, Port: port, Err: fmt.Errorf("no addresses found")}
		}
		return Explicit(host, port), nil
	default:
		return Address{}, &ResolutionError{Host: hostArg, Port: port, Err: fmt.Errorf("unknown mode %d", mode)}
	}
}
