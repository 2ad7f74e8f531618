package snapproxy

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strconv"
	"sync"
	"time"

	"github.com/grandcat/zeroconf"

	"github.com/elijahnyp/theater_controller/util"
)

// StreamService is the mDNS service snapserver announces for its stream port.
const StreamService = "_snapcast._tcp"

var ErrNotFound = errors.New("no snapserver announced")

// Discover browses for a snapserver and returns the first stream endpoint
// announced within timeout.
func Discover(ctx context.Context, timeout time.Duration) (string, error) {
	resolver, err := zeroconf.NewResolver(nil)
	if err != nil {
		return "", fmt.Errorf("initializing resolver: %w", err)
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	entries := make(chan *zeroconf.ServiceEntry)
	found := make(chan string, 1)
	go func() {
		for {
			select {
			case entry, ok := <-entries:
				if !ok {
					return
				}
				if addr, ok := endpoint(entry); ok {
					select {
					case found <- addr:
					default:
					}
					cancel()
				}
			case <-ctx.Done():
				return
			}
		}
	}()

	if err := resolver.Browse(ctx, StreamService, "local.", entries); err != nil {
		return "", fmt.Errorf("browsing for %s: %w", StreamService, err)
	}
	<-ctx.Done()
	select {
	case addr := <-found:
		return addr, nil
	default:
		return "", ErrNotFound
	}
}

func endpoint(entry *zeroconf.ServiceEntry) (string, bool) {
	if entry == nil {
		return "", false
	}
	var host string
	switch {
	case len(entry.AddrIPv4) > 0:
		host = entry.AddrIPv4[0].String()
	case len(entry.AddrIPv6) > 0:
		host = entry.AddrIPv6[0].String()
	default:
		return "", false
	}
	return net.JoinHostPort(host, strconv.Itoa(entry.Port)), true
}

// DiscoveredUpstream resolves the server over mDNS, remembering the last
// answer and falling back to it (or to fallback) when nothing answers.
func DiscoveredUpstream(fallback string, timeout time.Duration) func(context.Context) (string, error) {
	var (
		mu   sync.Mutex
		last = fallback
	)
	return func(ctx context.Context) (string, error) {
		addr, err := Discover(ctx, timeout)
		mu.Lock()
		defer mu.Unlock()
		if err != nil {
			util.Logger.Warn().Msgf("snapserver discovery failed, using %s: %v", last, err)
			return last, nil
		}
		if addr != last {
			util.Logger.Info().Msgf("discovered snapserver at %s", addr)
		}
		last = addr
		return addr, nil
	}
}
