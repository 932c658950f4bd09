// Package safehttp provides an HTTP client for fetching tenant-supplied URLs.
// Custom provider base URLs come from tenant config, so upstream calls made
// with them must not be able to reach the gateway's own network.
package safehttp

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"time"
)

// Transport rejects connections to loopback, private and link-local IP ranges.
var Transport = &http.Transport{
	DialContext: func(ctx context.Context, network, addr string) (net.Conn, error) {
		dialer := &net.Dialer{Timeout: 5 * time.Second}
		conn, err := dialer.DialContext(ctx, network, addr)
		if err != nil {
			return nil, err
		}

		host, _, _ := net.SplitHostPort(conn.RemoteAddr().String())
		ip := net.ParseIP(host)
		if ip == nil {
			conn.Close()
			return nil, fmt.Errorf("failed to parse remote IP for %q", addr)
		}

		if ip.IsLoopback() || ip.IsPrivate() || ip.IsLinkLocalUnicast() {
			conn.Close()
			return nil, fmt.Errorf("access to private IP %s is denied", ip)
		}

		return conn, nil
	},
}

// Client is the shared client for tenant-supplied URLs.
var Client = &http.Client{Transport: Transport}
