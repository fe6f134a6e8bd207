package middleware

import (
	"net"

	"github.com/labstack/echo/v4"
)

// IPExtractor resolves c.RealIP() for the server.  With no trusted proxies the
// socket peer is the client and forwarding headers are ignored.  Otherwise
// X-Forwarded-For is honoured only when the peer, and each hop skipped, lies
// inside one of the trusted ranges.
func IPExtractor(trusted []*net.IPNet) echo.IPExtractor {
	if len(trusted) == 0 {
		return echo.ExtractIPDirect()
	}
	opts := []echo.TrustOption{
		echo.TrustLoopback(false),
		echo.TrustLinkLocal(false),
		echo.TrustPrivateNet(false),
	}
	for _, n := range trusted {
		opts = append(opts, echo.TrustIPRange(n))
	}
	return echo.ExtractIPFromXFFHeader(opts...)
}
