// middleware.go - Host-Pruefung fuer den Board-Server
// Enthaelt: boardHostGuard(), localHostname(), localInterface()

package server

import (
	"net"
	"net/http"
	"net/netip"
	"os"
	"strings"

	"github.com/gin-gonic/gin"
)

// localSuffixes sind Namensendungen, die nie aus dem Internet aufgeloest werden
var localSuffixes = []string{".localhost", ".local", ".internal"}

// boardHostGuard lehnt fremde Host-Header ab, solange das Board nur auf
// Loopback lauscht. Auf einer externen Adresse wird jeder Host akzeptiert.
func boardHostGuard(listen net.Addr) gin.HandlerFunc {
	loopbackOnly := false
	if listen != nil {
		if ap, err := netip.ParseAddrPort(listen.String()); err == nil {
			loopbackOnly = ap.Addr().IsLoopback()
		}
	}

	return func(c *gin.Context) {
		if !loopbackOnly {
			c.Next()
			return
		}

		host := c.Request.Host
		if h, _, err := net.SplitHostPort(host); err == nil {
			host = h
		}
		host = strings.Trim(host, "[]")

		if ip, err := netip.ParseAddr(host); err == nil {
			if ip.IsLoopback() || ip.IsPrivate() || ip.IsUnspecified() || localInterface(ip) {
				c.Next()
				return
			}
			c.AbortWithStatus(http.StatusForbidden)
			return
		}

		if !localHostname(host) {
			c.AbortWithStatus(http.StatusForbidden)
			return
		}
		c.Next()
	}
}

// localHostname meldet ob host diese Maschine oder ein lokaler Name ist
func localHostname(host string) bool {
	host = strings.ToLower(strings.TrimSuffix(host, "."))
	switch host {
	case "", "localhost":
		return true
	}

	if name, err := os.Hostname(); err == nil && host == strings.ToLower(name) {
		return true
	}

	for _, suffix := range localSuffixes {
		if strings.HasSuffix(host, suffix) {
			return true
		}
	}
	return false
}

// localInterface meldet ob ip einem Interface dieser Maschine gehoert
func localInterface(ip netip.Addr) bool {
	addrs, err := net.InterfaceAddrs()
	if err != nil {
		return false
	}

	for _, a := range addrs {
		prefix, err := netip.ParsePrefix(a.String())
		if err == nil && prefix.Addr().Unmap() == ip.Unmap() {
			return true
		}
	}
	return false
}
