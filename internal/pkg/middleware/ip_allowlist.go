package middleware

import (
	"fmt"
	"net"
	"strings"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/log"
)

// IPAllowlist matches client addresses against plain IPs and CIDR ranges.
type IPAllowlist struct {
	nets []*net.IPNet
}

// ParseIPAllowlist accepts entries like "17.0.0.0/8" or "10.1.2.3".
func ParseIPAllowlist(entries []string) (*IPAllowlist, error) {
	list := &IPAllowlist{}
	for _, raw := range entries {
		entry := strings.TrimSpace(raw)
		if entry == "" {
			continue
		}
		if !strings.Contains(entry, "/") {
			ip := net.ParseIP(entry)
			if ip == nil {
				return nil, fmt.Errorf("invalid allowlist entry %q", entry)
			}
			bits := 32
			if ip.To4() == nil {
				bits = 128
			}
			entry = fmt.Sprintf("%s/%d", ip.String(), bits)
		}
		_, ipNet, err := net.ParseCIDR(entry)
		if err != nil {
			return nil, fmt.Errorf("invalid allowlist entry %q: %w", raw, err)
		}
		list.nets = append(list.nets, ipNet)
	}
	return list, nil
}

// Empty reports whether the list has no entries; an empty list allows everyone.
func (l *IPAllowlist) Empty() bool {
	return l == nil || len(l.nets) == 0
}

func (l *IPAllowlist) Allows(addr string) bool {
	if l.Empty() {
		return true
	}
	ip := net.ParseIP(strings.TrimSpace(addr))
	if ip == nil {
		return false
	}
	for _, n := range l.nets {
		if n.Contains(ip) {
			return true
		}
	}
	return false
}

// IPAllowlistMiddleware answers 403 for clients outside the list. c.IP honours
// fiber's ProxyHeader setting when the app runs behind a proxy.
func IPAllowlistMiddleware(list *IPAllowlist, name string) fiber.Handler {
	return func(c *fiber.Ctx) error {
		if list.Allows(c.IP()) {
			return c.Next()
		}
		log.Warnf("[%s] Rejected request from %s", name, c.IP())
		return c.Status(fiber.StatusForbidden).JSON(fiber.Map{"error": "forbidden", "message": "Source address not allowed"})
	}
}
