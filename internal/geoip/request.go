package geoip

import (
	"net"
	"net/http"
	"strings"

	"github.com/avct/uasurfer"
)

// Device classes returned by DeviceType.
const (
	DeviceDesktop = "desktop"
	DeviceMobile  = "mobile"
	DeviceTablet  = "tablet"
	DeviceOther   = "other"
)

// Visitor holds what the request reveals about the visitor.
type Visitor struct {
	IP         string
	Country    string
	DeviceType string
}

// IsMobile reports whether the visitor uses a phone or tablet.
func (v Visitor) IsMobile() bool {
	return v.DeviceType == DeviceMobile || v.DeviceType == DeviceTablet
}

// ClientIP returns the first X-Forwarded-For address, falling back to the
// connection's remote address. It returns "" when neither parses as an IP.
func ClientIP(r *http.Request) string {
	ipStr := r.Header.Get("X-Forwarded-For")
	if ipStr != "" {
		// X-Forwarded-For can be comma-separated, take first IP
		if idx := strings.Index(ipStr, ","); idx != -1 {
			ipStr = ipStr[:idx]
		}
		ipStr = strings.TrimSpace(ipStr)
	} else {
		ipStr = r.RemoteAddr
		if host, _, err := net.SplitHostPort(ipStr); err == nil {
			ipStr = host
		}
	}
	if ip := net.ParseIP(ipStr); ip != nil {
		return ip.String()
	}
	return ""
}

// DeviceType classifies a User-Agent string.
func DeviceType(ua string) string {
	if ua == "" {
		return DeviceOther
	}
	switch uasurfer.Parse(ua).DeviceType {
	case uasurfer.DeviceComputer:
		return DeviceDesktop
	case uasurfer.DevicePhone:
		return DeviceMobile
	case uasurfer.DeviceTablet:
		return DeviceTablet
	default:
		return DeviceOther
	}
}

// ResolveVisitor extracts the client IP, country and device class from r.
// g may be nil, in which case Country is empty.
func ResolveVisitor(r *http.Request, g *GeoIP) Visitor {
	v := Visitor{
		IP:         ClientIP(r),
		DeviceType: DeviceType(r.Header.Get("User-Agent")),
	}
	if v.IP != "" {
		v.Country = g.Country(net.ParseIP(v.IP))
	}
	return v
}
