package services

import (
	"errors"
	"fmt"
	"net"

	"netifmon/internal/models"

	"github.com/vishvananda/netlink"
)

var ErrInterfaceNotFound = errors.New("interface not found")

// LinkLister is the subset of netlink used for enumeration. *netlink.Handle
// satisfies it.
type LinkLister interface {
	LinkList() ([]netlink.Link, error)
	AddrList(link netlink.Link, family int) ([]netlink.Addr, error)
}

// MonitorStatus reports whether an interface is under active monitoring.
type MonitorStatus interface {
	Status(name string) bool
}

type nativeLinks struct{}

func (nativeLinks) LinkList() ([]netlink.Link, error) {
	return netlink.LinkList()
}

func (nativeLinks) AddrList(link netlink.Link, family int) ([]netlink.Addr, error) {
	return netlink.AddrList(link, family)
}

type NetlinkService struct {
	links  LinkLister
	status MonitorStatus
}

func NewNetlinkService(status MonitorStatus) *NetlinkService {
	return NewNetlinkServiceWithLinks(nativeLinks{}, status)
}

func NewNetlinkServiceWithLinks(links LinkLister, status MonitorStatus) *NetlinkService {
	return &NetlinkService{links: links, status: status}
}

// ListInterfaces returns a fresh snapshot of up to max interfaces (all when
// max <= 0). Interfaces whose attributes cannot be read are skipped.
func (s *NetlinkService) ListInterfaces(max int) ([]models.InterfaceInfo, error) {
	links, err := s.links.LinkList()
	if err != nil {
		return nil, fmt.Errorf("failed to list links: %w", err)
	}

	interfaces := make([]models.InterfaceInfo, 0, len(links))
	for _, link := range links {
		if max > 0 && len(interfaces) >= max {
			break
		}

		iface, err := s.describe(link)
		if err != nil {
			log.WithError(err).Debug("Skipping interface")
			continue
		}
		interfaces = append(interfaces, iface)
	}

	return interfaces, nil
}

func (s *NetlinkService) GetInterface(name string) (*models.InterfaceInfo, error) {
	links, err := s.links.LinkList()
	if err != nil {
		return nil, fmt.Errorf("failed to list links: %w", err)
	}

	for _, link := range links {
		if attrs := link.Attrs(); attrs == nil || attrs.Name != name {
			continue
		}
		iface, err := s.describe(link)
		if err != nil {
			return nil, err
		}
		return &iface, nil
	}

	return nil, fmt.Errorf("%w: %s", ErrInterfaceNotFound, name)
}

func (s *NetlinkService) describe(link netlink.Link) (models.InterfaceInfo, error) {
	attrs := link.Attrs()
	if attrs == nil || attrs.Name == "" {
		return models.InterfaceInfo{}, errors.New("link without attributes")
	}

	iface := models.InterfaceInfo{
		Name: models.Truncate(attrs.Name, models.MaxNameLen),
		IsUp: attrs.Flags&net.FlagUp != 0,
	}

	if attrs.HardwareAddr != nil {
		iface.HWAddr = models.Truncate(attrs.HardwareAddr.String(), models.MaxHWAddrLen)
	}

	addrs, err := s.links.AddrList(link, netlink.FAMILY_ALL)
	if err != nil {
		return models.InterfaceInfo{}, fmt.Errorf("failed to list addresses of %s: %w", attrs.Name, err)
	}

	var fallback6 net.IP
	for _, addr := range addrs {
		if addr.IPNet == nil {
			continue
		}
		if ip4 := addr.IP.To4(); ip4 != nil {
			if iface.InetAddr == "" {
				iface.InetAddr = models.Truncate(ip4.String(), models.MaxInetAddrLen)
				if len(addr.Mask) == net.IPv6len {
					iface.Mask = net.IP(addr.Mask[12:]).String()
				} else if len(addr.Mask) == net.IPv4len {
					iface.Mask = net.IP(addr.Mask).String()
				}
			}
			continue
		}

		// Prefer a global address over link-local for IPv6.
		if iface.Inet6Addr == "" && addr.IP.IsGlobalUnicast() {
			iface.Inet6Addr = models.Truncate(addr.IP.String(), models.MaxInet6AddrLen)
		} else if fallback6 == nil {
			fallback6 = addr.IP
		}
	}
	if iface.Inet6Addr == "" && fallback6 != nil {
		iface.Inet6Addr = models.Truncate(fallback6.String(), models.MaxInet6AddrLen)
	}

	if s.status != nil {
		iface.Monitoring = s.status.Status(attrs.Name)
	}

	return iface, nil
}
