//go:build linux

package canbus

import (
	"encoding/binary"
	"fmt"
	"net"

	"github.com/mdlayher/netlink"
	"golang.org/x/sys/unix"
)

const vcanLinkKind = "vcan"

// ProvisionVCAN creates the named virtual CAN link if it does not exist
// and brings it up. Requires CAP_NET_ADMIN.
func ProvisionVCAN(name string) error {
	if _, err := net.InterfaceByName(name); err != nil {
		if err := createVCANLink(name); err != nil {
			return err
		}
	}
	return setLinkUp(name)
}

func createVCANLink(name string) error {
	c, err := netlink.Dial(unix.NETLINK_ROUTE, &netlink.Config{})
	if err != nil {
		return fmt.Errorf("canbus: dial netlink: %w", err)
	}
	defer c.Close()

	ae := netlink.NewAttributeEncoder()
	ae.String(unix.IFLA_IFNAME, name)
	ae.Nested(unix.IFLA_LINKINFO, func(nae *netlink.AttributeEncoder) error {
		nae.String(unix.IFLA_INFO_KIND, vcanLinkKind)
		return nil
	})
	attrs, err := ae.Encode()
	if err != nil {
		return fmt.Errorf("canbus: encode link attributes: %w", err)
	}

	req := netlink.Message{
		Header: netlink.Header{
			Type:  unix.RTM_NEWLINK,
			Flags: netlink.Request | netlink.Acknowledge | netlink.Create | netlink.Excl,
		},
		Data: append(marshalIfInfo(ifInfo{}), attrs...),
	}
	if _, err := c.Execute(req); err != nil {
		return fmt.Errorf("canbus: create %s link %s: %w", vcanLinkKind, name, err)
	}
	return nil
}

func setLinkUp(name string) error {
	ifi, err := net.InterfaceByName(name)
	if err != nil {
		return fmt.Errorf("canbus: interface %s: %w", name, err)
	}

	c, err := netlink.Dial(unix.NETLINK_ROUTE, &netlink.Config{})
	if err != nil {
		return fmt.Errorf("canbus: dial netlink: %w", err)
	}
	defer c.Close()

	req := netlink.Message{
		Header: netlink.Header{
			Type:  unix.RTM_NEWLINK,
			Flags: netlink.Request | netlink.Acknowledge,
		},
		Data: marshalIfInfo(ifInfo{
			Index:  int32(ifi.Index),
			Flags:  unix.IFF_UP,
			Change: unix.IFF_UP,
		}),
	}
	res, err := c.Execute(req)
	if err != nil {
		return fmt.Errorf("canbus: set link %s up: %w", name, err)
	}
	if len(res) > 1 {
		return fmt.Errorf("canbus: set link %s up: expected 1 message, got %d", name, len(res))
	}
	return nil
}

// ifInfo mirrors struct ifinfomsg for RTM_NEWLINK requests.
type ifInfo struct {
	Family uint8
	Type   uint16
	Index  int32
	Flags  uint32
	Change uint32
}

func marshalIfInfo(ifi ifInfo) []byte {
	buf := make([]byte, 2)
	buf[0] = ifi.Family
	buf[1] = 0 // reserved
	buf = binary.LittleEndian.AppendUint16(buf, ifi.Type)
	buf = binary.LittleEndian.AppendUint32(buf, uint32(ifi.Index))
	buf = binary.LittleEndian.AppendUint32(buf, ifi.Flags)
	buf = binary.LittleEndian.AppendUint32(buf, ifi.Change)
	return buf
}
