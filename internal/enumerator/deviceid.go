package enumerator

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"

	"keepkeyd/internal/transport"
)

// RawDevice is the minimal descriptor an OS scan backend reports, before
// device_id derivation.
type RawDevice struct {
	VendorID      uint16
	ProductID     uint16
	Manufacturer  string
	Product       string
	Serial        string
	Bus           string
	PortPath      string
	Path          string
	TransportKind transport.Kind
}

// DeriveDeviceID computes the stable device_id of spec section 3/4.3:
// "vid:pid:serial" (vid and pid as 4-digit lowercase hex) when a USB serial
// is present, else a deterministic hash of {vid, pid, bus, port_path}. Keeping the serial-based form stable across
// re-enumeration under a different bus path is what lets the grace-window
// reconnect logic in enumerator.go match a device to its prior session.
func DeriveDeviceID(d RawDevice) string {
	if d.Serial != "" {
		return fmt.Sprintf("%04x:%04x:%s", d.VendorID, d.ProductID, d.Serial)
	}
	h := sha256.New()
	fmt.Fprintf(h, "%04x:%04x:%s:%s", d.VendorID, d.ProductID, d.Bus, d.PortPath)
	return hex.EncodeToString(h.Sum(nil))[:16]
}
