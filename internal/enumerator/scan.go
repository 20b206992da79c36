package enumerator

import (
	"strconv"

	"github.com/google/gousb"
	"github.com/karalabe/hid"

	"keepkeyd/internal/transport"
)

// KnownDevice pairs a vendor/product ID with the transport kind it should
// be opened with, since a KeepKey-family device enumerates as HID in
// normal operation and as a raw USB interface in bootloader mode.
type KnownDevice struct {
	VendorID      uint16
	ProductID     uint16
	TransportKind transport.Kind
}

// OSScanner is the production Scanner: it enumerates HID devices via
// github.com/karalabe/hid and raw USB devices via github.com/google/gousb,
// restricted to the configured set of known vendor/product IDs.
type OSScanner struct {
	Known []KnownDevice
}

func (s OSScanner) Scan() ([]RawDevice, error) {
	var out []RawDevice

	for _, k := range s.Known {
		switch k.TransportKind {
		case transport.KindHID:
			infos, err := hid.Enumerate(k.VendorID, k.ProductID)
			if err != nil {
				continue
			}
			for _, info := range infos {
				out = append(out, RawDevice{
					VendorID:      info.VendorID,
					ProductID:     info.ProductID,
					Manufacturer:  info.Manufacturer,
					Product:       info.Product,
					Serial:        info.Serial,
					Path:          info.Path,
					TransportKind: transport.KindHID,
				})
			}

		case transport.KindUSBInterrupt:
			devs, err := scanUSBInterrupt(k.VendorID, k.ProductID)
			if err != nil {
				continue
			}
			out = append(out, devs...)
		}
	}

	return out, nil
}

func scanUSBInterrupt(vid, pid uint16) ([]RawDevice, error) {
	ctx := gousb.NewContext()
	defer ctx.Close()

	var out []RawDevice
	devs, err := ctx.OpenDevices(func(desc *gousb.DeviceDesc) bool {
		return uint16(desc.Vendor) == vid && uint16(desc.Product) == pid
	})
	if err != nil {
		return nil, err
	}
	for _, d := range devs {
		serial, _ := d.SerialNumber()
		product, _ := d.Product()
		manufacturer, _ := d.Manufacturer()
		out = append(out, RawDevice{
			VendorID:      uint16(d.Desc.Vendor),
			ProductID:     uint16(d.Desc.Product),
			Manufacturer:  manufacturer,
			Product:       product,
			Serial:        serial,
			Bus:           busString(d),
			PortPath:      portPathString(d),
			TransportKind: transport.KindUSBInterrupt,
		})
		d.Close()
	}
	return out, nil
}

func busString(d *gousb.Device) string {
	return strconv.Itoa(d.Desc.Bus)
}

func portPathString(d *gousb.Device) string {
	s := strconv.Itoa(d.Desc.Address)
	for _, p := range d.Desc.Port {
		s += "." + strconv.Itoa(p)
	}
	return s
}
