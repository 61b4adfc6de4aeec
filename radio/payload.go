package radio

import "tinygo.org/x/bluetooth"

// AD structure types
const (
	adCompleteLocalName = 0x09
	adServiceData16     = 0x16
	adManufacturerData  = 0xFF

	maxADDataLength = 254
)

// advertisement is the part of bluetooth.AdvertisementPayload the radio reads
type advertisement interface {
	LocalName() string
	Bytes() []byte
	ManufacturerData() []bluetooth.ManufacturerDataElement
	ServiceData() []bluetooth.ServiceDataElement
}

// Payload returns the raw advertisement record. Stacks that only expose
// parsed fields (BlueZ) get the record re-serialised as local name,
// manufacturer data and 16-bit service data AD structures, in that order.
func Payload(adv advertisement) []byte {
	if raw := adv.Bytes(); len(raw) > 0 {
		return append([]byte(nil), raw...)
	}

	var out []byte
	if name := adv.LocalName(); name != "" {
		out = appendAD(out, adCompleteLocalName, []byte(name))
	}
	for _, m := range adv.ManufacturerData() {
		data := append([]byte{byte(m.CompanyID), byte(m.CompanyID >> 8)}, m.Data...)
		out = appendAD(out, adManufacturerData, data)
	}
	for _, sd := range adv.ServiceData() {
		if !sd.UUID.Is16Bit() {
			continue
		}
		id := uint16(sd.UUID[3])
		data := append([]byte{byte(id), byte(id >> 8)}, sd.Data...)
		out = appendAD(out, adServiceData16, data)
	}
	return out
}

func appendAD(out []byte, typ byte, data []byte) []byte {
	if len(data) > maxADDataLength {
		data = data[:maxADDataLength]
	}
	out = append(out, byte(len(data)+1), typ)
	return append(out, data...)
}
