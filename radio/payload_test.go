package radio

import (
	"bytes"
	"testing"

	"tinygo.org/x/bluetooth"
)

type fakeAdvertisement struct {
	name         string
	raw          []byte
	manufacturer []bluetooth.ManufacturerDataElement
	service      []bluetooth.ServiceDataElement
}

func (f fakeAdvertisement) LocalName() string { return f.name }
func (f fakeAdvertisement) Bytes() []byte     { return f.raw }
func (f fakeAdvertisement) ManufacturerData() []bluetooth.ManufacturerDataElement {
	return f.manufacturer
}
func (f fakeAdvertisement) ServiceData() []bluetooth.ServiceDataElement {
	return f.service
}

func TestPayload_Raw(t *testing.T) {
	raw := []byte{0x02, 0x01, 0x06, 0x03, 0xFF, 0x7D, 0x02}
	adv := fakeAdvertisement{name: "ignored", raw: raw}

	got := Payload(adv)
	if !bytes.Equal(got, raw) {
		t.Fatalf("Payload() = %x, want %x", got, raw)
	}

	got[0] = 0xAA
	if raw[0] != 0x02 {
		t.Error("expected Payload to copy the raw record")
	}
}

func TestPayload_Rebuilt(t *testing.T) {
	adv := fakeAdvertisement{
		name: "FC",
		manufacturer: []bluetooth.ManufacturerDataElement{
			{CompanyID: 0x027D, Data: []byte{0x01, 0x02}},
		},
		service: []bluetooth.ServiceDataElement{
			{UUID: bluetooth.New16BitUUID(0xFDEE), Data: []byte{0x33}},
			{UUID: bluetooth.NewUUID([16]byte{0x12, 0x34}), Data: []byte{0x44}},
		},
	}

	want := []byte{
		0x03, 0x09, 'F', 'C',
		0x05, 0xFF, 0x7D, 0x02, 0x01, 0x02,
		0x04, 0x16, 0xEE, 0xFD, 0x33,
	}
	if got := Payload(adv); !bytes.Equal(got, want) {
		t.Errorf("Payload() = %x, want %x", got, want)
	}
}

func TestPayload_Empty(t *testing.T) {
	if got := Payload(fakeAdvertisement{}); len(got) != 0 {
		t.Errorf("expected empty payload, got %x", got)
	}
}

func TestPayload_TruncatesLongData(t *testing.T) {
	adv := fakeAdvertisement{
		manufacturer: []bluetooth.ManufacturerDataElement{
			{CompanyID: 0x0001, Data: make([]byte, 300)},
		},
	}

	got := Payload(adv)
	if len(got) != maxADDataLength+2 {
		t.Fatalf("expected %d bytes, got %d", maxADDataLength+2, len(got))
	}
	if got[0] != byte(maxADDataLength+1) {
		t.Errorf("unexpected length byte %d", got[0])
	}
}
