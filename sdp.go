package main

import (
	"encoding/hex"
	"encoding/xml"
	"fmt"
	"strings"
	"text/template"
)

// hidRecordParams fills the HID service record registered with BlueZ.
type hidRecordParams struct {
	Name            string
	Subclass        uint8  // low byte of the class of device
	CountryCode     uint8  // 33 = US
	Descriptor      string // hex
	SSRMaxLatency   uint16 // slots
	SSRMinTimeout   uint16
	SupervisionTime uint16
}

var hidRecordTmpl = template.Must(template.New("sdp").Funcs(template.FuncMap{
	"hex2": func(v uint8) string { return fmt.Sprintf("0x%02x", v) },
	"hex4": func(v uint16) string { return fmt.Sprintf("0x%04x", v) },
	"xml": func(s string) string {
		var b strings.Builder
		xml.EscapeText(&b, []byte(s))
		return b.String()
	},
}).Parse(`<?xml version="1.0" encoding="UTF-8" ?>
<record>
	<attribute id="0x0001">
		<sequence><uuid value="0x1124" /></sequence>
	</attribute>
	<attribute id="0x0004">
		<sequence>
			<sequence><uuid value="0x0100" /><uint16 value="0x0011" /></sequence>
			<sequence><uuid value="0x0011" /></sequence>
		</sequence>
	</attribute>
	<attribute id="0x0005">
		<sequence><uuid value="0x1002" /></sequence>
	</attribute>
	<attribute id="0x0006">
		<sequence>
			<uint16 value="0x656e" />
			<uint16 value="0x006a" />
			<uint16 value="0x0100" />
		</sequence>
	</attribute>
	<attribute id="0x0009">
		<sequence>
			<sequence><uuid value="0x1124" /><uint16 value="0x0100" /></sequence>
		</sequence>
	</attribute>
	<attribute id="0x000d">
		<sequence>
			<sequence>
				<sequence><uuid value="0x0100" /><uint16 value="0x0013" /></sequence>
				<sequence><uuid value="0x0011" /></sequence>
			</sequence>
		</sequence>
	</attribute>
	<attribute id="0x0100"><text value="{{xml .Name}}" /></attribute>
	<attribute id="0x0101"><text value="Keyboard" /></attribute>
	<attribute id="0x0102"><text value="padctl" /></attribute>
	<attribute id="0x0200"><uint16 value="0x0100" /></attribute>
	<attribute id="0x0201"><uint16 value="0x0111" /></attribute>
	<attribute id="0x0202"><uint8 value="{{hex2 .Subclass}}" /></attribute>
	<attribute id="0x0203"><uint8 value="{{hex2 .CountryCode}}" /></attribute>
	<attribute id="0x0204"><boolean value="true" /></attribute>
	<attribute id="0x0205"><boolean value="true" /></attribute>
	<attribute id="0x0206">
		<sequence>
			<sequence>
				<uint8 value="0x22" />
				<text encoding="hex" value="{{.Descriptor}}" />
			</sequence>
		</sequence>
	</attribute>
	<attribute id="0x0207">
		<sequence>
			<sequence><uint16 value="0x0409" /><uint16 value="0x0100" /></sequence>
		</sequence>
	</attribute>
	<attribute id="0x020a"><boolean value="true" /></attribute>
	<attribute id="0x020b"><uint16 value="0x0100" /></attribute>
	<attribute id="0x020c"><uint16 value="{{hex4 .SupervisionTime}}" /></attribute>
	<attribute id="0x020d"><boolean value="true" /></attribute>
	<attribute id="0x020e"><boolean value="false" /></attribute>
	<attribute id="0x020f"><uint16 value="{{hex4 .SSRMaxLatency}}" /></attribute>
	<attribute id="0x0210"><uint16 value="{{hex4 .SSRMinTimeout}}" /></attribute>
</record>
`))

// hidServiceRecord renders the SDP record for dev with the keyboard
// report descriptor embedded.
func hidServiceRecord(dev DeviceConfig) (string, error) {
	p := hidRecordParams{
		Name:            dev.Name,
		Subclass:        uint8(dev.Class),
		CountryCode:     33,
		Descriptor:      hex.EncodeToString(hidDescriptor[:]),
		SSRMaxLatency:   1600,
		SSRMinTimeout:   3200,
		SupervisionTime: 3200,
	}
	var b strings.Builder
	if err := hidRecordTmpl.Execute(&b, p); err != nil {
		return "", fmt.Errorf("render sdp record: %w", err)
	}
	return b.String(), nil
}
