package main

import (
	"fmt"
	"os/exec"
	"strings"

	"github.com/godbus/dbus/v5"
)

const (
	busName        = "org.bluez"
	bluezRoot      = "/org/bluez"
	adapterIface   = "org.bluez.Adapter1"
	profileMgrPath = "/org/bluez"
	profileMgrIfc  = "org.bluez.ProfileManager1"
	profileIface   = "org.bluez.Profile1"
	propsIface     = "org.freedesktop.DBus.Properties"
	propsSignal    = "org.freedesktop.DBus.Properties.PropertiesChanged"

	hidUUID     = "00001124-0000-1000-8000-00805f9b34fb"
	profilePath = dbus.ObjectPath("/org/padctl/hid")
)

// macFromPath extracts a MAC address from a BlueZ device object path such
// as "/org/bluez/hci0/dev_AA_BB_CC_DD_EE_FF".
func macFromPath(path dbus.ObjectPath) string {
	s := string(path)
	i := strings.LastIndex(s, "/dev_")
	if i < 0 {
		return ""
	}
	return strings.ReplaceAll(s[i+len("/dev_"):], "_", ":")
}

// bluez wraps a system D-Bus connection for BlueZ operations on one
// adapter.
type bluez struct {
	conn    *dbus.Conn
	adapter string
}

func newBluez(adapter string) (*bluez, error) {
	conn, err := dbus.SystemBus()
	if err != nil {
		return nil, fmt.Errorf("connect to system bus: %w", err)
	}
	// Quick check that BlueZ is on the bus.
	var names []string
	if err := conn.BusObject().Call("org.freedesktop.DBus.ListNames", 0).Store(&names); err != nil {
		conn.Close()
		return nil, fmt.Errorf("list bus names: %w", err)
	}
	found := false
	for _, n := range names {
		if n == busName {
			found = true
			break
		}
	}
	if !found {
		conn.Close()
		return nil, fmt.Errorf("org.bluez not found on system bus (is bluetooth.service running?)")
	}
	return &bluez{conn: conn, adapter: adapter}, nil
}

func (b *bluez) close() {
	b.conn.Close()
}

func (b *bluez) adapterPath() dbus.ObjectPath {
	return dbus.ObjectPath(bluezRoot + "/" + b.adapter)
}

// --- property helpers ---

func (b *bluez) getProp(path dbus.ObjectPath, iface, prop string) (dbus.Variant, error) {
	obj := b.conn.Object(busName, path)
	var v dbus.Variant
	err := obj.Call(propsIface+".Get", 0, iface, prop).Store(&v)
	return v, err
}

func (b *bluez) setProp(path dbus.ObjectPath, iface, prop string, val interface{}) error {
	obj := b.conn.Object(busName, path)
	if err := obj.Call(propsIface+".Set", 0, iface, prop, dbus.MakeVariant(val)).Err; err != nil {
		return fmt.Errorf("set %s.%s: %w", iface, prop, err)
	}
	return nil
}

func (b *bluez) getBool(path dbus.ObjectPath, iface, prop string) (bool, error) {
	v, err := b.getProp(path, iface, prop)
	if err != nil {
		return false, err
	}
	val, ok := v.Value().(bool)
	if !ok {
		return false, fmt.Errorf("property %s is not bool", prop)
	}
	return val, nil
}

// --- adapter ---

func (b *bluez) adapterPowered() (bool, error) {
	return b.getBool(b.adapterPath(), adapterIface, "Powered")
}

func (b *bluez) setAdapterPowered(on bool) error {
	return b.setProp(b.adapterPath(), adapterIface, "Powered", on)
}

func (b *bluez) setAlias(name string) error {
	return b.setProp(b.adapterPath(), adapterIface, "Alias", name)
}

// setDiscoverable makes the adapter discoverable and pairable with no
// timeout.
func (b *bluez) setDiscoverable(on bool) error {
	path := b.adapterPath()
	if err := b.setProp(path, adapterIface, "DiscoverableTimeout", uint32(0)); err != nil {
		return err
	}
	if err := b.setProp(path, adapterIface, "PairableTimeout", uint32(0)); err != nil {
		return err
	}
	if err := b.setProp(path, adapterIface, "Pairable", on); err != nil {
		return err
	}
	return b.setProp(path, adapterIface, "Discoverable", on)
}

// setClass sets the class of device. BlueZ has no D-Bus setter for it,
// so this shells out to hciconfig.
func (b *bluez) setClass(class uint32) error {
	out, err := exec.Command("hciconfig", b.adapter, "class", fmt.Sprintf("0x%06x", class)).CombinedOutput()
	if err != nil {
		return fmt.Errorf("hciconfig %s class: %w: %s", b.adapter, err, strings.TrimSpace(string(out)))
	}
	return nil
}

// --- profile ---

// registerProfile exports handler as an org.bluez.Profile1 and registers
// the HID service record with the profile manager.
func (b *bluez) registerProfile(handler interface{}, record string) error {
	if err := b.conn.Export(handler, profilePath, profileIface); err != nil {
		return fmt.Errorf("export profile: %w", err)
	}
	opts := map[string]dbus.Variant{
		"ServiceRecord":         dbus.MakeVariant(record),
		"Role":                  dbus.MakeVariant("server"),
		"RequireAuthentication": dbus.MakeVariant(false),
		"RequireAuthorization":  dbus.MakeVariant(false),
	}
	obj := b.conn.Object(busName, profileMgrPath)
	if err := obj.Call(profileMgrIfc+".RegisterProfile", 0, profilePath, hidUUID, opts).Err; err != nil {
		b.conn.Export(nil, profilePath, profileIface)
		return fmt.Errorf("register profile: %w", err)
	}
	return nil
}

func (b *bluez) unregisterProfile() error {
	obj := b.conn.Object(busName, profileMgrPath)
	err := obj.Call(profileMgrIfc+".UnregisterProfile", 0, profilePath).Err
	b.conn.Export(nil, profilePath, profileIface)
	return err
}

// --- signal subscription ---

func (b *bluez) subscribePropertyChanges() chan *dbus.Signal {
	b.conn.BusObject().Call(
		"org.freedesktop.DBus.AddMatch", 0,
		"type='signal',interface='"+propsIface+"',member='PropertiesChanged',path='"+string(b.adapterPath())+"'",
	)
	ch := make(chan *dbus.Signal, 16)
	b.conn.Signal(ch)
	return ch
}

// poweredChange reports whether sig says the adapter's Powered property
// changed, and to what.
func (b *bluez) poweredChange(sig *dbus.Signal) (powered, ok bool) {
	if sig.Name != propsSignal || sig.Path != b.adapterPath() {
		return false, false
	}
	// Body: [interface_name string, changed_props map[string]Variant, invalidated []string]
	if len(sig.Body) < 2 {
		return false, false
	}
	iface, isStr := sig.Body[0].(string)
	if !isStr || iface != adapterIface {
		return false, false
	}
	changed, isMap := sig.Body[1].(map[string]dbus.Variant)
	if !isMap {
		return false, false
	}
	v, has := changed["Powered"]
	if !has {
		return false, false
	}
	powered, ok = v.Value().(bool)
	return powered, ok
}
