package vm

import "fmt"

// Device is one simulated peripheral: a flat property map plus optional
// item slots. Read-only properties reject writes the way real hardware
// does.
type Device struct {
	TypeHash int32
	NameHash int32
	Props    map[string]float64
	Slots    []map[string]float64
	ReadOnly map[string]bool
}

func NewDevice(typeHash, nameHash int32) *Device {
	return &Device{
		TypeHash: typeHash,
		NameHash: nameHash,
		Props:    make(map[string]float64),
		ReadOnly: make(map[string]bool),
	}
}

// AddSlot appends an item slot and returns its index.
func (d *Device) AddSlot() int {
	d.Slots = append(d.Slots, make(map[string]float64))
	return len(d.Slots) - 1
}

// read returns 0 for properties the device has never been given.
func (d *Device) read(prop string) float64 {
	return d.Props[prop]
}

func (d *Device) write(prop string, v float64) error {
	if d.ReadOnly[prop] {
		return fmt.Errorf("property %s is read-only", prop)
	}
	d.Props[prop] = v
	return nil
}

func (d *Device) readSlot(slot int, prop string) (float64, error) {
	if slot < 0 || slot >= len(d.Slots) {
		return 0, fmt.Errorf("slot %d does not exist", slot)
	}
	return d.Slots[slot][prop], nil
}

func (d *Device) writeSlot(slot int, prop string, v float64) error {
	if slot < 0 || slot >= len(d.Slots) {
		return fmt.Errorf("slot %d does not exist", slot)
	}
	d.Slots[slot][prop] = v
	return nil
}

// matching returns the network devices with the given type hash, narrowed
// by name hash when byName is set.
func (m *Machine) matching(typeHash, nameHash int32, byName bool) []*Device {
	var out []*Device
	for _, d := range m.network {
		if d.TypeHash != typeHash {
			continue
		}
		if byName && d.NameHash != nameHash {
			continue
		}
		out = append(out, d)
	}
	return out
}

// aggregate applies a batch mode over the devices' readings.
func aggregate(devs []*Device, prop string, mode int) (float64, error) {
	if len(devs) == 0 {
		return 0, fmt.Errorf("no devices on the network match")
	}
	switch mode {
	case 0: // average
		sum := 0.0
		for _, d := range devs {
			sum += d.read(prop)
		}
		return sum / float64(len(devs)), nil
	case 1: // sum
		sum := 0.0
		for _, d := range devs {
			sum += d.read(prop)
		}
		return sum, nil
	case 2: // minimum
		min := devs[0].read(prop)
		for _, d := range devs[1:] {
			if v := d.read(prop); v < min {
				min = v
			}
		}
		return min, nil
	case 3: // maximum
		max := devs[0].read(prop)
		for _, d := range devs[1:] {
			if v := d.read(prop); v > max {
				max = v
			}
		}
		return max, nil
	}
	return 0, fmt.Errorf("batch mode %d does not exist", mode)
}
