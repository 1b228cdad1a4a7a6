package hid

// Keyboard modifier bits.
const (
	ModLeftCtrl   = 1 << 0
	ModLeftShift  = 1 << 1
	ModLeftAlt    = 1 << 2
	ModLeftGUI    = 1 << 3
	ModRightCtrl  = 1 << 4
	ModRightShift = 1 << 5
	ModRightAlt   = 1 << 6
	ModRightGUI   = 1 << 7
)

// Keyboard LED bits carried by the output report.
const (
	LEDNumLock    = 1 << 0
	LEDCapsLock   = 1 << 1
	LEDScrollLock = 1 << 2
)

// Mouse button bits.
const (
	MouseButtonLeft   = 1 << 0
	MouseButtonRight  = 1 << 1
	MouseButtonMiddle = 1 << 2
)

// KeyboardReport is an 8-byte keyboard input report.
type KeyboardReport struct {
	Modifiers uint8
	Keys      [6]uint8 // Up to 6 simultaneous key codes
}

// KeyboardReportSize is the size of a keyboard report in bytes.
const KeyboardReportSize = 8

// MarshalTo writes the keyboard report to buf.
func (r *KeyboardReport) MarshalTo(buf []byte) int {
	if len(buf) < KeyboardReportSize {
		return 0
	}
	buf[0] = r.Modifiers
	buf[1] = 0
	copy(buf[2:8], r.Keys[:])
	return KeyboardReportSize
}

// Press adds key to the report. Returns false if all six slots are taken.
func (r *KeyboardReport) Press(key uint8) bool {
	for i, k := range r.Keys {
		switch k {
		case key:
			return true
		case 0:
			r.Keys[i] = key
			return true
		}
	}
	return false
}

// Release removes key from the report, keeping the remaining keys packed.
func (r *KeyboardReport) Release(key uint8) {
	for i, k := range r.Keys {
		if k == key {
			copy(r.Keys[i:], r.Keys[i+1:])
			r.Keys[len(r.Keys)-1] = 0
			return
		}
	}
}

// MouseReport is a 4-byte mouse input report.
type MouseReport struct {
	Buttons uint8
	X       int8
	Y       int8
	Wheel   int8
}

// MouseReportSize is the size of a mouse report in bytes.
const MouseReportSize = 4

// MarshalTo writes the mouse report to buf.
func (r *MouseReport) MarshalTo(buf []byte) int {
	if len(buf) < MouseReportSize {
		return 0
	}
	buf[0] = r.Buttons
	buf[1] = byte(r.X)
	buf[2] = byte(r.Y)
	buf[3] = byte(r.Wheel)
	return MouseReportSize
}
