package scanner

// key is the unshifted and shifted rune of one key.
type key struct {
	normal, shifted rune
}

// hidUsages maps USB HID keyboard usage ids (page 0x07) to runes.
var hidUsages = func() map[byte]key {
	m := make(map[byte]key)
	for i := byte(0); i < 26; i++ {
		m[0x04+i] = key{rune('a' + i), rune('A' + i)}
	}
	digits := "1234567890"
	shiftedDigits := "!@#$%^&*()"
	for i := 0; i < 10; i++ {
		m[0x1e+byte(i)] = key{rune(digits[i]), rune(shiftedDigits[i])}
	}
	m[0x2c] = key{' ', ' '}
	m[0x2d] = key{'-', '_'}
	m[0x2e] = key{'=', '+'}
	m[0x2f] = key{'[', '{'}
	m[0x30] = key{']', '}'}
	m[0x31] = key{'\\', '|'}
	m[0x33] = key{';', ':'}
	m[0x34] = key{'\'', '"'}
	m[0x35] = key{'`', '~'}
	m[0x36] = key{',', '<'}
	m[0x37] = key{'.', '>'}
	m[0x38] = key{'/', '?'}
	m[0x54] = key{'/', '/'}
	m[0x55] = key{'*', '*'}
	m[0x56] = key{'-', '-'}
	m[0x57] = key{'+', '+'}
	for i := 0; i < 9; i++ {
		m[0x59+byte(i)] = key{rune('1' + i), rune('1' + i)}
	}
	m[0x62] = key{'0', '0'}
	m[0x63] = key{'.', '.'}
	return m
}()

const (
	hidEnter   = 0x28
	hidKPEnter = 0x58

	hidLeftShift  = 0x02
	hidRightShift = 0x20
)

func hidReport(usage byte, shift bool) Report {
	if usage == hidEnter || usage == hidKPEnter {
		return Report{Terminator: true}
	}
	k, ok := hidUsages[usage]
	if !ok {
		return Report{}
	}
	if shift {
		return Report{Rune: k.shifted}
	}
	return Report{Rune: k.normal}
}

// bootReportDecoder turns 8-byte boot keyboard reports into keystrokes.
// Scanners hold a key across several reports, so only usages absent from
// the previous report count as presses.
type bootReportDecoder struct {
	prev [6]byte
}

func (d *bootReportDecoder) decode(rep []byte) []Report {
	if len(rep) < 8 {
		return nil
	}
	mod := rep[0]
	shift := mod&(hidLeftShift|hidRightShift) != 0

	var keys [6]byte
	copy(keys[:], rep[2:8])

	var out []Report
	for _, k := range keys {
		// 0x01 is the keyboard rollover error code.
		if k <= 0x01 || d.held(k) {
			continue
		}
		if r := hidReport(k, shift); r.Terminator || r.Rune != 0 {
			out = append(out, r)
		}
	}
	d.prev = keys
	return out
}

func (d *bootReportDecoder) held(k byte) bool {
	for _, p := range d.prev {
		if p == k {
			return true
		}
	}
	return false
}

// evdevKeys maps Linux input-event key codes to runes.
var evdevKeys = map[uint16]key{
	2: {'1', '!'}, 3: {'2', '@'}, 4: {'3', '#'}, 5: {'4', '$'}, 6: {'5', '%'},
	7: {'6', '^'}, 8: {'7', '&'}, 9: {'8', '*'}, 10: {'9', '('}, 11: {'0', ')'},
	12: {'-', '_'}, 13: {'=', '+'},
	16: {'q', 'Q'}, 17: {'w', 'W'}, 18: {'e', 'E'}, 19: {'r', 'R'}, 20: {'t', 'T'},
	21: {'y', 'Y'}, 22: {'u', 'U'}, 23: {'i', 'I'}, 24: {'o', 'O'}, 25: {'p', 'P'},
	26: {'[', '{'}, 27: {']', '}'},
	30: {'a', 'A'}, 31: {'s', 'S'}, 32: {'d', 'D'}, 33: {'f', 'F'}, 34: {'g', 'G'},
	35: {'h', 'H'}, 36: {'j', 'J'}, 37: {'k', 'K'}, 38: {'l', 'L'},
	39: {';', ':'}, 40: {'\'', '"'}, 41: {'`', '~'}, 43: {'\\', '|'},
	44: {'z', 'Z'}, 45: {'x', 'X'}, 46: {'c', 'C'}, 47: {'v', 'V'}, 48: {'b', 'B'},
	49: {'n', 'N'}, 50: {'m', 'M'},
	51: {',', '<'}, 52: {'.', '>'}, 53: {'/', '?'},
	55: {'*', '*'}, 57: {' ', ' '},
	71: {'7', '7'}, 72: {'8', '8'}, 73: {'9', '9'}, 74: {'-', '-'},
	75: {'4', '4'}, 76: {'5', '5'}, 77: {'6', '6'}, 78: {'+', '+'},
	79: {'1', '1'}, 80: {'2', '2'}, 81: {'3', '3'}, 82: {'0', '0'}, 83: {'.', '.'},
	98: {'/', '/'},
}

const (
	evKeyEnter      = 28
	evKeyKPEnter    = 96
	evKeyLeftShift  = 42
	evKeyRightShift = 54
)

// evdevKeyState tracks shift across input events.
type evdevKeyState struct {
	shift bool
}

// handle consumes one EV_KEY event (value 1 press, 0 release, 2 repeat) and
// returns the resulting report, if any.
func (s *evdevKeyState) handle(code uint16, value int32) (Report, bool) {
	if code == evKeyLeftShift || code == evKeyRightShift {
		s.shift = value != 0
		return Report{}, false
	}
	if value != 1 {
		return Report{}, false
	}
	if code == evKeyEnter || code == evKeyKPEnter {
		return Report{Terminator: true}, true
	}
	k, ok := evdevKeys[code]
	if !ok {
		return Report{}, false
	}
	if s.shift {
		return Report{Rune: k.shifted}, true
	}
	return Report{Rune: k.normal}, true
}
