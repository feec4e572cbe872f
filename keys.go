package termsnap

// Key is an input token understood by SendKeys.
type Key string

// Special key constants for use with Press.
const (
	Enter     Key = "enter"
	Escape    Key = "escape"
	Tab       Key = "tab"
	Backspace Key = "backspace"
	Up        Key = "up"
	Down      Key = "down"
	Left      Key = "left"
	Right     Key = "right"
	Home      Key = "home"
	End       Key = "end"
	PageUp    Key = "pageup"
	PageDown  Key = "pagedown"
	Space     Key = "space"
	Insert    Key = "insert"
	Delete    Key = "delete"

	F1  Key = "f1"
	F2  Key = "f2"
	F3  Key = "f3"
	F4  Key = "f4"
	F5  Key = "f5"
	F6  Key = "f6"
	F7  Key = "f7"
	F8  Key = "f8"
	F9  Key = "f9"
	F10 Key = "f10"
	F11 Key = "f11"
	F12 Key = "f12"
)

// Ctrl returns the key for Ctrl+<char>.
func Ctrl(c byte) Key {
	return Key("ctrl+" + string(rune(c)))
}

// Alt returns the key for Alt+<char>.
func Alt(c byte) Key {
	return Key("alt+" + string(rune(c)))
}
