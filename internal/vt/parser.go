package vt

// The parser is a table-driven state machine in the style of the DEC VT500
// parser: every (state, byte class) pair maps to a next state and one
// action from a closed set. Pairs that are not listed reset to ground and
// drop the byte.

type state uint8

const (
	stGround state = iota
	stEscape
	stEscapeIntermediate
	stCSIEntry
	stCSIParam
	stCSIIntermediate
	stCSIIgnore
	stOSCString
	stDCSEntry
	stDCSPassthrough
	stIgnoreString
	numStates
)

var stateNames = [numStates]string{
	"ground", "escape", "escape-intermediate", "csi-entry", "csi-param",
	"csi-intermediate", "csi-ignore", "osc-string", "dcs-entry",
	"dcs-passthrough", "ignore-string",
}

func (s state) String() string {
	if s < numStates {
		return stateNames[s]
	}
	return "invalid"
}

type byteClass uint8

const (
	clExecute      byteClass = iota // C0 controls not listed below
	clBEL                           // 0x07
	clCancel                        // CAN, SUB
	clESC                           // 0x1b
	clIntermediate                  // 0x20-0x2f
	clDigit                         // 0x30-0x39
	clColon                         // 0x3a
	clSemicolon                     // 0x3b
	clPrivate                       // 0x3c-0x3f
	clCSI                           // '['
	clOSC                           // ']'
	clDCS                           // 'P'
	clST                            // '\\'
	clSOS                           // 'X', '^', '_'
	clFinal                         // other 0x40-0x7e
	clDEL                           // 0x7f
	clHigh                          // 0x80-0xff
	numClasses
)

var classOf [256]byteClass

type action uint8

const (
	actNone action = iota
	actPrint
	actExecute
	actClear
	actCollect
	actParam
	actEscDispatch
	actCSIDispatch
	actOSCStart
	actOSCPut
	actOSCEnd
	actHook
	actPut
	actUnhook
	actIgnore
)

type transition struct {
	next state
	act  action
}

var table [numStates][numClasses]transition

var finals = []byteClass{clCSI, clOSC, clDCS, clST, clSOS, clFinal}

func init() {
	for b := 0; b < 256; b++ {
		classOf[b] = classify(byte(b))
	}
	buildTable()
}

func classify(b byte) byteClass {
	switch {
	case b == 0x07:
		return clBEL
	case b == 0x18 || b == 0x1a:
		return clCancel
	case b == 0x1b:
		return clESC
	case b < 0x20:
		return clExecute
	case b <= 0x2f:
		return clIntermediate
	case b <= 0x39:
		return clDigit
	case b == ':':
		return clColon
	case b == ';':
		return clSemicolon
	case b <= 0x3f:
		return clPrivate
	case b == '[':
		return clCSI
	case b == ']':
		return clOSC
	case b == 'P':
		return clDCS
	case b == '\\':
		return clST
	case b == 'X' || b == '^' || b == '_':
		return clSOS
	case b <= 0x7e:
		return clFinal
	case b == 0x7f:
		return clDEL
	default:
		return clHigh
	}
}

func on(s state, classes []byteClass, next state, act action) {
	for _, c := range classes {
		table[s][c] = transition{next, act}
	}
}

func stay(s state, classes []byteClass, act action) {
	on(s, classes, s, act)
}

func buildTable() {
	printable := []byteClass{clIntermediate, clDigit, clColon, clSemicolon, clPrivate, clCSI, clOSC, clDCS, clST, clSOS, clFinal}
	params := []byteClass{clDigit, clColon, clSemicolon}
	c0 := []byteClass{clExecute, clBEL}

	// Every state starts out as "unexpected byte: back to ground".
	for s := range table {
		for c := range table[s] {
			table[s][c] = transition{stGround, actNone}
		}
	}

	stay(stGround, printable, actPrint)
	stay(stGround, []byteClass{clHigh}, actPrint)
	stay(stGround, c0, actExecute)
	stay(stGround, []byteClass{clDEL}, actIgnore)

	stay(stEscape, c0, actExecute)
	stay(stEscape, []byteClass{clDEL}, actIgnore)
	on(stEscape, []byteClass{clIntermediate}, stEscapeIntermediate, actCollect)
	on(stEscape, []byteClass{clCSI}, stCSIEntry, actClear)
	on(stEscape, []byteClass{clOSC}, stOSCString, actOSCStart)
	on(stEscape, []byteClass{clDCS}, stDCSEntry, actClear)
	on(stEscape, []byteClass{clSOS}, stIgnoreString, actNone)
	on(stEscape, []byteClass{clDigit, clColon, clSemicolon, clPrivate, clST, clFinal}, stGround, actEscDispatch)

	stay(stEscapeIntermediate, c0, actExecute)
	stay(stEscapeIntermediate, []byteClass{clDEL}, actIgnore)
	stay(stEscapeIntermediate, []byteClass{clIntermediate}, actCollect)
	on(stEscapeIntermediate, []byteClass{clDigit, clColon, clSemicolon, clPrivate}, stGround, actEscDispatch)
	on(stEscapeIntermediate, finals, stGround, actEscDispatch)

	stay(stCSIEntry, c0, actExecute)
	stay(stCSIEntry, []byteClass{clDEL}, actIgnore)
	on(stCSIEntry, params, stCSIParam, actParam)
	on(stCSIEntry, []byteClass{clPrivate}, stCSIParam, actCollect)
	on(stCSIEntry, []byteClass{clIntermediate}, stCSIIntermediate, actCollect)
	on(stCSIEntry, finals, stGround, actCSIDispatch)

	stay(stCSIParam, c0, actExecute)
	stay(stCSIParam, []byteClass{clDEL}, actIgnore)
	stay(stCSIParam, params, actParam)
	on(stCSIParam, []byteClass{clPrivate}, stCSIIgnore, actNone)
	on(stCSIParam, []byteClass{clIntermediate}, stCSIIntermediate, actCollect)
	on(stCSIParam, finals, stGround, actCSIDispatch)

	stay(stCSIIntermediate, c0, actExecute)
	stay(stCSIIntermediate, []byteClass{clDEL}, actIgnore)
	stay(stCSIIntermediate, []byteClass{clIntermediate}, actCollect)
	on(stCSIIntermediate, []byteClass{clDigit, clColon, clSemicolon, clPrivate}, stCSIIgnore, actNone)
	on(stCSIIntermediate, finals, stGround, actCSIDispatch)

	stay(stCSIIgnore, c0, actExecute)
	stay(stCSIIgnore, []byteClass{clDEL, clIntermediate, clDigit, clColon, clSemicolon, clPrivate}, actIgnore)
	on(stCSIIgnore, finals, stGround, actNone)

	stay(stOSCString, printable, actOSCPut)
	stay(stOSCString, []byteClass{clHigh, clDEL}, actOSCPut)
	stay(stOSCString, []byteClass{clExecute}, actIgnore)
	on(stOSCString, []byteClass{clBEL}, stGround, actOSCEnd)

	stay(stDCSEntry, []byteClass{clExecute, clBEL, clDEL}, actIgnore)
	stay(stDCSEntry, append(params, clPrivate, clIntermediate), actCollect)
	on(stDCSEntry, finals, stDCSPassthrough, actHook)

	stay(stDCSPassthrough, printable, actPut)
	stay(stDCSPassthrough, []byteClass{clExecute, clBEL, clHigh}, actPut)
	stay(stDCSPassthrough, []byteClass{clDEL}, actIgnore)

	stay(stIgnoreString, printable, actIgnore)
	stay(stIgnoreString, []byteClass{clExecute, clBEL, clDEL, clHigh}, actIgnore)

	// ESC and CAN/SUB behave the same from every state. Leaving a string
	// state through ESC terminates the string; the following '\' is then
	// dispatched as a no-op ESC sequence.
	for s := state(0); s < numStates; s++ {
		act := actClear
		switch s {
		case stOSCString:
			act = actOSCEnd
		case stDCSPassthrough:
			act = actUnhook
		}
		table[s][clESC] = transition{stEscape, act}
		table[s][clCancel] = transition{stGround, actNone}
	}
	table[stGround][clCancel] = transition{stGround, actIgnore}
}
