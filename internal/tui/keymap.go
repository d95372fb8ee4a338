package tui

// Command is one of the fixed engine operations a key can bind to. The
// set is closed: a keymap picks bindings, it never adds behavior.
type Command int

const (
	CmdNone Command = iota
	CmdQuit
	CmdSelectNext
	CmdSelectPrev
	CmdOpen
	CmdClose
	CmdNextUnread
	CmdSetMark
	CmdJumpMark
	CmdSwapMark
	CmdNextPage
	CmdPrevPage
	CmdGotoPage
	CmdRefresh
	CmdToggleStar
	CmdToggleStarThread
	CmdToggleRaw
	CmdHelp
	CmdPagerDown
	CmdPagerUp

	// cmdGroupBase anchors the group-tab commands; GroupCommand(n) is
	// the command selecting tab n.
	cmdGroupBase Command = 100
)

// GroupCommand returns the command that activates group tab n
// (0-based).
func GroupCommand(n int) Command {
	return cmdGroupBase + Command(n)
}

// GroupIndex reports whether cmd selects a group tab and which one.
func GroupIndex(cmd Command) (int, bool) {
	if cmd < cmdGroupBase {
		return 0, false
	}
	return int(cmd - cmdGroupBase), true
}

// Keymap maps bubbletea key strings to engine commands.
type Keymap map[string]Command

// DefaultKeymap mirrors the classic bindings: enter/space open, x
// close, n/p move, N jumps to the next unread, angle brackets change
// pages, digits switch group tabs.
func DefaultKeymap() Keymap {
	km := Keymap{
		"enter":  CmdOpen,
		" ":      CmdOpen,
		"x":      CmdClose,
		"esc":    CmdClose,
		"q":      CmdQuit,
		"ctrl+c": CmdQuit,
		"n":      CmdSelectNext,
		"j":      CmdSelectNext,
		"down":   CmdSelectNext,
		"p":      CmdSelectPrev,
		"k":      CmdSelectPrev,
		"up":     CmdSelectPrev,
		"N":      CmdNextUnread,
		"tab":    CmdNextUnread,
		"m":      CmdSetMark,
		"'":      CmdJumpMark,
		";":      CmdSwapMark,
		">":      CmdNextPage,
		"right":  CmdNextPage,
		"<":      CmdPrevPage,
		"left":   CmdPrevPage,
		"g":      CmdGotoPage,
		"R":      CmdRefresh,
		"s":      CmdToggleStar,
		"S":      CmdToggleStarThread,
		"r":      CmdToggleRaw,
		"?":      CmdHelp,
		"pgdown": CmdPagerDown,
		"ctrl+f": CmdPagerDown,
		"pgup":   CmdPagerUp,
		"ctrl+b": CmdPagerUp,
	}
	for i := 0; i < 9; i++ {
		km[string(rune('1'+i))] = GroupCommand(i)
	}
	return km
}
