package tui

import "github.com/charmbracelet/bubbles/key"

// KeyMap defines the key bindings of the watch view.
type KeyMap struct {
	LineUp   key.Binding // Recovery: resume one line earlier.
	LineDown key.Binding // Recovery: resume one line later.
	Confirm  key.Binding
	Skip     key.Binding
	Dismiss  key.Binding
	PageUp   key.Binding
	PageDown key.Binding
	Bottom   key.Binding
	Refresh  key.Binding
	Quit     key.Binding
}

// DefaultKeyMap is the built-in key binding set.
var DefaultKeyMap = KeyMap{
	LineUp: key.NewBinding(
		key.WithKeys("k", "up"),
		key.WithHelp("k/↑", "line -1"),
	),
	LineDown: key.NewBinding(
		key.WithKeys("j", "down"),
		key.WithHelp("j/↓", "line +1"),
	),
	Confirm: key.NewBinding(
		key.WithKeys("enter"),
		key.WithHelp("enter", "recover"),
	),
	Skip: key.NewBinding(
		key.WithKeys("s"),
		key.WithHelp("s", "skip"),
	),
	Dismiss: key.NewBinding(
		key.WithKeys("esc"),
		key.WithHelp("esc", "dismiss"),
	),
	PageUp: key.NewBinding(
		key.WithKeys("ctrl+u", "pgup"),
		key.WithHelp("C-u", "page up"),
	),
	PageDown: key.NewBinding(
		key.WithKeys("ctrl+d", "pgdown"),
		key.WithHelp("C-d", "page down"),
	),
	Bottom: key.NewBinding(
		key.WithKeys("G", "end"),
		key.WithHelp("G", "follow"),
	),
	Refresh: key.NewBinding(
		key.WithKeys("r"),
		key.WithHelp("r", "refresh"),
	),
	Quit: key.NewBinding(
		key.WithKeys("q", "ctrl+c"),
		key.WithHelp("q", "quit"),
	),
}
