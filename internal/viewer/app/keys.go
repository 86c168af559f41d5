package app

import "github.com/charmbracelet/bubbles/key"

// KeyMap defines the keyboard bindings for the viewer.
type KeyMap struct {
	Watch  key.Binding
	Replay key.Binding
	Info   key.Binding
	Debug  key.Binding
	Up     key.Binding
	Down   key.Binding
	Enter  key.Binding
	Escape key.Binding
	Quit   key.Binding
}

// DefaultKeyMap returns the default key bindings.
func DefaultKeyMap() KeyMap {
	return KeyMap{
		Watch: key.NewBinding(
			key.WithKeys("w", "/"),
			key.WithHelp("w", "watch url"),
		),
		Replay: key.NewBinding(
			key.WithKeys("r"),
			key.WithHelp("r", "re-request last url"),
		),
		Info: key.NewBinding(
			key.WithKeys("i"),
			key.WithHelp("i", "server info"),
		),
		Debug: key.NewBinding(
			key.WithKeys("d"),
			key.WithHelp("d", "event log"),
		),
		Up: key.NewBinding(
			key.WithKeys("k", "up"),
			key.WithHelp("k/↑", "scroll up"),
		),
		Down: key.NewBinding(
			key.WithKeys("j", "down"),
			key.WithHelp("j/↓", "scroll down"),
		),
		Enter: key.NewBinding(
			key.WithKeys("enter"),
			key.WithHelp("enter", "submit"),
		),
		Escape: key.NewBinding(
			key.WithKeys("esc"),
			key.WithHelp("esc", "close"),
		),
		Quit: key.NewBinding(
			key.WithKeys("q", "ctrl+c"),
			key.WithHelp("q", "quit"),
		),
	}
}

// Help lists the bindings shown in the footer.
func (k KeyMap) Help() []key.Binding {
	return []key.Binding{k.Watch, k.Replay, k.Info, k.Debug, k.Quit}
}
