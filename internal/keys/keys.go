package keys

import "github.com/charmbracelet/bubbles/key"

// KeyMap defines the keybindings of the outbox views.
type KeyMap struct {
	// Navigation
	Down key.Binding
	Up   key.Binding

	// Quit
	Quit key.Binding

	// Help toggle
	Help key.Binding

	// Queue control
	Drain      key.Binding
	Refresh    key.Binding
	Remove     key.Binding
	HumanCheck key.Binding

	// Cycles all / entity / global
	FilterQueue key.Binding
}

// DefaultKeyMap returns the default set of keybindings.
func DefaultKeyMap() *KeyMap {
	return &KeyMap{
		Down: key.NewBinding(
			key.WithKeys("j", "down"),
			key.WithHelp("j/↓", "down"),
		),
		Up: key.NewBinding(
			key.WithKeys("k", "up"),
			key.WithHelp("k/↑", "up"),
		),
		Quit: key.NewBinding(
			key.WithKeys("q", "ctrl+c"),
			key.WithHelp("q", "quit"),
		),
		Help: key.NewBinding(
			key.WithKeys("?"),
			key.WithHelp("?", "toggle help"),
		),
		Drain: key.NewBinding(
			key.WithKeys("d"),
			key.WithHelp("d", "drain now"),
		),
		Refresh: key.NewBinding(
			key.WithKeys("r"),
			key.WithHelp("r", "refresh"),
		),
		Remove: key.NewBinding(
			key.WithKeys("x"),
			key.WithHelp("x", "cancel entity tasks"),
		),
		HumanCheck: key.NewBinding(
			key.WithKeys("p"),
			key.WithHelp("p", "pause/resume"),
		),
		FilterQueue: key.NewBinding(
			key.WithKeys("tab"),
			key.WithHelp("tab", "cycle queue"),
		),
	}
}

// ShortHelp returns the most essential keybindings for the compact help view.
func (k *KeyMap) ShortHelp() []key.Binding {
	return []key.Binding{
		k.Up, k.Down, k.Drain, k.Quit, k.Help,
	}
}

// FullHelp returns all keybindings grouped by category for the expanded
// help view.
func (k *KeyMap) FullHelp() [][]key.Binding {
	return [][]key.Binding{
		{k.Up, k.Down, k.FilterQueue, k.Quit},
		{k.Drain, k.Refresh, k.Remove, k.HumanCheck, k.Help},
	}
}
