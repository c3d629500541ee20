package browser

import "github.com/go-rod/rod/lib/input"

// keyFromName maps a key name from the agent to rod input keys. Unknown
// names type the string literally, one rune at a time.
func keyFromName(name string) []input.Key {
	switch name {
	case "Enter", "Return":
		return []input.Key{input.Enter}
	case "Tab":
		return []input.Key{input.Tab}
	case "Escape", "Esc":
		return []input.Key{input.Escape}
	case "Backspace":
		return []input.Key{input.Backspace}
	case "Delete":
		return []input.Key{input.Delete}
	case "ArrowUp", "Up":
		return []input.Key{input.ArrowUp}
	case "ArrowDown", "Down":
		return []input.Key{input.ArrowDown}
	case "ArrowLeft", "Left":
		return []input.Key{input.ArrowLeft}
	case "ArrowRight", "Right":
		return []input.Key{input.ArrowRight}
	case "PageUp":
		return []input.Key{input.PageUp}
	case "PageDown":
		return []input.Key{input.PageDown}
	case "Home":
		return []input.Key{input.Home}
	case "End":
		return []input.Key{input.End}
	}
	keys := make([]input.Key, 0, len(name))
	for _, r := range name {
		keys = append(keys, input.Key(r))
	}
	return keys
}
