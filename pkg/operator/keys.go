package operator

import "strings"

var keyAliases = map[string]string{
	"control":    "ctrl",
	"command":    "cmd",
	"meta":       "cmd",
	"super":      "cmd",
	"win":        "cmd",
	"windows":    "cmd",
	"option":     "alt",
	"return":     "enter",
	"esc":        "escape",
	"del":        "delete",
	"bksp":       "backspace",
	"arrowup":    "up",
	"arrowdown":  "down",
	"arrowleft":  "left",
	"arrowright": "right",
	"pgup":       "pageup",
	"pgdn":       "pagedown",
	"page_up":    "pageup",
	"page_down":  "pagedown",
	"spacebar":   "space",
}

// NormalizeKeys splits a hotkey string such as "ctrl+c" or "ctrl c" into
// canonical lower-case key names, remapping the primary modifier for the
// platform: darwin uses cmd, everything else ctrl.
func NormalizeKeys(hotkey, platform string) []string {
	fields := strings.FieldsFunc(strings.ToLower(hotkey), func(r rune) bool {
		return r == ' ' || r == '+'
	})

	keys := make([]string, 0, len(fields))
	for _, k := range fields {
		if alias, ok := keyAliases[k]; ok {
			k = alias
		}
		switch {
		case platform == "darwin" && k == "ctrl":
			k = "cmd"
		case platform != "darwin" && k == "cmd":
			k = "ctrl"
		}
		keys = append(keys, k)
	}
	return keys
}
