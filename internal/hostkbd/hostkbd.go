// Package hostkbd inspects the host keyboard configuration before a
// calibration run. The only question asked is whether right-Alt acts as a
// plain Alt modifier (no third level), in which case probing right-Alt
// combinations yields nothing.
package hostkbd

import (
	"strings"
)

// KeymapInfo is the host keymap as reported by the system.
type KeymapInfo struct {
	Layout  string
	Variant string
	Options string
}

// Static is an Inspector with a fixed answer, used when the user overrides
// detection in the configuration.
type Static bool

// RightAltIsModifier returns the configured answer.
func (s Static) RightAltIsModifier() (bool, error) {
	return bool(s), nil
}

// layoutsWithoutLevel3 are XKB layouts whose default variant maps right-Alt
// to Alt_R.
var layoutsWithoutLevel3 = map[string]bool{
	"us": true,
	"ru": true,
	"ua": true,
	"jp": true,
	"kr": true,
	"cn": true,
	"th": true,
}

// RightAltIsModifier decides from an XKB description whether right-Alt is a
// plain modifier. Explicit lv3 options win over the layout default. Only the
// first layout of a comma separated list is considered since that is the one
// active when calibration starts.
func (k KeymapInfo) RightAltIsModifier() bool {
	for _, opt := range strings.Split(k.Options, ",") {
		opt = strings.TrimSpace(opt)
		switch {
		case opt == "lv3:ralt_alt":
			return true
		case strings.HasPrefix(opt, "lv3:ralt_switch"):
			return false
		}
	}

	layout := first(k.Layout)
	variant := first(k.Variant)
	if strings.Contains(variant, "intl") || strings.Contains(variant, "altgr") {
		return false
	}
	return layoutsWithoutLevel3[layout]
}

func first(list string) string {
	if i := strings.IndexByte(list, ','); i >= 0 {
		list = list[:i]
	}
	return strings.ToLower(strings.TrimSpace(list))
}
