package volumes

import "strings"

var hemiPrefixes = []struct {
	prefix string
	hemi   Hemisphere
}{
	{"left-", HemiLeft},
	{"right-", HemiRight},
	{"ctx-lh-", HemiLeft},
	{"ctx-rh-", HemiRight},
	{"lh-", HemiLeft},
	{"rh-", HemiRight},
	{"lh_", HemiLeft},
	{"rh_", HemiRight},
}

// NormalizeRegion maps a tool label to the canonical <hemi>_<label> name.
// A Left-/Right- style prefix wins over def, the hemisphere implied by the table.
func NormalizeRegion(def Hemisphere, label string) (string, Hemisphere) {
	l := strings.ToLower(strings.TrimSpace(label))
	hemi := def
	for _, p := range hemiPrefixes {
		if strings.HasPrefix(l, p.prefix) {
			hemi = p.hemi
			l = l[len(p.prefix):]
			break
		}
	}
	if hemi == "" {
		hemi = HemiBoth
	}

	var b strings.Builder
	b.Grow(len(l) + 3)
	b.WriteString(string(hemi))
	b.WriteByte('_')
	lastSep := true
	for _, r := range l {
		switch {
		case r == '-' || r == '.' || r == '_' || r == ' ' || r == '/':
			if !lastSep {
				b.WriteByte('_')
				lastSep = true
			}
		default:
			b.WriteRune(r)
			lastSep = false
		}
	}
	return strings.TrimRight(b.String(), "_"), hemi
}
