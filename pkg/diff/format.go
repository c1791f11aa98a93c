package diff

import (
	"fmt"
	"strings"
)

// FormatSummary renders one line per changed key:
//
//	owner/pkg rev-1..rev-2:
//	  + keywords     (added)
//	  ~ title        (modified)
//	  - homepage     (removed)
func FormatSummary(d *MetadataDiff) string {
	if len(d.Changes) == 0 {
		return ""
	}
	var b strings.Builder
	fmt.Fprintf(&b, "%s %s..%s:\n", d.ObjectID, d.From, d.To)
	for _, c := range d.Changes {
		fmt.Fprintf(&b, "  %s %s     (%s)\n", marker(c.Type), c.Key, c.Type)
	}
	return b.String()
}

func marker(t ChangeType) string {
	switch t {
	case Added:
		return "+"
	case Removed:
		return "-"
	default:
		return "~"
	}
}

// FormatLines renders a unified-style diff of the changed values:
//
//	--- a/datapackage.json::title
//	+++ b/datapackage.json::title
//	-"Old"
//	+"New"
func FormatLines(d *MetadataDiff) string {
	var b strings.Builder
	for _, c := range d.Changes {
		if c.Type != Added {
			fmt.Fprintf(&b, "--- a/datapackage.json::%s\n", c.Key)
		}
		if c.Type != Removed {
			fmt.Fprintf(&b, "+++ b/datapackage.json::%s\n", c.Key)
		}
		for _, l := range Lines(c.Before, c.After) {
			switch l.Type {
			case Delete:
				fmt.Fprintf(&b, "-%s\n", l.Content)
			case Insert:
				fmt.Fprintf(&b, "+%s\n", l.Content)
			case Equal:
				fmt.Fprintf(&b, " %s\n", l.Content)
			}
		}
	}
	return b.String()
}
