package volume

import (
	"fmt"
	"strings"
)

// cardID combines the volume label with the filesystem id so two cards with
// the factory default label ("NO NAME", "Untitled") stay distinct.
func cardID(label string, fsid [2]int32) string {
	label = strings.ToUpper(strings.Join(strings.Fields(label), "_"))
	return fmt.Sprintf("%s-%08x%08x", label, uint32(fsid[0]), uint32(fsid[1]))
}
