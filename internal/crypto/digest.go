package crypto

import (
	"encoding/hex"
	"fmt"
	"strings"

	"golang.org/x/crypto/blake2b"
)

// LabelDigest returns a short stable digest of a filesystem label.
func LabelDigest(label string) string {
	sum := blake2b.Sum256([]byte(strings.TrimSpace(label)))
	return hex.EncodeToString(sum[:4])
}

// USBDeviceID derives the descriptor id of a partition from its node and label,
// so a relabelled volume on the same node gets a new identity.
func USBDeviceID(node, label string) string {
	return fmt.Sprintf("%s#%s", node, LabelDigest(label))
}
