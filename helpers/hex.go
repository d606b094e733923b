package helpers

import (
	"encoding/hex"
	"strings"
)

// MustHex decodes fixture bytes, spaces and newlines between bytes are allowed:
// "01 00 00 1b". Panics on bad input, for tests and constants only.
func MustHex(s string) []byte {
	b, err := hex.DecodeString(strings.Join(strings.Fields(s), ""))
	if err != nil {
		panic(err)
	}
	return b
}
