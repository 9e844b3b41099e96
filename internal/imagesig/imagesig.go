// Package imagesig identifies image files by magic-number sniffing.
//
// The check reads only the first 8 bytes and is a cheap gate before any
// network call, not a full decode. Several raw vendors (CR2, NEF, ARW)
// share TIFF's byte-order marker, so they are indistinguishable here;
// that ambiguity is accepted.
package imagesig

import (
	"bytes"
	"encoding/hex"
	"io"
	"os"

	"go.uber.org/zap"

	"github.com/shutterlink/shutterlink/internal/logging"
)

const sniffLen = 8

// signature is one known container prefix.
type signature struct {
	format string
	prefix []byte
}

func mustHex(s string) []byte {
	b, err := hex.DecodeString(s)
	if err != nil {
		panic(err)
	}
	return b
}

var signatures = []signature{
	{"jpeg", mustHex("ffd8ff")},
	{"png", mustHex("89504e47")},
	{"gif", mustHex("47494638")},
	{"riff", mustHex("52494646")}, // WEBP and other RIFF containers
	{"tiff", mustHex("49492a00")}, // little-endian TIFF, also CR2/ARW
	{"tiff", mustHex("4d4d002a")}, // big-endian TIFF, also NEF/ARW
	{"bmp", mustHex("424d")},
	{"cr3", mustHex("66747970637278")}, // "ftypcrx"
}

// Sniff matches a prefix buffer against the signature table and returns
// the detected format name.
func Sniff(prefix []byte) (string, bool) {
	for _, sig := range signatures {
		if bytes.HasPrefix(prefix, sig.prefix) {
			return sig.format, true
		}
	}
	return "", false
}

// IsImage reports whether the file at path starts with a known image
// signature. It never returns an error: any read failure is logged and
// treated as "not an image".
func IsImage(path string) bool {
	f, err := os.Open(path)
	if err != nil {
		logging.Error("failed to open file for image validation",
			zap.String("path", path), zap.Error(err))
		return false
	}
	defer f.Close()

	buf := make([]byte, sniffLen)
	n, err := io.ReadFull(f, buf)
	if err != nil && err != io.ErrUnexpectedEOF {
		// Zero-byte file or unreadable: not an image.
		if err != io.EOF {
			logging.Error("failed to read file header",
				zap.String("path", path), zap.Error(err))
		}
		return false
	}

	_, ok := Sniff(buf[:n])
	return ok
}
