package vhd

import (
	"bytes"

	"github.com/pkg/errors"
	"golang.org/x/text/encoding/unicode"
	"golang.org/x/text/transform"
)

// parentUnicodeNameSize is the fixed width, in bytes, of the
// sparse header's parent_unicode_name field.
const parentUnicodeNameSize = 512

var utf16BE = unicode.UTF16(unicode.BigEndian, unicode.IgnoreBOM)

// encodeUTF16BE encodes s as big-endian UTF-16 (with surrogate pairs
// for codepoints outside the BMP), appends a U+0000 terminator, and
// zero-pads the result to parentUnicodeNameSize bytes. It returns an
// error if the encoded name (plus terminator) does not fit.
func encodeUTF16BE(s string) ([parentUnicodeNameSize]byte, error) {
	var out [parentUnicodeNameSize]byte

	enc, err := utf16BE.NewEncoder().Bytes([]byte(s))
	if err != nil {
		return out, errors.Wrap(err, "vhd: encode parent_unicode_name")
	}

	// +2 for the trailing U+0000 terminator.
	if len(enc)+2 > parentUnicodeNameSize {
		return out, errors.Errorf("vhd: parent_unicode_name %q too long for 512-byte field", s)
	}

	copy(out[:], enc)
	return out, nil
}

// decodeUTF16BE decodes the 512-byte parent_unicode_name field: a
// FE FF prefix is a big-endian BOM (consumed), FF FE is a
// little-endian BOM (consumed, and the rest of the field is decoded
// as little-endian), otherwise the field is big-endian UTF-16 from
// offset 0. Decoding stops at the first U+0000.
func decodeUTF16BE(buf []byte) (string, error) {
	if len(buf) != parentUnicodeNameSize {
		return "", errors.Errorf("vhd: parent_unicode_name must be %d bytes, got %d", parentUnicodeNameSize, len(buf))
	}

	data := buf
	enc := unicode.UTF16(unicode.BigEndian, unicode.IgnoreBOM)
	switch {
	case len(buf) >= 2 && buf[0] == 0xFE && buf[1] == 0xFF:
		data = buf[2:]
	case len(buf) >= 2 && buf[0] == 0xFF && buf[1] == 0xFE:
		data = buf[2:]
		enc = unicode.UTF16(unicode.LittleEndian, unicode.IgnoreBOM)
	}

	decoded, _, err := transform.Bytes(enc.NewDecoder(), data)
	if err != nil {
		return "", errors.Wrap(err, "vhd: decode parent_unicode_name")
	}

	if i := bytes.IndexByte(decoded, 0); i >= 0 {
		decoded = decoded[:i]
	}
	return string(decoded), nil
}
