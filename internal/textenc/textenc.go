// Package textenc decodes extractor output that is usually UTF-8 but
// sometimes arrives in the legacy Windows-1252 code page.
package textenc

import (
	"unicode/utf8"

	"golang.org/x/text/encoding/charmap"
)

// Encoding records which decoder produced a Decoded text.
type Encoding int

const (
	// UTF8 means the input was valid UTF-8 and was used as-is.
	UTF8 Encoding = iota
	// Windows1252 means the input was not valid UTF-8 and was decoded
	// byte-by-byte as Windows-1252.
	Windows1252
)

func (e Encoding) String() string {
	if e == Windows1252 {
		return "windows-1252"
	}
	return "utf-8"
}

// Decoded is the result of Decode.
type Decoded struct {
	Text     string
	Encoding Encoding
}

// Decode returns data as text, trying UTF-8 first and falling back to
// Windows-1252. It never fails: bytes without a Windows-1252 mapping decode
// to U+FFFD.
func Decode(data []byte) Decoded {
	if utf8.Valid(data) {
		return Decoded{Text: string(data), Encoding: UTF8}
	}

	out, err := charmap.Windows1252.NewDecoder().Bytes(data)
	if err != nil {
		// Invalid UTF-8 sequences become U+FFFD.
		return Decoded{Text: string([]rune(string(data))), Encoding: Windows1252}
	}
	return Decoded{Text: string(out), Encoding: Windows1252}
}
