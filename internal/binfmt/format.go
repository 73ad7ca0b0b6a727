package binfmt

import (
	"encoding/binary"
	"io"
	"os"
)

// Format identifies a binary container format by its magic number.
type Format string

const (
	FormatELF     Format = "ELF"
	FormatMachO   Format = "Mach-O"
	FormatArchive Format = "Archive"
	FormatPE      Format = "PE"
	FormatUnknown Format = "Unknown"
)

// Mach-O magic numbers. The CIGAM forms are the byte-swapped counterparts
// seen when the file's endianness differs from the reader's.
const (
	machMagic32 = 0xfeedface
	machCigam32 = 0xcefaedfe
	machMagic64 = 0xfeedfacf
	machCigam64 = 0xcffaedfe
	fatMagic    = 0xcafebabe
	fatCigam    = 0xbebafeca
)

const arMagic = "!<arch>\n"

// Sniffer classifies files by magic number without parsing them.
type Sniffer struct{}

// NewSniffer creates a format sniffer.
func NewSniffer() *Sniffer {
	return &Sniffer{}
}

// Classify reads up to 16 bytes from the start of the file and matches them
// against the known magic numbers. Unreadable files and unrecognized magics
// both classify as FormatUnknown; Classify never returns an error. A check
// whose magic needs more bytes than the file holds is skipped.
func (s *Sniffer) Classify(path string) Format {
	f, err := os.Open(path)
	if err != nil {
		return FormatUnknown
	}
	defer f.Close()

	header := make([]byte, 16)
	n, err := io.ReadFull(f, header)
	if err != nil && err != io.ErrUnexpectedEOF {
		return FormatUnknown
	}
	return classifyHeader(header[:n])
}

func classifyHeader(header []byte) Format {
	if len(header) >= 4 && header[0] == 0x7f && header[1] == 'E' && header[2] == 'L' && header[3] == 'F' {
		return FormatELF
	}
	if len(header) >= len(arMagic) && string(header[:len(arMagic)]) == arMagic {
		return FormatArchive
	}
	if len(header) >= 2 && header[0] == 'M' && header[1] == 'Z' {
		return FormatPE
	}
	if len(header) >= 4 {
		// The magic set is closed under byte swap, so one fixed-endian read
		// covers both byte orders.
		switch binary.LittleEndian.Uint32(header) {
		case machMagic32, machCigam32, machMagic64, machCigam64, fatMagic, fatCigam:
			return FormatMachO
		}
	}
	return FormatUnknown
}
