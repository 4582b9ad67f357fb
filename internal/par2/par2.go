// Package par2 parses PAR2 recovery sets.
//
// Only the metadata needed to verify a download is interpreted: the
// main packet, file descriptions, per-slice checksums, recovery slice
// headers and the creator string.  Every length read from the input is
// checked against the bytes that remain before it is used, so a hostile
// file yields a ValidationError instead of a panic.
package par2

import (
	"bytes"
	"crypto/md5"
	"encoding/binary"
	"encoding/hex"

	ncerr "gonntp/internal/errors"
)

const format = "par2"

// HeaderSize is the fixed size of a packet header.
const HeaderSize = 64

// MaxSlices is the largest number of input slices a set may have.
const MaxSlices = 32768

// Magic starts every packet.
var Magic = []byte("PAR2\x00PKT")

// ── Identifiers ──────────────────────────────────────────────────────

// ID is a 16-byte recovery set or file identifier.
type ID [16]byte

func (id ID) String() string { return hex.EncodeToString(id[:]) }

// PacketType is the 16-byte type field of a packet header.
type PacketType [16]byte

func packetType(s string) PacketType {
	var t PacketType
	copy(t[:], s)
	return t
}

var (
	TypeMain          = packetType("PAR 2.0\x00Main")
	TypeFileDesc      = packetType("PAR 2.0\x00FileDesc")
	TypeIFSC          = packetType("PAR 2.0\x00IFSC")
	TypeRecoverySlice = packetType("PAR 2.0\x00RecvSlic")
	TypeCreator       = packetType("PAR 2.0\x00Creator")
)

func (t PacketType) String() string {
	return string(bytes.TrimRight(t[8:], "\x00"))
}

// ── Packets ──────────────────────────────────────────────────────────

// Main describes the recovery set.
type Main struct {
	SliceSize      uint64
	FileIDs        []ID // recoverable files, in set order
	NonRecoverable []ID
}

// FileDesc describes one file of the set.
type FileDesc struct {
	ID      ID
	Hash    [16]byte // MD5 of the whole file
	Hash16k [16]byte // MD5 of the first 16 KiB
	Length  uint64
	Name    string
}

// SliceChecksum is the MD5 and CRC32 of one input slice.  The last
// slice of a file is hashed as if zero-padded to the slice size.
type SliceChecksum struct {
	MD5   [16]byte
	CRC32 uint32
}

// IFSC holds the slice checksums of one file.
type IFSC struct {
	FileID ID
	Slices []SliceChecksum
}

// RecoverySlice is a recovery block.  Data aliases the parsed buffer.
type RecoverySlice struct {
	Exponent uint32
	Data     []byte
}

// File is a parsed PAR2 file, or several merged volumes of one set.
type File struct {
	SetID     ID
	Main      *Main
	Files     map[ID]*FileDesc
	Checksums map[ID]*IFSC
	Recovery  []RecoverySlice
	Creator   string

	// Damaged counts packets skipped because their MD5 did not match.
	Damaged int
	// Unknown counts well-formed packets of types not interpreted here.
	Unknown int
}

func newFile() *File {
	return &File{
		Files:     make(map[ID]*FileDesc),
		Checksums: make(map[ID]*IFSC),
	}
}

// ── Parsing ──────────────────────────────────────────────────────────

// Parse reads every packet in data.  Structural problems (bad magic,
// impossible lengths, mixed recovery sets, truncated bodies) fail the
// whole parse; a packet whose MD5 does not match is skipped and counted
// in File.Damaged.
func Parse(data []byte) (*File, error) {
	f := newFile()
	seen := false

	for off := 0; off < len(data); {
		rest := data[off:]
		at := int64(off)
		if len(rest) < HeaderSize {
			return nil, ncerr.InvalidAt(format, at, "truncated packet header (%d bytes)", len(rest))
		}
		if !bytes.Equal(rest[:8], Magic) {
			return nil, ncerr.InvalidAt(format, at, "bad packet magic")
		}

		// Both bounds are checked before the length is used.
		length := binary.LittleEndian.Uint64(rest[8:16])
		if length < HeaderSize {
			return nil, ncerr.InvalidAt(format, at, "packet length %d shorter than header", length)
		}
		if length > uint64(len(rest)) {
			return nil, ncerr.InvalidAt(format, at, "packet length %d exceeds remaining %d bytes", length, len(rest))
		}
		if length%4 != 0 {
			return nil, ncerr.InvalidAt(format, at, "packet length %d not a multiple of 4", length)
		}
		pkt := rest[:length]
		off += int(length)

		var set ID
		copy(set[:], pkt[32:48])
		if !seen {
			f.SetID, seen = set, true
		} else if set != f.SetID {
			return nil, ncerr.InvalidAt(format, at, "recovery set %s, expected %s", set, f.SetID)
		}

		var want [16]byte
		copy(want[:], pkt[16:32])
		if md5.Sum(pkt[32:]) != want {
			f.Damaged++
			continue
		}

		var typ PacketType
		copy(typ[:], pkt[48:64])
		if err := f.add(typ, pkt[HeaderSize:], at+HeaderSize); err != nil {
			return nil, err
		}
	}

	if !seen {
		return nil, ncerr.Invalid(format, "no packets")
	}
	return f, nil
}

func (f *File) add(typ PacketType, body []byte, at int64) error {
	switch typ {
	case TypeMain:
		m, err := parseMain(body, at)
		if err != nil {
			return err
		}
		f.Main = m
	case TypeFileDesc:
		d, err := parseFileDesc(body, at)
		if err != nil {
			return err
		}
		f.Files[d.ID] = d
	case TypeIFSC:
		c, err := parseIFSC(body, at)
		if err != nil {
			return err
		}
		f.Checksums[c.FileID] = c
	case TypeRecoverySlice:
		if len(body) < 4 {
			return ncerr.InvalidAt(format, at, "recovery slice body of %d bytes", len(body))
		}
		f.Recovery = append(f.Recovery, RecoverySlice{
			Exponent: binary.LittleEndian.Uint32(body[:4]),
			Data:     body[4:],
		})
	case TypeCreator:
		f.Creator = string(bytes.TrimRight(body, "\x00"))
	default:
		f.Unknown++
	}
	return nil
}

func parseMain(body []byte, at int64) (*Main, error) {
	if len(body) < 12 {
		return nil, ncerr.InvalidAt(format, at, "main packet body of %d bytes", len(body))
	}
	m := &Main{SliceSize: binary.LittleEndian.Uint64(body[:8])}
	count := uint64(binary.LittleEndian.Uint32(body[8:12]))
	ids := body[12:]
	if len(ids)%16 != 0 {
		return nil, ncerr.InvalidAt(format, at, "main packet file ids not aligned")
	}
	if count > uint64(len(ids)/16) {
		return nil, ncerr.InvalidAt(format, at, "main packet lists %d files but holds %d ids", count, len(ids)/16)
	}
	all := readIDs(ids)
	m.FileIDs = all[:count]
	m.NonRecoverable = all[count:]
	return m, nil
}

func readIDs(b []byte) []ID {
	out := make([]ID, len(b)/16)
	for i := range out {
		copy(out[i][:], b[i*16:])
	}
	return out
}

func parseFileDesc(body []byte, at int64) (*FileDesc, error) {
	if len(body) < 56 {
		return nil, ncerr.InvalidAt(format, at, "file description body of %d bytes", len(body))
	}
	d := &FileDesc{Length: binary.LittleEndian.Uint64(body[48:56])}
	copy(d.ID[:], body[0:16])
	copy(d.Hash[:], body[16:32])
	copy(d.Hash16k[:], body[32:48])
	name := body[56:]
	if i := bytes.IndexByte(name, 0); i >= 0 {
		name = name[:i]
	}
	d.Name = string(name)
	return d, nil
}

func parseIFSC(body []byte, at int64) (*IFSC, error) {
	if len(body) < 16 {
		return nil, ncerr.InvalidAt(format, at, "slice checksum body of %d bytes", len(body))
	}
	c := &IFSC{}
	copy(c.FileID[:], body[:16])
	sums := body[16:]
	if len(sums)%20 != 0 {
		return nil, ncerr.InvalidAt(format, at+16, "slice checksum data of %d bytes not aligned", len(sums))
	}
	c.Slices = make([]SliceChecksum, len(sums)/20)
	for i := range c.Slices {
		e := sums[i*20:]
		copy(c.Slices[i].MD5[:], e[:16])
		c.Slices[i].CRC32 = binary.LittleEndian.Uint32(e[16:20])
	}
	return c, nil
}

// ── Set-level queries ────────────────────────────────────────────────

// SliceSize returns the slice size of the set.  A missing main packet
// or a zero slice size is an error.
func (f *File) SliceSize() (uint64, error) {
	if f.Main == nil {
		return 0, ncerr.Invalid(format, "no main packet")
	}
	if f.Main.SliceSize == 0 {
		return 0, ncerr.Invalid(format, "zero slice size")
	}
	if f.Main.SliceSize%4 != 0 {
		return 0, ncerr.Invalid(format, "slice size %d not a multiple of 4", f.Main.SliceSize)
	}
	return f.Main.SliceSize, nil
}

// SliceCount returns how many slices cover a file of the given length.
func (f *File) SliceCount(length uint64) (uint64, error) {
	size, err := f.SliceSize()
	if err != nil {
		return 0, err
	}
	return length/size + min(length%size, 1), nil
}

// Lookup finds a file description by name.
func (f *File) Lookup(name string) (*FileDesc, bool) {
	for _, d := range f.Files {
		if d.Name == name {
			return d, true
		}
	}
	return nil, false
}

// Slice locates one input slice within its file.
type Slice struct {
	FileID ID
	Name   string
	Index  int // within the file
	Offset uint64
	Size   uint64
}

// Slices maps every input slice of the recoverable files, in set
// order.  The position in the result is the global slice number.
func (f *File) Slices() ([]Slice, error) {
	size, err := f.SliceSize()
	if err != nil {
		return nil, err
	}
	var out []Slice
	total := uint64(0)
	for _, id := range f.Main.FileIDs {
		d, ok := f.Files[id]
		if !ok {
			return nil, ncerr.Invalid(format, "no description for file %s", id)
		}
		n, _ := f.SliceCount(d.Length)
		if total += n; total > MaxSlices {
			return nil, ncerr.Invalid(format, "more than %d slices", MaxSlices)
		}
		for i := uint64(0); i < n; i++ {
			off := i * size
			out = append(out, Slice{
				FileID: id,
				Name:   d.Name,
				Index:  int(i),
				Offset: off,
				Size:   min(size, d.Length-off),
			})
		}
	}
	return out, nil
}

// Merge adds the packets of another volume of the same set.
func (f *File) Merge(other *File) error {
	if other.SetID != f.SetID {
		return ncerr.Invalid(format, "cannot merge set %s into %s", other.SetID, f.SetID)
	}
	if f.Main == nil {
		f.Main = other.Main
	}
	for id, d := range other.Files {
		if _, ok := f.Files[id]; !ok {
			f.Files[id] = d
		}
	}
	for id, c := range other.Checksums {
		if _, ok := f.Checksums[id]; !ok {
			f.Checksums[id] = c
		}
	}
	if f.Creator == "" {
		f.Creator = other.Creator
	}
	f.Recovery = append(f.Recovery, other.Recovery...)
	f.Damaged += other.Damaged
	f.Unknown += other.Unknown
	return nil
}
