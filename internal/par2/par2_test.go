package par2

import (
	"bytes"
	"crypto/md5"
	"encoding/binary"
	"hash/crc32"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	ncerr "gonntp/internal/errors"
)

var (
	setA  = ID{0xaa, 1}
	setB  = ID{0xbb, 2}
	fileA = ID{0x01}
	fileB = ID{0x02}

	content = []byte("0123456789") // three 4-byte slices, last one short
)

const sliceSize = 4

// ── Builders ─────────────────────────────────────────────────────────

func packet(set ID, typ PacketType, body []byte) []byte {
	for len(body)%4 != 0 {
		body = append(body, 0)
	}
	p := make([]byte, HeaderSize+len(body))
	copy(p, Magic)
	binary.LittleEndian.PutUint64(p[8:], uint64(len(p)))
	copy(p[32:48], set[:])
	copy(p[48:64], typ[:])
	copy(p[64:], body)
	sum := md5.Sum(p[32:])
	copy(p[16:32], sum[:])
	return p
}

func mainBody(size uint64, recoverable []ID, other ...ID) []byte {
	b := binary.LittleEndian.AppendUint64(nil, size)
	b = binary.LittleEndian.AppendUint32(b, uint32(len(recoverable)))
	for _, id := range append(recoverable, other...) {
		b = append(b, id[:]...)
	}
	return b
}

func descBody(id ID, data []byte, name string) []byte {
	b := append([]byte(nil), id[:]...)
	h := md5.Sum(data)
	h16 := md5.Sum(data[:min(len(data), 16<<10)])
	b = append(b, h[:]...)
	b = append(b, h16[:]...)
	b = binary.LittleEndian.AppendUint64(b, uint64(len(data)))
	return append(b, name...)
}

func ifscBody(id ID, data []byte, size int) []byte {
	b := append([]byte(nil), id[:]...)
	for off := 0; off < len(data); off += size {
		slice := make([]byte, size)
		copy(slice, data[off:])
		h := md5.Sum(slice)
		b = append(b, h[:]...)
		b = binary.LittleEndian.AppendUint32(b, crc32.ChecksumIEEE(slice))
	}
	return b
}

func recoveryBody(exp uint32, data string) []byte {
	return append(binary.LittleEndian.AppendUint32(nil, exp), data...)
}

func fullSet() []byte {
	var b []byte
	b = append(b, packet(setA, TypeCreator, []byte("gonntp test"))...)
	b = append(b, packet(setA, TypeMain, mainBody(sliceSize, []ID{fileA}, fileB))...)
	b = append(b, packet(setA, TypeFileDesc, descBody(fileA, content, "a.bin"))...)
	b = append(b, packet(setA, TypeIFSC, ifscBody(fileA, content, sliceSize))...)
	b = append(b, packet(setA, TypeRecoverySlice, recoveryBody(7, "abcd"))...)
	b = append(b, packet(setA, packetType("PAR 2.0\x00Unknown"), []byte("xxxx"))...)
	return b
}

func parseSet(t *testing.T) *File {
	t.Helper()
	f, err := Parse(fullSet())
	require.NoError(t, err)
	return f
}

// ── Parse ────────────────────────────────────────────────────────────

func TestParse(t *testing.T) {
	f := parseSet(t)

	assert.Equal(t, setA, f.SetID)
	assert.Equal(t, "gonntp test", f.Creator)
	require.NotNil(t, f.Main)
	assert.Equal(t, uint64(sliceSize), f.Main.SliceSize)
	assert.Equal(t, []ID{fileA}, f.Main.FileIDs)
	assert.Equal(t, []ID{fileB}, f.Main.NonRecoverable)

	d := f.Files[fileA]
	require.NotNil(t, d)
	assert.Equal(t, "a.bin", d.Name)
	assert.Equal(t, uint64(len(content)), d.Length)
	assert.Equal(t, md5.Sum(content), d.Hash)

	require.Contains(t, f.Checksums, fileA)
	assert.Len(t, f.Checksums[fileA].Slices, 3)

	require.Len(t, f.Recovery, 1)
	assert.Equal(t, uint32(7), f.Recovery[0].Exponent)
	assert.Equal(t, []byte("abcd"), f.Recovery[0].Data)
	assert.Equal(t, 1, f.Unknown)
	assert.Zero(t, f.Damaged)
}

func TestParse_Rejects(t *testing.T) {
	good := packet(setA, TypeCreator, []byte("x"))

	tests := []struct {
		name  string
		input func() []byte
		msg   string
	}{
		{"empty", func() []byte { return nil }, "no packets"},
		{"length below header size", func() []byte {
			p := bytes.Clone(good)
			binary.LittleEndian.PutUint64(p[8:], 32)
			return p
		}, "shorter than header"},
		{"zero length", func() []byte {
			p := bytes.Clone(good)
			binary.LittleEndian.PutUint64(p[8:], 0)
			return p
		}, "shorter than header"},
		{"length past end", func() []byte {
			p := bytes.Clone(good)
			binary.LittleEndian.PutUint64(p[8:], uint64(len(p))+4)
			return p
		}, "exceeds remaining"},
		{"huge length", func() []byte {
			p := bytes.Clone(good)
			binary.LittleEndian.PutUint64(p[8:], ^uint64(0))
			return p
		}, "exceeds remaining"},
		{"unaligned length", func() []byte {
			p := append(bytes.Clone(good), 0, 0)
			binary.LittleEndian.PutUint64(p[8:], uint64(len(p)))
			return p
		}, "multiple of 4"},
		{"bad magic", func() []byte {
			p := bytes.Clone(good)
			p[0] = 'X'
			return p
		}, "bad packet magic"},
		{"truncated header", func() []byte { return append(bytes.Clone(good), Magic...) }, "truncated packet header"},
		{"mixed sets", func() []byte {
			return append(bytes.Clone(good), packet(setB, TypeCreator, []byte("y"))...)
		}, "recovery set"},
		{"main too short", func() []byte { return packet(setA, TypeMain, []byte{1, 2, 3, 4}) }, "main packet body"},
		{"main count past ids", func() []byte {
			b := mainBody(sliceSize, []ID{fileA})
			binary.LittleEndian.PutUint32(b[8:], 1000)
			return packet(setA, TypeMain, b)
		}, "lists 1000 files"},
		{"file description too short", func() []byte { return packet(setA, TypeFileDesc, make([]byte, 40)) }, "file description body"},
		{"ifsc too short", func() []byte { return packet(setA, TypeIFSC, make([]byte, 8)) }, "slice checksum body"},
		{"ifsc misaligned", func() []byte { return packet(setA, TypeIFSC, make([]byte, 16+24)) }, "not aligned"},
		{"recovery slice empty", func() []byte { return packet(setA, TypeRecoverySlice, nil) }, "recovery slice body"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f, err := Parse(tt.input())
			assert.Nil(t, f)
			var ve *ncerr.ValidationError
			require.ErrorAs(t, err, &ve)
			assert.Equal(t, "par2", ve.Format)
			assert.Contains(t, err.Error(), tt.msg)
			assert.False(t, ncerr.IsRetryable(err))
		})
	}
}

func TestParse_DamagedPacketSkipped(t *testing.T) {
	desc := packet(setA, TypeFileDesc, descBody(fileA, content, "a.bin"))
	desc[len(desc)-1] ^= 0xff

	data := append(packet(setA, TypeMain, mainBody(sliceSize, []ID{fileA})), desc...)
	f, err := Parse(data)
	require.NoError(t, err)
	assert.Equal(t, 1, f.Damaged)
	assert.Empty(t, f.Files)
	assert.NotNil(t, f.Main)
}

func TestParse_ErrorOffset(t *testing.T) {
	first := packet(setA, TypeCreator, []byte("x"))
	second := bytes.Clone(first)
	binary.LittleEndian.PutUint64(second[8:], 8)

	_, err := Parse(append(first, second...))
	var ve *ncerr.ValidationError
	require.ErrorAs(t, err, &ve)
	assert.Equal(t, int64(len(first)), ve.Offset)
}

// ── Slices ───────────────────────────────────────────────────────────

func TestSliceCount(t *testing.T) {
	f := parseSet(t)
	tests := []struct {
		length uint64
		want   uint64
	}{
		{0, 0},
		{1, 1},
		{4, 1},
		{8, 2},
		{10, 3},
	}
	for _, tt := range tests {
		got, err := f.SliceCount(tt.length)
		require.NoError(t, err)
		assert.Equal(t, tt.want, got, "length %d", tt.length)
	}
}

func TestSliceCount_ZeroSliceSize(t *testing.T) {
	f, err := Parse(packet(setA, TypeMain, mainBody(0, nil)))
	require.NoError(t, err)

	_, err = f.SliceCount(100)
	var ve *ncerr.ValidationError
	require.ErrorAs(t, err, &ve)
	assert.Contains(t, err.Error(), "zero slice size")

	_, err = f.Slices()
	assert.Error(t, err)
}

func TestSliceCount_NoMain(t *testing.T) {
	f, err := Parse(packet(setA, TypeCreator, []byte("x")))
	require.NoError(t, err)
	_, err = f.SliceCount(1)
	assert.ErrorContains(t, err, "no main packet")
}

func TestSlices(t *testing.T) {
	f := parseSet(t)
	got, err := f.Slices()
	require.NoError(t, err)
	assert.Equal(t, []Slice{
		{FileID: fileA, Name: "a.bin", Index: 0, Offset: 0, Size: 4},
		{FileID: fileA, Name: "a.bin", Index: 1, Offset: 4, Size: 4},
		{FileID: fileA, Name: "a.bin", Index: 2, Offset: 8, Size: 2},
	}, got)
}

func TestSlices_MissingDescription(t *testing.T) {
	f, err := Parse(packet(setA, TypeMain, mainBody(sliceSize, []ID{fileB})))
	require.NoError(t, err)
	_, err = f.Slices()
	assert.ErrorContains(t, err, "no description")
}

func TestLookup(t *testing.T) {
	f := parseSet(t)
	d, ok := f.Lookup("a.bin")
	require.True(t, ok)
	assert.Equal(t, fileA, d.ID)

	_, ok = f.Lookup("b.bin")
	assert.False(t, ok)
}

// ── Verify ───────────────────────────────────────────────────────────

func TestVerify(t *testing.T) {
	f := parseSet(t)

	damaged := bytes.Clone(content)
	damaged[5] = 'X'

	tests := []struct {
		name   string
		data   []byte
		status Status
		bad    []int
	}{
		{"complete", content, Complete, nil},
		{"damaged slice", damaged, Damaged, []int{1}},
		{"truncated", content[:6], Damaged, []int{1, 2}},
		{"missing", nil, Missing, nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			v, err := f.Verify(fileA, tt.data)
			require.NoError(t, err)
			assert.Equal(t, tt.status, v.Status)
			assert.Equal(t, tt.bad, v.Bad)
			assert.Equal(t, "a.bin", v.Name)
		})
	}
}

func TestVerify_UnknownFile(t *testing.T) {
	f := parseSet(t)
	_, err := f.Verify(fileB, content)
	var ve *ncerr.ValidationError
	assert.ErrorAs(t, err, &ve)
}

func TestVerifyAll_CanRepair(t *testing.T) {
	f := parseSet(t)

	damaged := bytes.Clone(content)
	damaged[0] = 'X'
	res, err := f.VerifyAll(map[ID][]byte{fileA: damaged})
	require.NoError(t, err)
	require.Len(t, res, 1)
	assert.Equal(t, Damaged, res[0].Status)
	assert.True(t, f.CanRepair(res), "one bad slice, one recovery slice")

	res, err = f.VerifyAll(map[ID][]byte{})
	require.NoError(t, err)
	assert.Equal(t, Missing, res[0].Status)
	assert.False(t, f.CanRepair(res), "three missing slices, one recovery slice")
}

func TestMerge(t *testing.T) {
	f := parseSet(t)

	vol, err := Parse(packet(setA, TypeRecoverySlice, recoveryBody(8, "efgh")))
	require.NoError(t, err)
	require.NoError(t, f.Merge(vol))
	assert.Len(t, f.Recovery, 2)

	other, err := Parse(packet(setB, TypeRecoverySlice, recoveryBody(9, "ijkl")))
	require.NoError(t, err)
	assert.Error(t, f.Merge(other))
	assert.Len(t, f.Recovery, 2)
}

func TestStrings(t *testing.T) {
	assert.Equal(t, "Main", TypeMain.String())
	assert.Equal(t, "FileDesc", TypeFileDesc.String())
	assert.Equal(t, "damaged", Damaged.String())
	assert.Equal(t, "aa010000000000000000000000000000", setA.String())
}
