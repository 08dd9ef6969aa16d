package demux

import (
	"testing"

	"github.com/pipelka/robotv-go/internal/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func feedSection(t *testing.T, p *PatPmtParser, pid int, section []byte) {
	t.Helper()
	for _, pkt := range testutil.SectionPackets(pid, section) {
		p.Feed(pkt)
	}
}

func TestPatPmtParserVersions(t *testing.T) {
	p := NewPatPmtParser()

	_, _, ok := p.Versions()
	assert.False(t, ok)

	feedSection(t, p, 0, testutil.Pat(0, 0x20))
	assert.Equal(t, 0x20, p.PmtPid())

	_, _, ok = p.Versions()
	assert.False(t, ok)

	feedSection(t, p, 0x20, testutil.Pmt(0, 0x100, []testutil.PmtStream{
		{StreamType: 0x1B, Pid: 0x100},
	}))

	pat, pmt, ok := p.Versions()
	require.True(t, ok)
	assert.Equal(t, 0, pat)
	assert.Equal(t, 0, pmt)
}

func TestPatPmtParserSnapshot(t *testing.T) {
	p := NewPatPmtParser()

	feedSection(t, p, 0, testutil.Pat(0, 0x20))
	feedSection(t, p, 0x20, testutil.Pmt(0, 0x100, []testutil.PmtStream{
		{StreamType: 0x1B, Pid: 0x100},
		{StreamType: 0x06, Pid: 0x101, Descriptors: append(
			testutil.LanguageDescriptor("eng", 0),
			0x6A, 0x01, 0x00, // AC-3 descriptor
		)},
		{StreamType: 0x0F, Pid: 0x102, Descriptors: testutil.LanguageDescriptor("ger", 3)},
		{StreamType: 0x06, Pid: 0x103, Descriptors: testutil.SubtitlingDescriptor("fra", 0x10, 1, 2)},
	}))

	bundle := p.Snapshot()
	require.Equal(t, 4, bundle.Len())

	video, ok := bundle.Get(0x100)
	require.True(t, ok)
	assert.Equal(t, TypeH264, video.Type)
	assert.Equal(t, ContentVideo, video.Content)

	ac3, ok := bundle.Get(0x101)
	require.True(t, ok)
	assert.Equal(t, TypeAc3, ac3.Type)
	assert.Equal(t, "eng", ac3.Language)

	aac, ok := bundle.Get(0x102)
	require.True(t, ok)
	assert.Equal(t, TypeAac, aac.Type)
	assert.Equal(t, "ger", aac.Language)
	assert.Equal(t, uint8(3), aac.AudioType)

	sub, ok := bundle.Get(0x103)
	require.True(t, ok)
	assert.Equal(t, TypeDvbSub, sub.Type)
	assert.Equal(t, "fra", sub.Language)
	assert.Equal(t, uint16(1), sub.CompositionPageId)
	assert.Equal(t, uint16(2), sub.AncillaryPageId)
	assert.True(t, sub.Parsed)
}

func TestPatPmtParserVersionBump(t *testing.T) {
	p := NewPatPmtParser()

	feedSection(t, p, 0, testutil.Pat(0, 0x20))
	feedSection(t, p, 0x20, testutil.Pmt(0, 0x100, []testutil.PmtStream{
		{StreamType: 0x1B, Pid: 0x100},
	}))

	_, pmt, _ := p.Versions()
	require.Equal(t, 0, pmt)

	feedSection(t, p, 0x20, testutil.Pmt(1, 0x100, []testutil.PmtStream{
		{StreamType: 0x1B, Pid: 0x100},
		{StreamType: 0x06, Pid: 0x103, Descriptors: testutil.SubtitlingDescriptor("ger", 0x10, 1, 2)},
	}))

	_, pmt, _ = p.Versions()
	assert.Equal(t, 1, pmt)
	assert.Equal(t, 2, p.Snapshot().Len())
}

func TestPatPmtParserIgnoresOtherPids(t *testing.T) {
	p := NewPatPmtParser()

	pes := testutil.Pes(0xBD, 0, testutil.NoTimestamp, []byte{1, 2, 3})
	assert.False(t, p.Feed(testutil.TsPacket(0x500, true, 0, pes)))
}

func TestPatPmtParserReset(t *testing.T) {
	p := NewPatPmtParser()

	feedSection(t, p, 0, testutil.Pat(0, 0x20))
	feedSection(t, p, 0x20, testutil.Pmt(0, 0x100, []testutil.PmtStream{
		{StreamType: 0x1B, Pid: 0x100},
	}))

	p.Reset()

	_, _, ok := p.Versions()
	assert.False(t, ok)
	assert.Equal(t, -1, p.PmtPid())
	assert.True(t, p.Snapshot().Empty())
}
