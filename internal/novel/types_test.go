package novel

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func testMetadata(n int) Metadata {
	titles := make([]string, n)
	for i := range titles {
		titles[i] = string(rune('A' + i))
	}
	return Metadata{Title: "Novel", ChapterTitles: titles}
}

func TestNewSessionInitializesQueue(t *testing.T) {
	t.Parallel()

	now := time.Unix(100, 0).UTC()
	s := NewSession("sid", testMetadata(3), now)

	require.Equal(t, SessionIdle, s.State)
	require.Len(t, s.Chapters, 3)
	for i, ch := range s.Chapters {
		require.Equal(t, i+1, ch.Seq)
		require.Equal(t, ChapterPending, ch.Status)
	}
	require.Equal(t, now, s.Created)
}

func TestSessionProgress(t *testing.T) {
	t.Parallel()

	s := NewSession("sid", testMetadata(4), time.Now())
	require.Zero(t, s.Progress())

	s.Chapters[0].Status = ChapterSuccess
	require.InDelta(t, 0.25, s.Progress(), 1e-9)

	s.Chapters[1].Status = ChapterError
	require.InDelta(t, 0.5, s.Progress(), 1e-9)

	s.Chapters[2].Status = ChapterCrawling
	require.InDelta(t, 0.5, s.Progress(), 1e-9, "crawling is not terminal")

	empty := Session{}
	require.Zero(t, empty.Progress())
}

func TestSessionNextPending(t *testing.T) {
	t.Parallel()

	s := NewSession("sid", testMetadata(3), time.Now())
	s.Chapters[0].Status = ChapterSuccess

	ch, ok := s.NextPending()
	require.True(t, ok)
	require.Equal(t, 2, ch.Seq)

	s.Chapters[1].Status = ChapterError
	s.Chapters[2].Status = ChapterSuccess
	_, ok = s.NextPending()
	require.False(t, ok)
}

func TestSessionCloneIsDeep(t *testing.T) {
	t.Parallel()

	s := NewSession("sid", testMetadata(2), time.Now())
	cp := s.Clone()
	cp.Chapters[0].Status = ChapterSuccess
	cp.Metadata.ChapterTitles[0] = "mutated"

	require.Equal(t, ChapterPending, s.Chapters[0].Status)
	require.Equal(t, "A", s.Metadata.ChapterTitles[0])
}
