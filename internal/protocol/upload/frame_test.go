package upload

import (
	"bytes"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func pad(s string, size int, fill byte) []byte {
	b := bytes.Repeat([]byte{fill}, size)
	copy(b, s)
	return b
}

func TestParseFilenameFrame(t *testing.T) {
	tests := []struct {
		name  string
		frame []byte
		want  string
	}{
		{"StarPadded", pad("SUBJ001_trial.csv", FilenameFrameSize, '*'), "SUBJ001_trial.csv"},
		{"StarThenGarbage", pad("SUBJ001_trial.csv*garbage", FilenameFrameSize, 'x'), "SUBJ001_trial.csv"},
		{"NulPadded", pad("P7_run.csv", FilenameFrameSize, 0), "P7_run.csv"},
		{"SpacePadded", pad("P7_run.csv", FilenameFrameSize, ' '), "P7_run.csv"},
		{"FullWidth", pad(strings.Repeat("a", 32), FilenameFrameSize, 0), strings.Repeat("a", 32)},
		{"LeadingStar", pad("*abc", FilenameFrameSize, 0), ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, ParseFilenameFrame(tt.frame))
		})
	}
}

func TestReadFilenameFrame(t *testing.T) {
	t.Run("ReadsExactlyOneFrame", func(t *testing.T) {
		stream := append(pad("SUBJ001_trial.csv", FilenameFrameSize, '*'), "123END"...)
		r := bytes.NewReader(stream)

		name, err := ReadFilenameFrame(r)
		require.NoError(t, err)
		assert.Equal(t, "SUBJ001_trial.csv", name)
		assert.Equal(t, 6, r.Len(), "bytes after the frame must stay unread")
	})

	t.Run("ShortReadIsConnectionError", func(t *testing.T) {
		_, err := ReadFilenameFrame(strings.NewReader("SUBJ001_trial.csv*"))
		require.Error(t, err)
		assert.True(t, errors.Is(err, ErrConnection))
		assert.Equal(t, KindConnection, KindOf(err))
	})

	t.Run("EmptyStream", func(t *testing.T) {
		_, err := ReadFilenameFrame(strings.NewReader(""))
		assert.ErrorIs(t, err, ErrConnection)
	})
}

func TestParseSizeFrame(t *testing.T) {
	t.Run("LengthAndLeadingPayload", func(t *testing.T) {
		frame := pad("123END456789", SizeFrameSize, 0)

		sf, err := ParseSizeFrame(frame)
		require.NoError(t, err)
		assert.Equal(t, uint64(123), sf.DeclaredLength)
		assert.Equal(t, frame[6:], sf.Leading)
		assert.Len(t, sf.Leading, 10)

		frame[6] = 'X'
		assert.Equal(t, byte('4'), sf.Leading[0], "Leading must not alias the frame")
	})

	t.Run("ExactHeaderNoLeading", func(t *testing.T) {
		sf, err := ParseSizeFrame([]byte("0000000000042END"))
		require.NoError(t, err)
		assert.Equal(t, uint64(42), sf.DeclaredLength)
		assert.Empty(t, sf.Leading)
	})

	t.Run("ZeroLength", func(t *testing.T) {
		sf, err := ParseSizeFrame([]byte("0END............"))
		require.NoError(t, err)
		assert.Zero(t, sf.DeclaredLength)
		assert.Equal(t, []byte("............"), sf.Leading)
	})

	t.Run("SpacesAroundDigits", func(t *testing.T) {
		sf, err := ParseSizeFrame(pad(" 17 END", SizeFrameSize, 'z'))
		require.NoError(t, err)
		assert.Equal(t, uint64(17), sf.DeclaredLength)
	})

	errCases := map[string][]byte{
		"MissingEND":    []byte("1234567890123456"),
		"EmptyDigits":   pad("END", SizeFrameSize, 'a'),
		"NonNumeric":    pad("12a4END", SizeFrameSize, 0),
		"Negative":      pad("-5END", SizeFrameSize, 0),
		"SplitSentinel": []byte("1234567890123EN"),
	}
	for name, frame := range errCases {
		t.Run(name, func(t *testing.T) {
			_, err := ParseSizeFrame(frame)
			require.Error(t, err)
			assert.ErrorIs(t, err, ErrProtocol)
			assert.NotErrorIs(t, err, ErrConnection)
		})
	}
}

func TestReadSizeFrame(t *testing.T) {
	t.Run("ConsumesSixteenBytes", func(t *testing.T) {
		r := bytes.NewReader([]byte("5ENDabcdefghijklmnop"))

		sf, err := ReadSizeFrame(r)
		require.NoError(t, err)
		assert.Equal(t, uint64(5), sf.DeclaredLength)
		assert.Equal(t, []byte("abcdefghijkl"), sf.Leading)
		assert.Equal(t, 4, r.Len())
	})

	t.Run("PeerClosedMidFrame", func(t *testing.T) {
		_, err := ReadSizeFrame(strings.NewReader("12END"))
		assert.ErrorIs(t, err, ErrConnection)
	})

	t.Run("MissingENDIsProtocolError", func(t *testing.T) {
		_, err := ReadSizeFrame(strings.NewReader("abcdefghijklmnop"))
		assert.ErrorIs(t, err, ErrProtocol)
	})
}

func TestParseRequest(t *testing.T) {
	t.Run("SubjectBeforeFirstUnderscore", func(t *testing.T) {
		req, err := ParseRequest(pad("SUBJ001_trial_2.csv", FilenameFrameSize, '*'))
		require.NoError(t, err)
		assert.Equal(t, "SUBJ001_trial_2.csv", req.Filename)
		assert.Equal(t, "SUBJ001", req.SubjectCode)
		assert.Len(t, req.Raw, FilenameFrameSize)
	})

	t.Run("NoUnderscoreUsesStem", func(t *testing.T) {
		req, err := ParseRequest(pad("results.csv", FilenameFrameSize, '*'))
		require.NoError(t, err)
		assert.Equal(t, "results", req.SubjectCode)
	})

	rejected := []string{
		"",
		"_trial.csv",
		"../etc_passwd",
		"a/b_c.csv",
		`a\b_c.csv`,
		"..",
		".hidden_x.csv",
	}
	for _, name := range rejected {
		t.Run("Reject"+name, func(t *testing.T) {
			_, err := ParseRequest(pad(name, FilenameFrameSize, '*'))
			assert.ErrorIs(t, err, ErrProtocol)
		})
	}
}

func TestKindOf(t *testing.T) {
	assert.Equal(t, KindUnknown, KindOf(nil))
	assert.Equal(t, KindUnknown, KindOf(errors.New("plain")))
	assert.Equal(t, KindFilesystem, KindOf(FilesystemError("open", errors.New("denied"))))
	assert.Equal(t, "protocol", KindProtocol.String())

	err := ProtocolErrorf("op", "bad %d", 1)
	assert.Equal(t, "op: protocol error: bad 1", err.Error())
}
