package task

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMediaType(t *testing.T) {
	tests := []struct {
		mt       MediaType
		str      string
		label    string
		ext      string
		callback string
	}{
		{Audio, "audio", "audio", "mp3", "Audio"},
		{Video, "video", "video", "mp4", "Video"},
		{VoiceNote, "voice", "audio as voice message", "opus", "Audio as voice message"},
	}

	for _, tt := range tests {
		t.Run(tt.str, func(t *testing.T) {
			assert.True(t, tt.mt.Valid())
			assert.Equal(t, tt.str, tt.mt.String())
			assert.Equal(t, tt.label, tt.mt.Label())
			assert.Equal(t, tt.ext, tt.mt.Ext())
			assert.Equal(t, tt.callback, tt.mt.CallbackData())

			parsed, err := ParseMediaType(tt.str)
			require.NoError(t, err)
			assert.Equal(t, tt.mt, parsed)

			fromCallback, err := MediaTypeFromCallback(tt.callback)
			require.NoError(t, err)
			assert.Equal(t, tt.mt, fromCallback)
		})
	}

	t.Run("zero value is invalid", func(t *testing.T) {
		var mt MediaType
		assert.False(t, mt.Valid())
		assert.False(t, mt.Matches("x.mp3"))
		_, err := ParseMediaType("gif")
		assert.Error(t, err)
		_, err = MediaTypeFromCallback("Gif")
		assert.Error(t, err)
	})

	t.Run("extension filter", func(t *testing.T) {
		assert.True(t, Audio.Matches("/tmp/x/Song.mp3"))
		assert.False(t, Audio.Matches("/tmp/x/Song.mp3.part"))
		assert.False(t, Audio.Matches("/tmp/x/Song.jpg"))
		assert.True(t, VoiceNote.Matches("clip.opus"))
		assert.False(t, Video.Matches("clip.mp4.ytdl"))
	})
}
