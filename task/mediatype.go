package task

import (
	"fmt"
	"path/filepath"
	"strings"
)

// MediaType is the kind of artifact a task produces. The zero value is not a
// valid media type.
type MediaType int

const (
	Audio MediaType = iota + 1
	Video
	VoiceNote
)

// MediaTypes lists the selectable media types in keyboard order.
func MediaTypes() []MediaType {
	return []MediaType{Audio, Video, VoiceNote}
}

func (m MediaType) Valid() bool {
	return m >= Audio && m <= VoiceNote
}

// String is the stable external representation.
func (m MediaType) String() string {
	switch m {
	case Audio:
		return "audio"
	case Video:
		return "video"
	case VoiceNote:
		return "voice"
	}
	return ""
}

// Label is the human-readable name shown in chat.
func (m MediaType) Label() string {
	switch m {
	case Audio:
		return "audio"
	case Video:
		return "video"
	case VoiceNote:
		return "audio as voice message"
	}
	return ""
}

// Ext is the file extension (without dot) the downloader produces.
func (m MediaType) Ext() string {
	switch m {
	case Audio:
		return "mp3"
	case Video:
		return "mp4"
	case VoiceNote:
		return "opus"
	}
	return ""
}

// CallbackData is the payload of the keyboard button selecting m.
func (m MediaType) CallbackData() string {
	switch m {
	case Audio:
		return "Audio"
	case Video:
		return "Video"
	case VoiceNote:
		return "Audio as voice message"
	}
	return ""
}

// Matches reports whether path carries the extension produced for m.
func (m MediaType) Matches(path string) bool {
	ext := strings.TrimPrefix(filepath.Ext(path), ".")
	return m.Valid() && ext == m.Ext()
}

func ParseMediaType(s string) (MediaType, error) {
	for _, m := range MediaTypes() {
		if s == m.String() {
			return m, nil
		}
	}
	return 0, fmt.Errorf("unknown media type %q", s)
}

func MediaTypeFromCallback(data string) (MediaType, error) {
	for _, m := range MediaTypes() {
		if data == m.CallbackData() {
			return m, nil
		}
	}
	return 0, fmt.Errorf("unknown media type selection %q", data)
}

func (m MediaType) MarshalText() ([]byte, error) {
	if !m.Valid() {
		return []byte{}, nil
	}
	return []byte(m.String()), nil
}

func (m *MediaType) UnmarshalText(b []byte) error {
	if len(b) == 0 {
		*m = 0
		return nil
	}
	parsed, err := ParseMediaType(string(b))
	if err != nil {
		return err
	}
	*m = parsed
	return nil
}
