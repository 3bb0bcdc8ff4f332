package media

import (
	"bytes"
	"fmt"
	"io"
	"time"
)

const DefaultVideoMIMEType = "video/webm"

// Segment is one finalized answer recording, bound to a question index.
type Segment struct {
	Index    int
	MIMEType string
	Duration time.Duration
	data     []byte
}

func NewSegment(index int, mimeType string, duration time.Duration, data []byte) Segment {
	if mimeType == "" {
		mimeType = DefaultVideoMIMEType
	}
	buf := make([]byte, len(data))
	copy(buf, data)
	return Segment{Index: index, MIMEType: mimeType, Duration: duration, data: buf}
}

// Filename names the segment by position, matching what the evaluator
// expects for repeated video uploads.
func (s Segment) Filename() string {
	return fmt.Sprintf("video_%d.%s", s.Index, extension(s.MIMEType))
}

func (s Segment) Size() int {
	return len(s.data)
}

func (s Segment) Reader() io.Reader {
	return bytes.NewReader(s.data)
}

func (s Segment) Bytes() []byte {
	buf := make([]byte, len(s.data))
	copy(buf, s.data)
	return buf
}

func extension(mimeType string) string {
	switch mimeType {
	case "video/mp4":
		return "mp4"
	case "video/x-matroska":
		return "mkv"
	default:
		return "webm"
	}
}
