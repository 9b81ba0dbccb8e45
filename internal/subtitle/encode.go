package subtitle

import (
	"errors"
	"fmt"
	"math"
	"strings"

	"github.com/snarg/scribe/internal/recognize"
)

// ErrUnknownEncoding indicates an output encoding outside the enumerated
// set. Rejected before any recognition work is attempted.
var ErrUnknownEncoding = errors.New("unknown output encoding")

// Encoding is an output text encoding for transcript results.
type Encoding string

const (
	EncodingText Encoding = "text"
	EncodingSRT  Encoding = "srt"
	EncodingVTT  Encoding = "vtt"
	EncodingSBV  Encoding = "sbv"
)

// ParseEncoding validates an output encoding string. Empty defaults to text.
func ParseEncoding(s string) (Encoding, error) {
	switch Encoding(strings.ToLower(strings.TrimSpace(s))) {
	case EncodingText, "":
		return EncodingText, nil
	case EncodingSRT:
		return EncodingSRT, nil
	case EncodingVTT:
		return EncodingVTT, nil
	case EncodingSBV:
		return EncodingSBV, nil
	}
	return "", fmt.Errorf("%w: %q", ErrUnknownEncoding, s)
}

// Ext returns the artifact file extension for the encoding.
func (e Encoding) Ext() string {
	switch e {
	case EncodingSRT:
		return ".srt"
	case EncodingVTT:
		return ".vtt"
	case EncodingSBV:
		return ".sbv"
	default:
		return ".txt"
	}
}

// ContentType returns the MIME type served for the encoding.
func (e Encoding) ContentType() string {
	switch e {
	case EncodingSRT:
		return "application/x-subrip"
	case EncodingVTT:
		return "text/vtt"
	default:
		return "text/plain; charset=utf-8"
	}
}

// Encode renders ordered timed segments in the given encoding. It is a pure
// function: the same segments and encoding always produce byte-identical
// output.
func Encode(segments []recognize.Segment, encoding Encoding) (string, error) {
	switch encoding {
	case EncodingText:
		return encodeText(segments), nil
	case EncodingSRT:
		return encodeSRT(segments), nil
	case EncodingVTT:
		return encodeVTT(segments), nil
	case EncodingSBV:
		return encodeSBV(segments), nil
	}
	return "", fmt.Errorf("%w: %q", ErrUnknownEncoding, encoding)
}

func encodeText(segments []recognize.Segment) string {
	parts := make([]string, 0, len(segments))
	for _, s := range segments {
		if t := strings.TrimSpace(s.Text); t != "" {
			parts = append(parts, t)
		}
	}
	return strings.Join(parts, " ")
}

func encodeSRT(segments []recognize.Segment) string {
	var b strings.Builder
	for i, s := range segments {
		fmt.Fprintf(&b, "%d\n%s --> %s\n%s\n\n",
			i+1,
			formatClock(s.Start, ','),
			formatClock(s.End, ','),
			strings.TrimSpace(s.Text))
	}
	return b.String()
}

func encodeVTT(segments []recognize.Segment) string {
	var b strings.Builder
	b.WriteString("WEBVTT\n\n")
	for _, s := range segments {
		fmt.Fprintf(&b, "%s --> %s\n%s\n\n",
			formatClock(s.Start, '.'),
			formatClock(s.End, '.'),
			strings.TrimSpace(s.Text))
	}
	return b.String()
}

func encodeSBV(segments []recognize.Segment) string {
	var b strings.Builder
	for _, s := range segments {
		fmt.Fprintf(&b, "%s,%s\n%s\n\n",
			formatSBV(s.Start),
			formatSBV(s.End),
			strings.TrimSpace(s.Text))
	}
	return b.String()
}

// splitMillis converts seconds to total whole milliseconds. All timestamp
// rendering goes through integer milliseconds so fractional rounding can
// carry into the seconds field and the hours field grows unbounded past
// 24 hours with no wraparound.
func splitMillis(seconds float64) int64 {
	if seconds < 0 {
		return 0
	}
	return int64(math.Round(seconds * 1000))
}

// formatClock renders HH:MM:SS<sep>mmm, used by SRT (comma) and VTT (dot).
func formatClock(seconds float64, sep byte) string {
	ms := splitMillis(seconds)
	return fmt.Sprintf("%02d:%02d:%02d%c%03d",
		ms/3600000, ms%3600000/60000, ms%60000/1000, sep, ms%1000)
}

// formatSBV renders M:SS.mmm with unpadded minutes.
func formatSBV(seconds float64) string {
	ms := splitMillis(seconds)
	return fmt.Sprintf("%d:%02d.%03d", ms/60000, ms%60000/1000, ms%1000)
}
