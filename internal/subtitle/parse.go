package subtitle

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/snarg/scribe/internal/recognize"
)

// ParseSRT reads an SRT document back into timed segments. Used for
// verifying encoder round-trips and for callers that want to post-process
// previously produced subtitle artifacts.
func ParseSRT(text string) ([]recognize.Segment, error) {
	var segments []recognize.Segment

	blocks := strings.Split(strings.ReplaceAll(text, "\r\n", "\n"), "\n\n")
	for _, block := range blocks {
		block = strings.TrimSpace(block)
		if block == "" {
			continue
		}
		lines := strings.Split(block, "\n")
		if len(lines) < 2 {
			return nil, fmt.Errorf("srt block %d: expected index, timing and text lines", len(segments)+1)
		}

		// Index line is informational; validate it is numeric.
		if _, err := strconv.Atoi(strings.TrimSpace(lines[0])); err != nil {
			return nil, fmt.Errorf("srt block %d: bad index line %q", len(segments)+1, lines[0])
		}

		start, end, err := parseTimingLine(lines[1])
		if err != nil {
			return nil, fmt.Errorf("srt block %d: %w", len(segments)+1, err)
		}

		segments = append(segments, recognize.Segment{
			Start: start,
			End:   end,
			Text:  strings.TrimSpace(strings.Join(lines[2:], "\n")),
		})
	}

	return segments, nil
}

func parseTimingLine(line string) (float64, float64, error) {
	parts := strings.Split(line, "-->")
	if len(parts) != 2 {
		return 0, 0, fmt.Errorf("bad timing line %q", line)
	}
	start, err := parseClock(strings.TrimSpace(parts[0]))
	if err != nil {
		return 0, 0, err
	}
	end, err := parseClock(strings.TrimSpace(parts[1]))
	if err != nil {
		return 0, 0, err
	}
	return start, end, nil
}

// parseClock reads HH:MM:SS,mmm into seconds.
func parseClock(s string) (float64, error) {
	var h, m, sec, ms int64
	if _, err := fmt.Sscanf(s, "%d:%d:%d,%d", &h, &m, &sec, &ms); err != nil {
		return 0, fmt.Errorf("bad timestamp %q", s)
	}
	return float64(h*3600+m*60+sec) + float64(ms)/1000, nil
}
