package ytdlp

import (
	"regexp"
	"strconv"
	"strings"
)

// ProgressLine is one parsed sample from the yt-dlp output stream.
type ProgressLine struct {
	Percent         float64
	DownloadedBytes int64
	TotalBytes      int64
	Stage           string
}

// Stages reported while an extraction runs.
const (
	StageDownloading = "downloading"
	StageConverting  = "converting"
)

// downloadRe matches lines like
//
//	[download]  42.0% of   10.00MiB at    1.00MiB/s ETA 00:05
//	[download] 100% of 3.50MiB in 00:02
var downloadRe = regexp.MustCompile(
	`^\[download\]\s+([0-9.]+)%\s+of\s+~?\s*([0-9.]+)([KMGT]?i?B)`)

// ParseLine extracts a progress sample from one line of yt-dlp output. The
// boolean is false for lines that carry no progress information.
func ParseLine(line string) (ProgressLine, bool) {
	line = strings.TrimSpace(line)
	if strings.HasPrefix(line, "[ExtractAudio]") {
		return ProgressLine{Percent: 100, Stage: StageConverting}, true
	}
	m := downloadRe.FindStringSubmatch(line)
	if m == nil {
		return ProgressLine{}, false
	}
	percent, err := strconv.ParseFloat(m[1], 64)
	if err != nil || percent < 0 || percent > 100 {
		return ProgressLine{}, false
	}
	total := parseSize(m[2], m[3])
	sample := ProgressLine{
		Percent:    percent,
		TotalBytes: total,
		Stage:      StageDownloading,
	}
	if total > 0 {
		sample.DownloadedBytes = int64(percent / 100 * float64(total))
	}
	return sample, true
}

func parseSize(num, unit string) int64 {
	v, err := strconv.ParseFloat(num, 64)
	if err != nil {
		return 0
	}
	unit = strings.TrimSuffix(strings.TrimSuffix(unit, "B"), "i")
	switch strings.ToUpper(unit) {
	case "K":
		v *= 1 << 10
	case "M":
		v *= 1 << 20
	case "G":
		v *= 1 << 30
	case "T":
		v *= 1 << 40
	}
	return int64(v)
}
