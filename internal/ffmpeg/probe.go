package ffmpeg

import (
	"context"
	"encoding/json"
	"os"
	"os/exec"
	"strconv"
	"strings"
	"time"

	"github.com/makeasinger/mediaforge/internal/logging"
)

// Prober invokes ffprobe on an output file and returns a structured
// Metadata record. A probe failure never fails the job: it degrades to
// a record carrying only Size, per SPEC_FULL §4.3.
type Prober struct {
	ProbePath string
	Timeout   time.Duration
}

// NewProber constructs a Prober bound to the given ffprobe binary.
func NewProber(probePath string) *Prober {
	return &Prober{ProbePath: probePath, Timeout: 10 * time.Second}
}

type ffprobeOutput struct {
	Format struct {
		Duration string `json:"duration"`
		Size     string `json:"size"`
		BitRate  string `json:"bit_rate"`
	} `json:"format"`
	Streams []struct {
		CodecType string `json:"codec_type"`
		CodecName string `json:"codec_name"`
		Width     int    `json:"width"`
		Height    int    `json:"height"`
		AvgFrameRate string `json:"avg_frame_rate"`
	} `json:"streams"`
}

// Probe runs ffprobe against path. On any failure — spawn, non-zero
// exit, or malformed JSON — it falls back to a stat-only Metadata record
// rather than propagating an error to the caller.
func (p *Prober) Probe(ctx context.Context, path string) Metadata {
	log := logging.WithComponent("probe")
	md := Metadata{}
	if info, err := os.Stat(path); err == nil {
		md.Size = info.Size()
	}

	probeCtx, cancel := context.WithTimeout(ctx, p.Timeout)
	defer cancel()

	cmd := exec.CommandContext(probeCtx, p.ProbePath,
		"-v", "quiet", "-print_format", "json", "-show_format", "-show_streams", path)
	// Bounds the wait for stdout to close after the timeout kills the
	// process, in case a child it started still holds the pipe.
	cmd.WaitDelay = 500 * time.Millisecond
	out, err := cmd.Output()
	if err != nil {
		log.Warn().Err(err).Str("path", path).Msg("ffprobe failed, returning size-only metadata")
		return md
	}

	var parsed ffprobeOutput
	if err := json.Unmarshal(out, &parsed); err != nil {
		log.Warn().Err(err).Str("path", path).Msg("ffprobe output unparseable, returning size-only metadata")
		return md
	}

	if d, err := strconv.ParseFloat(parsed.Format.Duration, 64); err == nil {
		md.Duration = d
	}
	if br, err := strconv.Atoi(parsed.Format.BitRate); err == nil {
		md.Bitrate = br
	}
	if sz, err := strconv.ParseInt(parsed.Format.Size, 10, 64); err == nil && sz > 0 {
		md.Size = sz
	}

	for _, st := range parsed.Streams {
		switch st.CodecType {
		case "video":
			md.VideoCodec = st.CodecName
			md.Width = st.Width
			md.Height = st.Height
			md.FPS = parseFrameRate(st.AvgFrameRate)
		case "audio":
			md.AudioCodec = st.CodecName
		}
	}

	md.Container = containerFromExt(path)
	return md
}

func parseFrameRate(s string) float64 {
	parts := strings.SplitN(s, "/", 2)
	if len(parts) != 2 {
		return 0
	}
	num, err1 := strconv.ParseFloat(parts[0], 64)
	den, err2 := strconv.ParseFloat(parts[1], 64)
	if err1 != nil || err2 != nil || den == 0 {
		return 0
	}
	return num / den
}

func containerFromExt(path string) string {
	idx := strings.LastIndex(path, ".")
	if idx < 0 {
		return ""
	}
	return strings.TrimPrefix(path[idx:], ".")
}
