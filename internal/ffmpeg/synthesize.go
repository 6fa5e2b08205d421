// Package ffmpeg compiles typed operation requests into ffmpeg/ffprobe
// argv vectors, supervises the transcoder subprocess, and probes output
// metadata. Synthesize is a pure function: no I/O, no process spawn.
package ffmpeg

import (
	"fmt"
	"math"
	"path/filepath"
	"strconv"
	"strings"

)

// Request is the validated input to Synthesize: an operation and its
// options record, plus the path to the staged input file.
type Request struct {
	Operation Operation
	Options   map[string]any
	InputPath string
	// ConcatInputs holds additional input paths for the concat operation,
	// in order, with InputPath as the first.
	ConcatInputs []string
	// StreamCopyCompatible reports whether the manager has already
	// probed every concat input and found matching codecs/containers
	// across all of them. This is an internal signal computed by the
	// caller (Synthesize stays I/O-free), never a client-supplied
	// option, since SPEC_FULL treats lossless-vs-filter concat as an
	// internal decision.
	StreamCopyCompatible bool
	ThreadHint           int
}

// Plan is the synthesizer's output: an argv vector ready for
// exec.Command("ffmpeg", argv...), the output file extension, and
// ExpectsBinaryOut, which is set for the image-producing operations
// (thumbnail and gif) and false for the video and audio ones.
type Plan struct {
	Argv               []string
	OutputExt          string
	ExpectsBinaryOut   bool
	OutputPaths        []string // one entry; for thumbnail count it is a %03d pattern naming the numbered frames
	TwoPass            bool     // gif optimize / filter normalize: caller runs Argv, then SecondPassArgv
	SecondPassArgv     []string
}

// sampleRates is the recognized sample-rate set for extract_audio.
var sampleRates = map[string]int{
	"8k": 8000, "16k": 16000, "22k": 22050, "44.1k": 44100, "48k": 48000, "96k": 96000,
}

// audioCodecExt maps extract_audio's closed codec set to its container
// extension and ffmpeg codec name.
var audioCodecExt = map[string]struct {
	ext, codec string
}{
	"mp3":  {"mp3", "libmp3lame"},
	"aac":  {"aac", "aac"},
	"wav":  {"wav", "pcm_s16le"},
	"opus": {"opus", "libopus"},
	"m4a":  {"m4a", "aac"},
	"flac": {"flac", "flac"},
	"ogg":  {"ogg", "libvorbis"},
}

// Synthesize compiles a Request into an argv Plan per SPEC_FULL §4.1. It
// never touches the filesystem and never spawns a process.
func Synthesize(req Request) (*Plan, error) {
	switch req.Operation {
	case OpSpeed:
		return synthSpeed(req)
	case OpCompress:
		return synthCompress(req)
	case OpExtractAudio:
		return synthExtractAudio(req)
	case OpRemoveAudio:
		return synthRemoveAudio(req)
	case OpConvert:
		return synthConvert(req)
	case OpThumbnail:
		return synthThumbnail(req)
	case OpTrim:
		return synthTrim(req)
	case OpConcat:
		return synthConcat(req)
	case OpGif:
		return synthGif(req)
	case OpFilter:
		return synthFilter(req)
	case OpSubtitleExtract:
		return synthSubtitleExtract(req)
	case OpSubtitleBurn:
		return synthSubtitleBurn(req)
	default:
		return nil, fmt.Errorf("unsupported operation: %s", req.Operation)
	}
}

func optFloat(opts map[string]any, key string, def float64) float64 {
	if v, ok := opts[key]; ok {
		switch n := v.(type) {
		case float64:
			return n
		case int:
			return float64(n)
		}
	}
	return def
}

func optInt(opts map[string]any, key string, def int) int {
	if v, ok := opts[key]; ok {
		switch n := v.(type) {
		case float64:
			return int(n)
		case int:
			return n
		}
	}
	return def
}

func optString(opts map[string]any, key, def string) string {
	if v, ok := opts[key]; ok {
		if s, ok := v.(string); ok {
			return s
		}
	}
	return def
}

func optBool(opts map[string]any, key string, def bool) bool {
	if v, ok := opts[key]; ok {
		if b, ok := v.(bool); ok {
			return b
		}
	}
	return def
}

func baseArgs(threadHint int) []string {
	args := []string{"-y", "-hide_banner"}
	if threadHint > 0 {
		args = append(args, "-threads", strconv.Itoa(threadHint))
	}
	return args
}

// synthSpeed: multiplier in [0.25,10.0]; video timing via setpts. Audio
// uses asetrate+aresample by default, which shifts pitch along with
// speed; with maintain_pitch it uses pitch-preserving atempo stages,
// chained since each stage accepts only [0.5,2.0].
func synthSpeed(req Request) (*Plan, error) {
	factor := optFloat(req.Options, "speed_factor", 1.0)
	if factor < 0.25 || factor > 10.0 {
		return nil, fmt.Errorf("speed_factor out of range [0.25,10.0]: %v", factor)
	}
	maintainPitch := optBool(req.Options, "maintain_pitch", false)

	videoFilter := fmt.Sprintf("setpts=%s*PTS", formatFloat(1.0/factor))
	var audioFilter string
	if maintainPitch {
		audioFilter = chainAtempo(factor)
	} else {
		// asetrate changes pitch along with speed, then resample back to
		// a standard rate so the container's declared rate stays sane.
		audioFilter = fmt.Sprintf("asetrate=44100*%s,aresample=44100", formatFloat(factor))
	}

	args := baseArgs(req.ThreadHint)
	args = append(args, "-i", req.InputPath,
		"-filter:v", videoFilter,
		"-filter:a", audioFilter,
		"-c:v", "libx264", "-c:a", "aac",
	)
	out := outputPath(req.InputPath, "mp4")
	args = append(args, out)
	return &Plan{Argv: args, OutputExt: "mp4", OutputPaths: []string{out}}, nil
}

// chainAtempo composes atempo filters for factors outside [0.5,2.0],
// since a single atempo stage only accepts that range.
func chainAtempo(factor float64) string {
	var stages []string
	remaining := factor
	for remaining > 2.0 {
		stages = append(stages, "atempo=2.0")
		remaining /= 2.0
	}
	for remaining < 0.5 {
		stages = append(stages, "atempo=0.5")
		remaining /= 0.5
	}
	stages = append(stages, fmt.Sprintf("atempo=%s", formatFloat(remaining)))
	return strings.Join(stages, ",")
}

// compressPresets map quality tiers to a CRF value for the default x264
// encoder, per SPEC_FULL §4.1.
var compressPresets = map[string]int{
	"low":    32,
	"medium": 26,
	"high":   20,
}

func synthCompress(req Request) (*Plan, error) {
	preset := optString(req.Options, "preset", "medium")
	args := baseArgs(req.ThreadHint)
	args = append(args, "-i", req.InputPath, "-c:v", "libx264")

	switch preset {
	case "low", "medium", "high":
		crf, ok := compressPresets[preset]
		if !ok {
			return nil, fmt.Errorf("unknown compress preset: %s", preset)
		}
		args = append(args, "-crf", strconv.Itoa(crf))
	case "custom":
		if vb, ok := req.Options["video_bitrate_kbps"]; ok {
			args = append(args, "-b:v", fmt.Sprintf("%vk", vb))
		}
		if crf, ok := req.Options["crf"]; ok {
			cv := optInt(req.Options, "crf", 23)
			if cv < 0 || cv > 51 {
				return nil, fmt.Errorf("crf out of range [0,51]: %v", crf)
			}
			args = append(args, "-crf", strconv.Itoa(cv))
		}
		if ab, ok := req.Options["audio_bitrate_kbps"]; ok {
			args = append(args, "-b:a", fmt.Sprintf("%vk", ab))
		}
	default:
		return nil, fmt.Errorf("unknown compress preset: %s", preset)
	}

	maxW := optInt(req.Options, "max_width", 0)
	maxH := optInt(req.Options, "max_height", 0)
	if maxW > 0 || maxH > 0 {
		w, h := "-2", "-2"
		if maxW > 0 {
			w = strconv.Itoa(maxW)
		}
		if maxH > 0 {
			h = strconv.Itoa(maxH)
		}
		// min(...) keeps the scale from upscaling past the source size.
		args = append(args, "-vf", fmt.Sprintf("scale='min(%s,iw)':'min(%s,ih)':force_original_aspect_ratio=decrease", w, h))
	}

	args = append(args, "-c:a", "aac")
	if _, ok := req.Options["audio_bitrate_kbps"]; !ok {
		args = append(args, "-b:a", "128k")
	}

	target := optString(req.Options, "target_format", "mp4")
	out := outputPath(req.InputPath, target)
	args = append(args, out)
	return &Plan{Argv: args, OutputExt: target, OutputPaths: []string{out}}, nil
}

func synthExtractAudio(req Request) (*Plan, error) {
	format := optString(req.Options, "format", "mp3")
	spec, ok := audioCodecExt[format]
	if !ok {
		return nil, fmt.Errorf("unsupported audio format: %s", format)
	}

	args := baseArgs(req.ThreadHint)
	args = append(args, "-i", req.InputPath, "-vn", "-c:a", spec.codec)

	if br := optInt(req.Options, "bitrate_kbps", 0); br > 0 {
		args = append(args, "-b:a", fmt.Sprintf("%dk", br))
	}
	if sr := optString(req.Options, "sample_rate", ""); sr != "" {
		rate, ok := sampleRates[sr]
		if !ok {
			return nil, fmt.Errorf("unrecognized sample_rate: %s", sr)
		}
		args = append(args, "-ar", strconv.Itoa(rate))
	}

	out := outputPath(req.InputPath, spec.ext)
	args = append(args, out)
	return &Plan{Argv: args, OutputExt: spec.ext, OutputPaths: []string{out}}, nil
}

func synthRemoveAudio(req Request) (*Plan, error) {
	keepQuality := optBool(req.Options, "keep_video_quality", true)
	args := baseArgs(req.ThreadHint)
	args = append(args, "-i", req.InputPath, "-an")
	if keepQuality {
		args = append(args, "-c:v", "copy")
	} else {
		args = append(args, "-c:v", "libx264", "-crf", "23")
	}
	out := outputPath(req.InputPath, "mp4")
	args = append(args, out)
	return &Plan{Argv: args, OutputExt: "mp4", OutputPaths: []string{out}}, nil
}

func synthConvert(req Request) (*Plan, error) {
	target := optString(req.Options, "target_format", "mp4")
	streamCopy := optBool(req.Options, "stream_copy", false)

	args := baseArgs(req.ThreadHint)
	args = append(args, "-i", req.InputPath)

	if streamCopy {
		args = append(args, "-c:v", "copy", "-c:a", "copy")
	} else {
		vc := optString(req.Options, "video_codec", "libx264")
		ac := optString(req.Options, "audio_codec", "aac")
		args = append(args, "-c:v", vc, "-c:a", ac)
	}

	out := outputPath(req.InputPath, target)
	args = append(args, out)
	return &Plan{Argv: args, OutputExt: target, OutputPaths: []string{out}}, nil
}

func synthThumbnail(req Request) (*Plan, error) {
	_, hasTimestamp := req.Options["timestamp"]
	_, hasCount := req.Options["count"]
	if hasTimestamp == hasCount {
		return nil, fmt.Errorf("thumbnail requires exactly one of timestamp or count")
	}

	format := optString(req.Options, "format", "png")
	if format == "jpg" {
		format = "jpeg"
	}
	if format != "png" && format != "jpeg" {
		return nil, fmt.Errorf("unsupported thumbnail format: %s", format)
	}
	ext := format
	if ext == "jpeg" {
		ext = "jpg"
	}

	width := optInt(req.Options, "width", 0)
	height := optInt(req.Options, "height", 0)
	var scale string
	if width > 0 || height > 0 {
		w, h := "-1", "-1"
		if width > 0 {
			w = strconv.Itoa(width)
		}
		if height > 0 {
			h = strconv.Itoa(height)
		}
		scale = fmt.Sprintf("scale=%s:%s", w, h)
	}

	if hasTimestamp {
		ts := optFloat(req.Options, "timestamp", 0)
		if ts < 0 {
			return nil, fmt.Errorf("timestamp must be >= 0")
		}
		// Fast seek: -ss before -i.
		args := baseArgs(req.ThreadHint)
		args = append(args, "-ss", formatFloat(ts), "-i", req.InputPath, "-frames:v", "1")
		if scale != "" {
			args = append(args, "-vf", scale)
		}
		out := outputPath(req.InputPath, ext)
		args = append(args, out)
		return &Plan{Argv: args, OutputExt: ext, ExpectsBinaryOut: true, OutputPaths: []string{out}}, nil
	}

	count := optInt(req.Options, "count", 1)
	if count < 1 || count > 20 {
		return nil, fmt.Errorf("count out of range [1,20]: %d", count)
	}
	args := baseArgs(req.ThreadHint)
	args = append(args, "-i", req.InputPath)
	vf := fmt.Sprintf("select='not(mod(n\\,ceil(n/%d)+1))'", count)
	if scale != "" {
		vf = scale + "," + vf
	}
	args = append(args, "-vf", vf, "-vsync", "vfr")
	pattern := outputPath(req.InputPath, "%03d."+ext)
	args = append(args, pattern)
	return &Plan{Argv: args, OutputExt: ext, ExpectsBinaryOut: true, OutputPaths: []string{pattern}}, nil
}

func synthTrim(req Request) (*Plan, error) {
	start := optFloat(req.Options, "start_time", -1)
	end := optFloat(req.Options, "end_time", -1)
	if start < 0 || end < 0 {
		return nil, fmt.Errorf("start_time and end_time must be >= 0")
	}
	if start >= end {
		return nil, fmt.Errorf("start_time must be < end_time")
	}

	args := baseArgs(req.ThreadHint)
	args = append(args, "-ss", formatFloat(start), "-i", req.InputPath, "-to", formatFloat(end-start))
	args = append(args, "-c:v", "copy", "-c:a", "copy")
	out := outputPath(req.InputPath, "mp4")
	args = append(args, out)
	return &Plan{Argv: args, OutputExt: "mp4", OutputPaths: []string{out}}, nil
}

func synthConcat(req Request) (*Plan, error) {
	inputs := req.ConcatInputs
	if len(inputs) < 2 {
		return nil, fmt.Errorf("concat requires at least two inputs")
	}

	// Lossless path: ffmpeg's concat protocol (-i "concat:a|b|c"), not
	// the concat demuxer, since the demuxer needs a list file written
	// to disk and Synthesize stays I/O-free. The caller (Manager) has
	// already probed every input and set StreamCopyCompatible when
	// their codecs and containers all match.
	if req.StreamCopyCompatible {
		args := baseArgs(req.ThreadHint)
		args = append(args, "-i", "concat:"+strings.Join(inputs, "|"), "-c", "copy")
		out := outputPath(req.InputPath, "mp4")
		args = append(args, out)
		return &Plan{Argv: args, OutputExt: "mp4", OutputPaths: []string{out}}, nil
	}

	args := baseArgs(req.ThreadHint)
	var filterParts []string
	for i, in := range inputs {
		args = append(args, "-i", in)
		filterParts = append(filterParts, fmt.Sprintf("[%d:v][%d:a]", i, i))
	}
	filter := strings.Join(filterParts, "") + fmt.Sprintf("concat=n=%d:v=1:a=1[v][a]", len(inputs))
	args = append(args, "-filter_complex", filter, "-map", "[v]", "-map", "[a]")
	out := outputPath(req.InputPath, "mp4")
	args = append(args, out)
	return &Plan{Argv: args, OutputExt: "mp4", OutputPaths: []string{out}}, nil
}

func synthGif(req Request) (*Plan, error) {
	start := optFloat(req.Options, "start_time", 0)
	duration := optFloat(req.Options, "duration", 0)
	if duration <= 0 || duration > 30 {
		return nil, fmt.Errorf("duration out of range (0,30]: %v", duration)
	}
	fps := optInt(req.Options, "fps", 10)
	if fps < 1 || fps > 30 {
		return nil, fmt.Errorf("fps out of range [1,30]: %d", fps)
	}
	width := optInt(req.Options, "width", 0)
	optimize := optBool(req.Options, "optimize", false)

	vf := fmt.Sprintf("fps=%d", fps)
	if width > 0 {
		vf += fmt.Sprintf(",scale=%d:-1:flags=lanczos", width)
	}

	out := outputPath(req.InputPath, "gif")

	if !optimize {
		args := baseArgs(req.ThreadHint)
		args = append(args, "-ss", formatFloat(start), "-t", formatFloat(duration), "-i", req.InputPath, "-vf", vf, out)
		return &Plan{Argv: args, OutputExt: "gif", ExpectsBinaryOut: true, OutputPaths: []string{out}}, nil
	}

	palette := outputPath(req.InputPath, "palette.png")
	pass1 := baseArgs(req.ThreadHint)
	pass1 = append(pass1, "-ss", formatFloat(start), "-t", formatFloat(duration), "-i", req.InputPath,
		"-vf", vf+",palettegen", palette)

	pass2 := baseArgs(req.ThreadHint)
	pass2 = append(pass2, "-ss", formatFloat(start), "-t", formatFloat(duration), "-i", req.InputPath,
		"-i", palette, "-lavfi", vf+" [x]; [x][1:v] paletteuse", out)

	return &Plan{
		Argv: pass1, OutputExt: "gif", ExpectsBinaryOut: true, OutputPaths: []string{out},
		TwoPass: true, SecondPassArgv: pass2,
	}, nil
}

// FilterSpec is one element of the filter operation's ordered chain.
type FilterSpec struct {
	Type   string
	Params map[string]any
}

func synthFilter(req Request) (*Plan, error) {
	raw, ok := req.Options["filters"]
	if !ok {
		return nil, fmt.Errorf("filter operation requires a filters list")
	}
	list, ok := raw.([]any)
	if !ok || len(list) == 0 {
		return nil, fmt.Errorf("filters must be a non-empty list")
	}

	var videoParts []string
	var audioParts []string
	normalize := false

	for i, item := range list {
		m, ok := item.(map[string]any)
		if !ok {
			return nil, fmt.Errorf("filter entry %d is not an object", i)
		}
		ftype, _ := m["type"].(string)
		switch ftype {
		case "scale":
			w := optInt(m, "width", -1)
			h := optInt(m, "height", -1)
			videoParts = append(videoParts, fmt.Sprintf("scale=%d:%d", w, h))
		case "rotate":
			deg := optInt(m, "degrees", 90)
			turns := (deg / 90) % 4
			switch turns {
			case 1:
				videoParts = append(videoParts, "transpose=1")
			case 2:
				videoParts = append(videoParts, "transpose=1,transpose=1")
			case 3:
				videoParts = append(videoParts, "transpose=2")
			}
		case "crop":
			w := optInt(m, "width", 0)
			h := optInt(m, "height", 0)
			x := optInt(m, "x", 0)
			y := optInt(m, "y", 0)
			videoParts = append(videoParts, fmt.Sprintf("crop=%d:%d:%d:%d", w, h, x, y))
		case "fps":
			rate := optInt(m, "fps", 30)
			videoParts = append(videoParts, fmt.Sprintf("fps=%d", rate))
		case "volume":
			mult := optFloat(m, "multiplier", 1.0)
			audioParts = append(audioParts, fmt.Sprintf("volume=%s", formatFloat(mult)))
		case "normalize":
			normalize = true
		default:
			return nil, fmt.Errorf("unsupported filter type: %s", ftype)
		}
	}

	// normalize takes precedence over a volume multiplier in the same
	// chain: drop any volume stage once a normalize stage is present.
	if normalize {
		filtered := audioParts[:0:0]
		for _, p := range audioParts {
			if strings.HasPrefix(p, "volume=") {
				continue
			}
			filtered = append(filtered, p)
		}
		audioParts = filtered
	}

	videoFilter := strings.Join(videoParts, ",")
	audioFilter := strings.Join(audioParts, ",")
	out := outputPath(req.InputPath, "mp4")

	if !normalize {
		args := baseArgs(req.ThreadHint)
		args = append(args, "-i", req.InputPath)
		if videoFilter != "" {
			args = append(args, "-vf", videoFilter)
		}
		if audioFilter != "" {
			args = append(args, "-af", audioFilter)
		}
		args = append(args, "-c:v", "libx264", "-c:a", "aac", out)
		return &Plan{Argv: args, OutputExt: "mp4", OutputPaths: []string{out}}, nil
	}

	// normalize runs loudnorm as a measure-then-apply two-pass pipeline,
	// mirroring synthGif's optimize path: pass one runs loudnorm with
	// print_format=json against the null muxer, pass two applies loudnorm
	// with the same targets. The stats pass one prints are not fed into
	// pass two, so pass two runs loudnorm in its default dynamic mode.
	measureFilter := joinFilters(audioFilter, "loudnorm=I=-16:TP=-1.5:LRA=11:print_format=json")
	pass1 := baseArgs(req.ThreadHint)
	pass1 = append(pass1, "-i", req.InputPath)
	if videoFilter != "" {
		pass1 = append(pass1, "-vf", videoFilter)
	}
	pass1 = append(pass1, "-af", measureFilter, "-f", "null", "-")

	applyFilter := joinFilters(audioFilter, "loudnorm=I=-16:TP=-1.5:LRA=11")
	pass2 := baseArgs(req.ThreadHint)
	pass2 = append(pass2, "-i", req.InputPath)
	if videoFilter != "" {
		pass2 = append(pass2, "-vf", videoFilter)
	}
	pass2 = append(pass2, "-af", applyFilter, "-c:v", "libx264", "-c:a", "aac", out)

	return &Plan{
		Argv: pass1, OutputExt: "mp4", OutputPaths: []string{out},
		TwoPass: true, SecondPassArgv: pass2,
	}, nil
}

// joinFilters appends an additional stage to a possibly-empty comma
// chain.
func joinFilters(chain, stage string) string {
	if chain == "" {
		return stage
	}
	return chain + "," + stage
}

func synthSubtitleExtract(req Request) (*Plan, error) {
	format := optString(req.Options, "format", "srt")
	args := baseArgs(req.ThreadHint)
	args = append(args, "-i", req.InputPath, "-map", "0:s:0", "-c:s", "copy")
	out := outputPath(req.InputPath, format)
	args = append(args, out)
	return &Plan{Argv: args, OutputExt: format, OutputPaths: []string{out}}, nil
}

func synthSubtitleBurn(req Request) (*Plan, error) {
	subPath := optString(req.Options, "subtitle_path", "")
	if subPath == "" {
		return nil, fmt.Errorf("subtitle_burn requires subtitle_path")
	}
	args := baseArgs(req.ThreadHint)
	args = append(args, "-i", req.InputPath, "-vf", fmt.Sprintf("subtitles=%s", escapeFilterPath(subPath)))
	args = append(args, "-c:v", "libx264", "-c:a", "copy")
	out := outputPath(req.InputPath, "mp4")
	args = append(args, out)
	return &Plan{Argv: args, OutputExt: "mp4", OutputPaths: []string{out}}, nil
}

func escapeFilterPath(p string) string {
	return strings.ReplaceAll(p, ":", "\\:")
}

func outputPath(inputPath, ext string) string {
	dir := filepath.Dir(inputPath)
	base := strings.TrimSuffix(filepath.Base(inputPath), filepath.Ext(inputPath))
	return filepath.Join(dir, base+"_out."+ext)
}

func formatFloat(f float64) string {
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return "0"
	}
	return strconv.FormatFloat(f, 'f', -1, 64)
}
