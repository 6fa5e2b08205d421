package protocol

import (
	"bytes"
	"encoding/json"
	"fmt"

	"github.com/go-playground/validator/v10"
)

var validate = validator.New()

// schemaFor maps each closed-set operation to the struct its options
// object must decode into, per SPEC_FULL §6's operation options table.
// ValidateStartJob marshals the raw options map back to JSON and
// re-decodes it into the matching struct so the go-playground/validator
// tags below do the actual schema enforcement.
type speedOptions struct {
	SpeedFactor   float64 `json:"speed_factor" validate:"required,gte=0.25,lte=10"`
	MaintainPitch bool    `json:"maintain_pitch"`
}

type compressOptions struct {
	Preset           string `json:"preset" validate:"required,oneof=low medium high custom"`
	VideoBitrateKbps int    `json:"video_bitrate_kbps" validate:"omitempty,gt=0"`
	AudioBitrateKbps int    `json:"audio_bitrate_kbps" validate:"omitempty,gt=0"`
	CRF              *int   `json:"crf" validate:"omitempty,gte=0,lte=51"`
	MaxWidth         int    `json:"max_width" validate:"omitempty,gt=0"`
	MaxHeight        int    `json:"max_height" validate:"omitempty,gt=0"`
	TargetFormat     string `json:"target_format" validate:"omitempty"`
}

type extractAudioOptions struct {
	Format     string `json:"format" validate:"required,oneof=mp3 aac wav opus m4a flac ogg"`
	BitrateKbps int   `json:"bitrate_kbps" validate:"omitempty,gt=0"`
	SampleRate string `json:"sample_rate" validate:"omitempty,oneof=8k 16k 22k 44.1k 48k 96k"`
}

type removeAudioOptions struct {
	KeepVideoQuality bool `json:"keep_video_quality"`
}

type convertOptions struct {
	TargetFormat string `json:"target_format" validate:"required"`
	StreamCopy   bool   `json:"stream_copy"`
	VideoCodec   string `json:"video_codec" validate:"omitempty"`
	AudioCodec   string `json:"audio_codec" validate:"omitempty"`
}

type thumbnailOptions struct {
	Timestamp *float64 `json:"timestamp" validate:"omitempty,gte=0"`
	Count     *int     `json:"count" validate:"omitempty,gte=1,lte=20"`
	Format    string   `json:"format" validate:"required,oneof=png jpeg jpg"`
	Width     int      `json:"width" validate:"omitempty,gt=0"`
	Height    int      `json:"height" validate:"omitempty,gt=0"`
}

type trimOptions struct {
	StartTime float64 `json:"start_time" validate:"gte=0"`
	EndTime   float64 `json:"end_time" validate:"gtfield=StartTime"`
}

type gifOptions struct {
	StartTime float64 `json:"start_time" validate:"gte=0"`
	Duration  float64 `json:"duration" validate:"gt=0,lte=30"`
	FPS       int     `json:"fps" validate:"gte=1,lte=30"`
	Width     int     `json:"width" validate:"omitempty,gt=0"`
	Optimize  bool    `json:"optimize"`
}

type filterOptions struct {
	Filters []map[string]any `json:"filters" validate:"required,min=1,dive,required"`
}

type concatOptions struct {
	Inputs []string `json:"inputs" validate:"required,min=2,dive,required"`
}

type subtitleExtractOptions struct {
	Format string `json:"format" validate:"omitempty,oneof=srt ass vtt"`
}

type subtitleBurnOptions struct {
	SubtitlePath string `json:"subtitle_path" validate:"required"`
}

// ValidateStartJob checks operation, input, and options against the
// closed schema set. Unknown operations fail fast; unknown option
// fields are rejected because the re-decode step below uses
// DisallowUnknownFields.
func ValidateStartJob(msg StartJob) error {
	if msg.JobID == "" {
		return NewError(CodeValidationError, "job_id is required")
	}
	switch msg.Input.Source {
	case "upload":
	case "url":
		if msg.Input.URL == "" {
			return NewError(CodeValidationError, "input.url is required for url source")
		}
	default:
		return NewError(CodeValidationError, "input.source must be 'upload' or 'url'")
	}

	schema, ok := schemaFor(msg.Operation)
	if !ok {
		return NewError(CodeValidationError, fmt.Sprintf("unknown operation: %s", msg.Operation))
	}

	raw, err := json.Marshal(msg.Options)
	if err != nil {
		return NewError(CodeValidationError, "options could not be re-encoded")
	}

	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.DisallowUnknownFields()
	if err := dec.Decode(schema); err != nil {
		return NewError(CodeValidationError, fmt.Sprintf("options do not match %s schema: %v", msg.Operation, err))
	}
	if err := validate.Struct(schema); err != nil {
		return NewError(CodeValidationError, fmt.Sprintf("options failed validation: %v", err))
	}

	if msg.Operation == "thumbnail" {
		opts := schema.(*thumbnailOptions)
		if (opts.Timestamp == nil) == (opts.Count == nil) {
			return NewError(CodeValidationError, "thumbnail requires exactly one of timestamp or count")
		}
	}

	return nil
}

func schemaFor(operation string) (any, bool) {
	switch operation {
	case "speed":
		return &speedOptions{}, true
	case "compress":
		return &compressOptions{}, true
	case "extract_audio":
		return &extractAudioOptions{}, true
	case "remove_audio":
		return &removeAudioOptions{}, true
	case "convert":
		return &convertOptions{}, true
	case "thumbnail":
		return &thumbnailOptions{}, true
	case "trim":
		return &trimOptions{}, true
	case "concat":
		return &concatOptions{}, true
	case "gif":
		return &gifOptions{}, true
	case "filter":
		return &filterOptions{}, true
	case "subtitle_extract":
		return &subtitleExtractOptions{}, true
	case "subtitle_burn":
		return &subtitleBurnOptions{}, true
	default:
		return nil, false
	}
}
