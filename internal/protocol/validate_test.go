package protocol

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func baseStartJob(operation string, options map[string]any) StartJob {
	return StartJob{
		Type:      TypeStartJob,
		JobID:     "job-1",
		Operation: operation,
		Input:     InputSpec{Source: "url", URL: "https://example.com/in.mp4"},
		Options:   options,
	}
}

func TestValidateStartJob_RequiresJobID(t *testing.T) {
	msg := baseStartJob("speed", map[string]any{"speed_factor": 2.0})
	msg.JobID = ""

	err := ValidateStartJob(msg)
	assert.Error(t, err)
}

func TestValidateStartJob_RejectsUnknownInputSource(t *testing.T) {
	msg := baseStartJob("speed", map[string]any{"speed_factor": 2.0})
	msg.Input.Source = "ftp"

	err := ValidateStartJob(msg)
	assert.Error(t, err)
}

func TestValidateStartJob_URLSourceRequiresURL(t *testing.T) {
	msg := baseStartJob("speed", map[string]any{"speed_factor": 2.0})
	msg.Input = InputSpec{Source: "url"}

	err := ValidateStartJob(msg)
	assert.Error(t, err)
}

func TestValidateStartJob_UploadSourceNeedsNoURL(t *testing.T) {
	msg := baseStartJob("speed", map[string]any{"speed_factor": 2.0})
	msg.Input = InputSpec{Source: "upload"}

	err := ValidateStartJob(msg)
	assert.NoError(t, err)
}

func TestValidateStartJob_RejectsUnknownOperation(t *testing.T) {
	msg := baseStartJob("do_a_barrel_roll", nil)

	err := ValidateStartJob(msg)
	assert.Error(t, err)
}

func TestValidateStartJob_RejectsUnknownOptionFields(t *testing.T) {
	msg := baseStartJob("speed", map[string]any{"speed_factor": 2.0, "bogus_field": true})

	err := ValidateStartJob(msg)
	assert.Error(t, err)
}

func TestValidateStartJob_Speed(t *testing.T) {
	t.Run("rejects factor outside bounds", func(t *testing.T) {
		msg := baseStartJob("speed", map[string]any{"speed_factor": 50.0})
		assert.Error(t, ValidateStartJob(msg))
	})

	t.Run("accepts factor in bounds", func(t *testing.T) {
		msg := baseStartJob("speed", map[string]any{"speed_factor": 2.0, "maintain_pitch": true})
		assert.NoError(t, ValidateStartJob(msg))
	})
}

func TestValidateStartJob_Compress(t *testing.T) {
	t.Run("rejects unknown preset", func(t *testing.T) {
		msg := baseStartJob("compress", map[string]any{"preset": "ultra"})
		assert.Error(t, ValidateStartJob(msg))
	})

	t.Run("accepts custom preset with explicit crf", func(t *testing.T) {
		msg := baseStartJob("compress", map[string]any{"preset": "custom", "crf": 28})
		assert.NoError(t, ValidateStartJob(msg))
	})

	t.Run("rejects crf outside 0-51", func(t *testing.T) {
		msg := baseStartJob("compress", map[string]any{"preset": "custom", "crf": 99})
		assert.Error(t, ValidateStartJob(msg))
	})
}

func TestValidateStartJob_ExtractAudio(t *testing.T) {
	t.Run("rejects unsupported format", func(t *testing.T) {
		msg := baseStartJob("extract_audio", map[string]any{"format": "xyz"})
		assert.Error(t, ValidateStartJob(msg))
	})

	t.Run("accepts known sample rate", func(t *testing.T) {
		msg := baseStartJob("extract_audio", map[string]any{"format": "mp3", "sample_rate": "44.1k"})
		assert.NoError(t, ValidateStartJob(msg))
	})
}

func TestValidateStartJob_Thumbnail(t *testing.T) {
	t.Run("rejects neither timestamp nor count", func(t *testing.T) {
		msg := baseStartJob("thumbnail", map[string]any{"format": "png"})
		assert.Error(t, ValidateStartJob(msg))
	})

	t.Run("rejects both timestamp and count", func(t *testing.T) {
		msg := baseStartJob("thumbnail", map[string]any{"format": "png", "timestamp": 1.0, "count": 3})
		assert.Error(t, ValidateStartJob(msg))
	})

	t.Run("accepts timestamp alone", func(t *testing.T) {
		msg := baseStartJob("thumbnail", map[string]any{"format": "png", "timestamp": 1.0})
		assert.NoError(t, ValidateStartJob(msg))
	})

	t.Run("accepts count alone", func(t *testing.T) {
		msg := baseStartJob("thumbnail", map[string]any{"format": "jpg", "count": 5})
		assert.NoError(t, ValidateStartJob(msg))
	})
}

func TestValidateStartJob_Trim(t *testing.T) {
	t.Run("rejects end before start", func(t *testing.T) {
		msg := baseStartJob("trim", map[string]any{"start_time": 10.0, "end_time": 5.0})
		assert.Error(t, ValidateStartJob(msg))
	})

	t.Run("accepts valid range", func(t *testing.T) {
		msg := baseStartJob("trim", map[string]any{"start_time": 1.0, "end_time": 4.0})
		assert.NoError(t, ValidateStartJob(msg))
	})
}

func TestValidateStartJob_Concat(t *testing.T) {
	t.Run("rejects fewer than two inputs", func(t *testing.T) {
		msg := baseStartJob("concat", map[string]any{"inputs": []any{"a.mp4"}})
		assert.Error(t, ValidateStartJob(msg))
	})

	t.Run("accepts two or more inputs", func(t *testing.T) {
		msg := baseStartJob("concat", map[string]any{"inputs": []any{"a.mp4", "b.mp4"}})
		assert.NoError(t, ValidateStartJob(msg))
	})
}

func TestValidateStartJob_Gif(t *testing.T) {
	t.Run("rejects duration over 30s", func(t *testing.T) {
		msg := baseStartJob("gif", map[string]any{"duration": 60.0, "fps": 15})
		assert.Error(t, ValidateStartJob(msg))
	})

	t.Run("accepts valid duration and fps", func(t *testing.T) {
		msg := baseStartJob("gif", map[string]any{"duration": 3.0, "fps": 15})
		assert.NoError(t, ValidateStartJob(msg))
	})
}

func TestValidateStartJob_Filter(t *testing.T) {
	t.Run("rejects empty filter list", func(t *testing.T) {
		msg := baseStartJob("filter", map[string]any{"filters": []any{}})
		assert.Error(t, ValidateStartJob(msg))
	})

	t.Run("accepts at least one filter", func(t *testing.T) {
		msg := baseStartJob("filter", map[string]any{
			"filters": []any{map[string]any{"type": "normalize"}},
		})
		assert.NoError(t, ValidateStartJob(msg))
	})
}

func TestValidateStartJob_SubtitleBurn(t *testing.T) {
	t.Run("requires subtitle_path", func(t *testing.T) {
		msg := baseStartJob("subtitle_burn", map[string]any{})
		assert.Error(t, ValidateStartJob(msg))
	})

	t.Run("accepts subtitle_path", func(t *testing.T) {
		msg := baseStartJob("subtitle_burn", map[string]any{"subtitle_path": "/subs/en.srt"})
		assert.NoError(t, ValidateStartJob(msg))
	})
}

func TestValidateStartJob_SubtitleExtract(t *testing.T) {
	t.Run("format is optional", func(t *testing.T) {
		msg := baseStartJob("subtitle_extract", map[string]any{})
		assert.NoError(t, ValidateStartJob(msg))
	})

	t.Run("rejects unsupported format", func(t *testing.T) {
		msg := baseStartJob("subtitle_extract", map[string]any{"format": "xyz"})
		assert.Error(t, ValidateStartJob(msg))
	})
}
