package ffmpeg

// Operation is the closed set of transcoder operations the synthesizer
// understands.
type Operation string

const (
	OpSpeed           Operation = "speed"
	OpCompress        Operation = "compress"
	OpExtractAudio    Operation = "extract_audio"
	OpRemoveAudio     Operation = "remove_audio"
	OpConvert         Operation = "convert"
	OpThumbnail       Operation = "thumbnail"
	OpTrim            Operation = "trim"
	OpConcat          Operation = "concat"
	OpGif             Operation = "gif"
	OpFilter          Operation = "filter"
	OpSubtitleExtract Operation = "subtitle_extract"
	OpSubtitleBurn    Operation = "subtitle_burn"
)

// ValidOperations is the closed set a start_job envelope may name.
var ValidOperations = map[Operation]bool{
	OpSpeed: true, OpCompress: true, OpExtractAudio: true, OpRemoveAudio: true,
	OpConvert: true, OpThumbnail: true, OpTrim: true, OpConcat: true,
	OpGif: true, OpFilter: true, OpSubtitleExtract: true, OpSubtitleBurn: true,
}

// Metadata is the structured result of probing an output file. Only Size
// is guaranteed to be populated; a failed probe still returns a record.
type Metadata struct {
	Container  string
	Duration   float64 // seconds; zero if unknown
	Size       int64   // bytes
	VideoCodec string
	AudioCodec string
	Width      int
	Height     int
	Bitrate    int
	FPS        float64

	// ArchiveURL is set when an archive.Store is configured and the
	// completed artifact was successfully uploaded to it.
	ArchiveURL string
}
