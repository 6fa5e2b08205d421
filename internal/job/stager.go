package job

import (
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/makeasinger/mediaforge/internal/logging"
)

// StagerErrorCode is the taxonomy of ways staging can fail, per
// SPEC_FULL §4.4.
const (
	ErrSizeExceeded    = "size_exceeded"
	ErrNetworkError    = "network_error"
	ErrUploadMissing   = "upload_missing"
	ErrSchemeNotAllowed = "scheme_not_allowed"
)

// Stager materializes a job's input into a local file path, either by
// streaming an HTTP(S) URL or by rendezvousing with an uploaded binary
// frame. Progress during download occupies the 0-5% band of the overall
// job, per SPEC_FULL §4.4.
type Stager struct {
	MaxBytes       int64
	UploadTimeout  time.Duration
	HTTPClient     *http.Client
}

// NewStager constructs a Stager with the given byte cap.
func NewStager(maxBytes int64) *Stager {
	return &Stager{
		MaxBytes:      maxBytes,
		UploadTimeout: 30 * time.Second,
		HTTPClient:    &http.Client{},
	}
}

// Stage produces a local file for j.Input inside workDir, reporting
// progress through progress (0-5 for downloads; uploads report 5 once
// the payload lands, since the transfer itself isn't chunked on this
// side). cancelSignal is observed between network reads and while
// waiting on the upload rendezvous.
func (s *Stager) Stage(j *Job, workDir string, progress func(percent int), cancelSignal <-chan struct{}) (string, error) {
	switch j.Input.Source {
	case SourceURL:
		return s.stageURL(j.Input.URL, workDir, progress, cancelSignal)
	case SourceUpload:
		return s.stageUpload(j, workDir, progress, cancelSignal)
	default:
		return "", &JobError{Code: ErrSchemeNotAllowed, Message: "unknown input source"}
	}
}

// StageConcat downloads every URL in a concat job's ordered inputs
// option into workDir, returning their local paths in the same order.
// Concat's source list rides the operation's options (SPEC_FULL §4.1),
// not the envelope's single Input field, so this bypasses Stage
// entirely; concat inputs are URL-sourced only — the single-slot
// upload rendezvous channel has no way to express an ordered list of
// payloads, so uploads aren't a supported concat input form.
func (s *Stager) StageConcat(j *Job, workDir string, progress func(percent int), cancelSignal <-chan struct{}) ([]string, error) {
	urls := concatInputURLs(j.Options)
	if len(urls) < 2 {
		return nil, &JobError{Code: ErrUploadMissing, Message: "concat requires at least two input urls"}
	}

	paths := make([]string, 0, len(urls))
	for i, rawURL := range urls {
		idx := i
		name := fmt.Sprintf("concat_input_%d%s", idx, guessExt(rawURL))
		path, err := s.stageURLNamed(rawURL, workDir, name, func(pct int) {
			if progress == nil {
				return
			}
			// Each input's own 0-5 band contributes an equal share of
			// the overall download progress.
			progress((idx*5 + pct) / len(urls))
		}, cancelSignal)
		if err != nil {
			return nil, err
		}
		paths = append(paths, path)
	}
	if progress != nil {
		progress(5)
	}
	return paths, nil
}

// concatInputURLs extracts the concat operation's ordered "inputs"
// option as a string slice, tolerating both a native []string (test
// construction) and the []any a JSON-decoded options map produces.
func concatInputURLs(options map[string]any) []string {
	raw, ok := options["inputs"]
	if !ok {
		return nil
	}
	switch v := raw.(type) {
	case []string:
		return v
	case []any:
		out := make([]string, 0, len(v))
		for _, item := range v {
			if s, ok := item.(string); ok {
				out = append(out, s)
			}
		}
		return out
	default:
		return nil
	}
}

func (s *Stager) stageURL(rawURL, workDir string, progress func(int), cancelSignal <-chan struct{}) (string, error) {
	return s.stageURLNamed(rawURL, workDir, "input"+guessExt(rawURL), progress, cancelSignal)
}

// stageURLNamed is stageURL with an explicit destination filename, so
// StageConcat can stage several URLs into the same workDir without
// their "input"-prefixed names colliding.
func (s *Stager) stageURLNamed(rawURL, workDir, filename string, progress func(int), cancelSignal <-chan struct{}) (string, error) {
	log := logging.WithComponent("stager")

	if !strings.HasPrefix(rawURL, "http://") && !strings.HasPrefix(rawURL, "https://") {
		return "", &JobError{Code: ErrSchemeNotAllowed, Message: "only http/https URLs are allowed"}
	}

	resp, err := s.HTTPClient.Get(rawURL)
	if err != nil {
		return "", &JobError{Code: ErrNetworkError, Message: "download failed", Detail: err.Error()}
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 400 {
		return "", &JobError{Code: ErrNetworkError, Message: fmt.Sprintf("download failed with status %d", resp.StatusCode)}
	}

	outPath := filepath.Join(workDir, filename)
	f, err := os.Create(outPath)
	if err != nil {
		return "", &JobError{Code: ErrNetworkError, Message: "could not create staging file", Detail: err.Error()}
	}
	defer f.Close()

	var written int64
	buf := make([]byte, 32*1024)
	for {
		select {
		case <-cancelSignal:
			return "", &JobError{Code: "cancelled", Message: "staging cancelled"}
		default:
		}

		n, readErr := resp.Body.Read(buf)
		if n > 0 {
			written += int64(n)
			if s.MaxBytes > 0 && written > s.MaxBytes {
				log.Warn().Int64("limit", s.MaxBytes).Msg("download exceeded max size, aborting")
				return "", &JobError{Code: ErrSizeExceeded, Message: "download exceeded maximum allowed size"}
			}
			if _, werr := f.Write(buf[:n]); werr != nil {
				return "", &JobError{Code: ErrNetworkError, Message: "write failed", Detail: werr.Error()}
			}
			if resp.ContentLength > 0 {
				pct := int(written * 5 / resp.ContentLength)
				if progress != nil {
					progress(pct)
				}
			}
		}
		if readErr == io.EOF {
			break
		}
		if readErr != nil {
			return "", &JobError{Code: ErrNetworkError, Message: "download interrupted", Detail: readErr.Error()}
		}
	}
	if progress != nil {
		progress(5)
	}
	return outPath, nil
}

func (s *Stager) stageUpload(j *Job, workDir string, progress func(int), cancelSignal <-chan struct{}) (string, error) {
	timeout := s.UploadTimeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	select {
	case payload, ok := <-j.Upload:
		if !ok {
			return "", &JobError{Code: ErrUploadMissing, Message: "upload channel closed without payload"}
		}
		name := sanitizeFilename(payload.Filename)
		outPath := filepath.Join(workDir, name)
		if err := os.WriteFile(outPath, payload.Data, 0o644); err != nil {
			return "", &JobError{Code: ErrNetworkError, Message: "could not write uploaded file", Detail: err.Error()}
		}
		if progress != nil {
			progress(5)
		}
		return outPath, nil
	case <-cancelSignal:
		return "", &JobError{Code: "cancelled", Message: "staging cancelled"}
	case <-time.After(timeout):
		return "", &JobError{Code: ErrUploadMissing, Message: "no upload received before timeout"}
	}
}

// sanitizeFilename strips any path components, returning a bare
// basename, per SPEC_FULL §4.4.
func sanitizeFilename(name string) string {
	base := filepath.Base(name)
	if base == "" || base == "." || base == "/" || base == string(filepath.Separator) {
		return "upload.bin"
	}
	return base
}

func guessExt(rawURL string) string {
	idx := strings.LastIndex(rawURL, ".")
	if idx < 0 || idx < len(rawURL)-6 {
		return ".bin"
	}
	ext := rawURL[idx:]
	if strings.ContainsAny(ext, "/?&") {
		return ".bin"
	}
	return ext
}
