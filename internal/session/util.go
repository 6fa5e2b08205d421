package session

import (
	"os"
	"path/filepath"
)

// readArtifact reads a completed job's output file in full. Outputs are
// bounded by the same media inputs that produced them, so this is not
// expected to run unbounded; ffmpeg never writes multi-gigabyte outputs
// for the operation set this service exposes.
func readArtifact(path string) ([]byte, error) {
	return os.ReadFile(path)
}

func baseName(path string) string {
	return filepath.Base(path)
}
