package supervisor

import (
	"bytes"
	"fmt"
	"io"
	"os"
)

// ggufMagic is the fixed four-byte signature at the start of every GGUF
// model file.
var ggufMagic = []byte("GGUF")

// ValidateModelFile performs a cheap structural check on a model file:
// the header magic is compared against the GGUF signature without parsing
// the rest of the file. A failure returns an InvalidModelFile error and
// the server is never spawned.
func ValidateModelFile(path string) error {
	if path == "" {
		return ErrInvalidModelFile("(unset)", "no model configured; set server.model_path or pass one to start")
	}
	f, err := os.Open(path)
	if err != nil {
		return ErrInvalidModelFile(path, fmt.Sprintf("cannot open: %v", err))
	}
	defer f.Close()

	header := make([]byte, len(ggufMagic))
	if _, err := io.ReadFull(f, header); err != nil {
		return ErrInvalidModelFile(path, "file too short to hold a GGUF header")
	}
	if !bytes.Equal(header, ggufMagic) {
		return ErrInvalidModelFile(path, fmt.Sprintf("not a GGUF file (magic %q)", header))
	}
	return nil
}
