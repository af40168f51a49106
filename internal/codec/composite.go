package codec

import (
	"io"

	"github.com/distriforge/forgepack/internal/stream"
)

// Composite is the stream.Reader/Writer the CLI configures the engine with
// by default: it always writes the binary codec (every artifact the build
// task engine or a build rule produces is ours to read back, so there is no
// reason to prefer the larger textual form), but reads either format, since
// a scanned raw resource may have been authored as `.rd.yaml` or `.bin`
// (spec §4.9) and the task engine's read path does not carry that
// distinction past the scan step. Read sniffs by trying the readable codec
// first and rewinding to retry as binary on failure.
type Composite struct {
	Binary   GobBinary
	Readable YAMLReadable
}

func (c *Composite) Write(w io.Writer, typeName string, value any, writeHeader bool) (stream.Status, error) {
	return c.Binary.Write(w, typeName, value, writeHeader)
}

func (c *Composite) Read(r io.Reader, typeName string, checkHeader bool, out any) (stream.Status, error) {
	seeker, ok := r.(io.ReadSeeker)
	if !ok {
		return c.Binary.Read(r, typeName, checkHeader, out)
	}
	start, err := seeker.Seek(0, io.SeekCurrent)
	if err != nil {
		return stream.Failed, err
	}
	if status, rerr := c.Readable.Read(seeker, typeName, checkHeader, out); rerr == nil {
		return status, nil
	}
	if _, err := seeker.Seek(start, io.SeekStart); err != nil {
		return stream.Failed, err
	}
	return c.Binary.Read(seeker, typeName, checkHeader, out)
}
