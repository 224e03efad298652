package blob

import (
	"bytes"
	"io"

	"github.com/arborstate/vstate/errors"
	"github.com/klauspost/compress/flate"
)

// deflate compresses buf, used for a sub-blob payload when
// Writer.Compress is set. Modeled on recordioutil.FlateTransform's
// CompressTransform, adapted from a multi-buffer record transform to
// a single payload slice.
func deflate(buf []byte) ([]byte, error) {
	out := bytes.NewBuffer(make([]byte, 0, len(buf)))
	fw, err := flate.NewWriter(out, flate.DefaultCompression)
	if err != nil {
		return nil, err
	}
	if _, err := fw.Write(buf); err != nil {
		return nil, err
	}
	if err := fw.Close(); err != nil {
		return nil, err
	}
	return out.Bytes(), nil
}

// inflate decompresses buf, the reciprocal of deflate. Modeled on
// recordioutil.FlateTransform's DecompressTransform.
func inflate(buf []byte) (_ []byte, err error) {
	out := bytes.NewBuffer(make([]byte, 0, len(buf)*2))
	fr := flate.NewReader(bytes.NewReader(buf))
	defer errors.CleanUp(fr.Close, &err)
	if _, err := io.Copy(out, fr); err != nil {
		return nil, err
	}
	return out.Bytes(), nil
}
