// image/image.go

// Package image reads and writes machine images. The on-disk format is a
// sequence of 4-byte big-endian words; the first word of the file is the
// first word of the code array.
package image

import (
	"encoding/binary"
	"io"
	"os"

	"github.com/pkg/errors"
)

// Load reads the image file at path into a word vector.
func Load(path string) ([]uint32, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, errors.Wrap(err, "load image")
	}
	defer f.Close()
	words, err := Read(f)
	return words, errors.Wrapf(err, "load image %s", path)
}

// Read decodes a big-endian word stream. The stream must hold a positive
// multiple of four bytes.
func Read(r io.Reader) ([]uint32, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, errors.Wrap(err, "read image")
	}
	if len(data) == 0 {
		return nil, errors.New("empty image")
	}
	if len(data)%4 != 0 {
		return nil, errors.Errorf("image size %d is not a multiple of 4", len(data))
	}
	words := make([]uint32, len(data)/4)
	for i := range words {
		words[i] = binary.BigEndian.Uint32(data[i*4:])
	}
	return words, nil
}

// Write encodes words in the on-disk format.
func Write(w io.Writer, words []uint32) error {
	buf := make([]byte, 4)
	for _, v := range words {
		binary.BigEndian.PutUint32(buf, v)
		if _, err := w.Write(buf); err != nil {
			return errors.Wrap(err, "write image")
		}
	}
	return nil
}
