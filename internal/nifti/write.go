package nifti

import (
	"bufio"
	"compress/gzip"
	"encoding/binary"
	"fmt"
	"io"
	"math"
	"strings"

	"findoutlie/internal/fsutil"
)

// Write stores img at path as a little-endian float32 NIfTI-1 file. Paths
// ending in .gz are gzip compressed. The file is replaced atomically.
func Write(path string, img *Image) error {
	if img == nil {
		return fmt.Errorf("nil image")
	}
	return fsutil.WriteAtomic(path, 0o644, func(w io.Writer) error {
		if !strings.HasSuffix(path, ".gz") {
			return Encode(w, img)
		}
		zw := gzip.NewWriter(w)
		if err := Encode(zw, img); err != nil {
			return err
		}
		return zw.Close()
	})
}

// Encode writes the uncompressed single-file encoding of img to w.
func Encode(w io.Writer, img *Image) error {
	n := 1
	for _, d := range img.Shape {
		n *= d
	}
	if len(img.Data) != n {
		return fmt.Errorf("data has %d values, shape %v needs %d", len(img.Data), img.Shape, n)
	}

	h := img.Header
	h.SizeofHdr = headerSize
	h.Dim[0] = 4
	if img.Shape[3] == 1 {
		h.Dim[0] = 3
	}
	for i := 0; i < 4; i++ {
		h.Dim[i+1] = int16(img.Shape[i])
	}
	for i := 5; i < 8; i++ {
		h.Dim[i] = 1
	}
	h.Datatype = DTFloat32
	h.Bitpix = 32
	h.VoxOffset = defaultVoxOffset
	h.SclSlope = 0
	h.SclInter = 0
	h.Magic = magicSingle

	bw := bufio.NewWriter(w)
	if err := binary.Write(bw, binary.LittleEndian, &h); err != nil {
		return fmt.Errorf("write header: %w", err)
	}
	// Extension flag: no extensions.
	if _, err := bw.Write([]byte{0, 0, 0, 0}); err != nil {
		return err
	}
	var word [4]byte
	for _, v := range img.Data {
		binary.LittleEndian.PutUint32(word[:], math.Float32bits(float32(v)))
		if _, err := bw.Write(word[:]); err != nil {
			return err
		}
	}
	return bw.Flush()
}
