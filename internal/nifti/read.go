package nifti

import (
	"bufio"
	"compress/gzip"
	"encoding/binary"
	"fmt"
	"io"
	"math"
	"os"
	"slices"
)

const (
	// maxVoxels keeps the byte count of a header-declared image in range.
	maxVoxels = 1 << 31
	// chunkBytes is the read size while decoding voxels. Memory grows only
	// with data actually read, never with the declared dimensions.
	chunkBytes = 1 << 20
)

// Read loads a .nii or .nii.gz image from path. Compression is detected from
// the stream, not the file name.
func Read(path string) (*Image, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	img, err := Decode(f)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", path, err)
	}
	return img, nil
}

// Decode reads a single-file NIfTI-1 image from r, transparently
// decompressing gzip input.
func Decode(r io.Reader) (*Image, error) {
	br := bufio.NewReader(r)
	magic, err := br.Peek(2)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrNotNIfTI, err)
	}
	var src io.Reader = br
	if magic[0] == 0x1f && magic[1] == 0x8b {
		zr, err := gzip.NewReader(br)
		if err != nil {
			return nil, fmt.Errorf("open gzip stream: %w", err)
		}
		defer zr.Close()
		src = zr
	}

	raw := make([]byte, headerSize)
	if _, err := io.ReadFull(src, raw); err != nil {
		return nil, fmt.Errorf("%w: short header: %v", ErrNotNIfTI, err)
	}
	h, order, err := decodeHeader(raw)
	if err != nil {
		return nil, err
	}
	shape, err := h.shape()
	if err != nil {
		return nil, err
	}
	size := h.Datatype.Size()
	if size == 0 {
		return nil, fmt.Errorf("%w: voxel type %s", ErrUnsupported, h.Datatype)
	}

	offset := int64(h.VoxOffset)
	if offset < headerSize {
		return nil, fmt.Errorf("%w: vox_offset %v inside header", ErrNotNIfTI, h.VoxOffset)
	}
	if _, err := io.CopyN(io.Discard, src, offset-headerSize); err != nil {
		return nil, fmt.Errorf("%w: skip to vox_offset: %v", ErrShortData, err)
	}

	n := int64(1)
	for _, d := range shape {
		n *= int64(d)
	}
	if n > maxVoxels {
		return nil, fmt.Errorf("%w: %d voxels", ErrUnsupported, n)
	}
	data, err := readVoxels(src, n, size, h.Datatype, order)
	if err != nil {
		return nil, err
	}
	applyScaling(data, h.SclSlope, h.SclInter)

	return &Image{Header: h, Order: order, Shape: shape, Data: data}, nil
}

// readVoxels decodes n voxels of the given size in chunks. A stream that ends
// early is ErrShortData.
func readVoxels(src io.Reader, n int64, size int, dt Datatype, order binary.ByteOrder) ([]float64, error) {
	total := n * int64(size)
	buf := make([]byte, min(total, chunkBytes))
	data := make([]float64, 0, len(buf)/size)
	for read := int64(0); read < total; {
		chunk := buf[:min(total-read, int64(len(buf)))]
		if _, err := io.ReadFull(src, chunk); err != nil {
			return nil, fmt.Errorf("%w: %d of %d bytes: %v", ErrShortData, read, total, err)
		}
		start := len(data)
		data = slices.Grow(data, len(chunk)/size)[:start+len(chunk)/size]
		decodeVoxels(data[start:], chunk, dt, order)
		read += int64(len(chunk))
	}
	return data, nil
}

func decodeVoxels(dst []float64, buf []byte, dt Datatype, order binary.ByteOrder) {
	switch dt {
	case DTUint8:
		for i := range dst {
			dst[i] = float64(buf[i])
		}
	case DTInt8:
		for i := range dst {
			dst[i] = float64(int8(buf[i]))
		}
	case DTInt16:
		for i := range dst {
			dst[i] = float64(int16(order.Uint16(buf[2*i:])))
		}
	case DTUint16:
		for i := range dst {
			dst[i] = float64(order.Uint16(buf[2*i:]))
		}
	case DTInt32:
		for i := range dst {
			dst[i] = float64(int32(order.Uint32(buf[4*i:])))
		}
	case DTUint32:
		for i := range dst {
			dst[i] = float64(order.Uint32(buf[4*i:]))
		}
	case DTFloat32:
		for i := range dst {
			dst[i] = float64(math.Float32frombits(order.Uint32(buf[4*i:])))
		}
	case DTInt64:
		for i := range dst {
			dst[i] = float64(int64(order.Uint64(buf[8*i:])))
		}
	case DTUint64:
		for i := range dst {
			dst[i] = float64(order.Uint64(buf[8*i:]))
		}
	case DTFloat64:
		for i := range dst {
			dst[i] = math.Float64frombits(order.Uint64(buf[8*i:]))
		}
	}
}

// applyScaling applies scl_slope/scl_inter. A zero or non-finite slope means
// the data is unscaled.
func applyScaling(data []float64, slope, inter float32) {
	s, c := float64(slope), float64(inter)
	if s == 0 || math.IsNaN(s) || math.IsInf(s, 0) {
		return
	}
	if s == 1 && c == 0 {
		return
	}
	for i, v := range data {
		data[i] = v*s + c
	}
}
