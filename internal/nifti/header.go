// Package nifti reads and writes single-file NIfTI-1 images.
//
// Only the subset needed for volume-level quality control is supported:
// 3D or 4D images with real-valued voxel types. Voxel values are always
// exposed as float64 with the header scaling already applied.
package nifti

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"strings"
)

const (
	headerSize     = 348
	nifti2SizeHint = 540
	// Single-file images carry a 4 byte extension flag after the header.
	defaultVoxOffset = 352
)

var (
	ErrNotNIfTI    = errors.New("not a NIfTI-1 file")
	ErrUnsupported = errors.New("unsupported NIfTI image")
	ErrShortData   = errors.New("image data shorter than header dimensions")
)

// Datatype is the NIfTI-1 voxel type code.
type Datatype int16

const (
	DTUint8   Datatype = 2
	DTInt16   Datatype = 4
	DTInt32   Datatype = 8
	DTFloat32 Datatype = 16
	DTFloat64 Datatype = 64
	DTInt8    Datatype = 256
	DTUint16  Datatype = 512
	DTUint32  Datatype = 768
	DTInt64   Datatype = 1024
	DTUint64  Datatype = 1280
)

// Size returns the number of bytes per voxel, or 0 for unsupported types.
func (d Datatype) Size() int {
	switch d {
	case DTUint8, DTInt8:
		return 1
	case DTInt16, DTUint16:
		return 2
	case DTInt32, DTUint32, DTFloat32:
		return 4
	case DTInt64, DTUint64, DTFloat64:
		return 8
	default:
		return 0
	}
}

func (d Datatype) String() string {
	switch d {
	case DTUint8:
		return "uint8"
	case DTInt16:
		return "int16"
	case DTInt32:
		return "int32"
	case DTFloat32:
		return "float32"
	case DTFloat64:
		return "float64"
	case DTInt8:
		return "int8"
	case DTUint16:
		return "uint16"
	case DTUint32:
		return "uint32"
	case DTInt64:
		return "int64"
	case DTUint64:
		return "uint64"
	default:
		return fmt.Sprintf("datatype(%d)", int16(d))
	}
}

// Header is the on-disk NIfTI-1 header. Field order and sizes match the
// 348 byte layout exactly so it can be decoded with encoding/binary.
type Header struct {
	SizeofHdr     int32
	DataType      [10]byte
	DBName        [18]byte
	Extents       int32
	SessionError  int16
	Regular       byte
	DimInfo       byte
	Dim           [8]int16
	IntentP1      float32
	IntentP2      float32
	IntentP3      float32
	IntentCode    int16
	Datatype      Datatype
	Bitpix        int16
	SliceStart    int16
	Pixdim        [8]float32
	VoxOffset     float32
	SclSlope      float32
	SclInter      float32
	SliceEnd      int16
	SliceCode     byte
	XYZTUnits     byte
	CalMax        float32
	CalMin        float32
	SliceDuration float32
	Toffset       float32
	Glmax         int32
	Glmin         int32
	Descrip       [80]byte
	AuxFile       [24]byte
	QformCode     int16
	SformCode     int16
	QuaternB      float32
	QuaternC      float32
	QuaternD      float32
	QoffsetX      float32
	QoffsetY      float32
	QoffsetZ      float32
	SrowX         [4]float32
	SrowY         [4]float32
	SrowZ         [4]float32
	IntentName    [16]byte
	Magic         [4]byte
}

var (
	magicSingle = [4]byte{'n', '+', '1', 0}
	magicPair   = [4]byte{'n', 'i', '1', 0}
)

// Description returns the descrip field as a Go string.
func (h *Header) Description() string {
	return strings.TrimRight(string(h.Descrip[:]), "\x00 ")
}

// SetDescription stores s in the descrip field, truncating to 79 bytes.
func (h *Header) SetDescription(s string) {
	h.Descrip = [80]byte{}
	copy(h.Descrip[:79], s)
}

// detectByteOrder inspects sizeof_hdr to find the header byte order.
func detectByteOrder(raw []byte) (binary.ByteOrder, error) {
	if len(raw) < 4 {
		return nil, ErrNotNIfTI
	}
	le := binary.LittleEndian.Uint32(raw[:4])
	be := binary.BigEndian.Uint32(raw[:4])
	switch {
	case le == headerSize:
		return binary.LittleEndian, nil
	case be == headerSize:
		return binary.BigEndian, nil
	case le == nifti2SizeHint || be == nifti2SizeHint:
		return nil, fmt.Errorf("%w: NIfTI-2 headers are not supported", ErrUnsupported)
	default:
		return nil, ErrNotNIfTI
	}
}

func decodeHeader(raw []byte) (Header, binary.ByteOrder, error) {
	var h Header
	order, err := detectByteOrder(raw)
	if err != nil {
		return h, nil, err
	}
	if err := binary.Read(bytes.NewReader(raw), order, &h); err != nil {
		return h, nil, fmt.Errorf("decode header: %w", err)
	}
	switch h.Magic {
	case magicSingle:
	case magicPair:
		return h, nil, fmt.Errorf("%w: header/image pairs (ni1) are not supported", ErrUnsupported)
	default:
		return h, nil, fmt.Errorf("%w: bad magic %q", ErrNotNIfTI, h.Magic[:])
	}
	return h, order, nil
}

// shape validates the dim field and returns (x, y, z, t).
func (h *Header) shape() ([4]int, error) {
	var s [4]int
	ndim := int(h.Dim[0])
	if ndim < 1 || ndim > 7 {
		return s, fmt.Errorf("%w: dim[0]=%d", ErrNotNIfTI, ndim)
	}
	for i := 0; i < 4; i++ {
		s[i] = 1
		if i < ndim {
			d := int(h.Dim[i+1])
			if d < 1 {
				return s, fmt.Errorf("%w: dim[%d]=%d", ErrNotNIfTI, i+1, d)
			}
			s[i] = d
		}
	}
	for i := 5; i <= ndim; i++ {
		if h.Dim[i] != 1 {
			return s, fmt.Errorf("%w: %d-dimensional image (dim[%d]=%d)", ErrUnsupported, ndim, i, h.Dim[i])
		}
	}
	return s, nil
}
