package nifti

import (
	"encoding/binary"
	"fmt"
)

// Image is a decoded NIfTI-1 image.
//
// Data is stored in file order: x varies fastest, t slowest. A 3D image is
// treated as a single volume.
type Image struct {
	Header Header
	Order  binary.ByteOrder
	Shape  [4]int
	Data   []float64
}

// New builds a float image with an identity-scaled header. It is the starting
// point for images written by this package.
func New(shape [4]int, data []float64) (*Image, error) {
	n := 1
	for i, d := range shape {
		if d < 1 {
			return nil, fmt.Errorf("shape[%d] must be >= 1 (got %d)", i, d)
		}
		n *= d
	}
	if len(data) != n {
		return nil, fmt.Errorf("data has %d values, shape %v needs %d", len(data), shape, n)
	}
	var h Header
	h.SizeofHdr = headerSize
	h.Regular = 'r'
	h.Dim[0] = 4
	for i := 0; i < 4; i++ {
		h.Dim[i+1] = int16(shape[i])
		h.Pixdim[i+1] = 1
	}
	for i := 5; i < 8; i++ {
		h.Dim[i] = 1
	}
	h.Pixdim[0] = 1
	h.Datatype = DTFloat32
	h.Bitpix = 32
	h.VoxOffset = defaultVoxOffset
	h.Magic = magicSingle
	return &Image{Header: h, Order: binary.LittleEndian, Shape: shape, Data: data}, nil
}

// NumVolumes returns the number of volumes (the t dimension).
func (img *Image) NumVolumes() int { return img.Shape[3] }

// VoxelsPerVolume returns x*y*z.
func (img *Image) VoxelsPerVolume() int { return img.Shape[0] * img.Shape[1] * img.Shape[2] }

// Volume returns a view of volume t. The returned slice aliases Data.
func (img *Image) Volume(t int) []float64 {
	v := img.VoxelsPerVolume()
	return img.Data[t*v : (t+1)*v]
}

// SelectVolumes returns a copy of the image holding only the given volumes,
// in the given order.
func (img *Image) SelectVolumes(keep []int) (*Image, error) {
	if len(keep) == 0 {
		return nil, fmt.Errorf("no volumes selected")
	}
	v := img.VoxelsPerVolume()
	data := make([]float64, 0, v*len(keep))
	for _, t := range keep {
		if t < 0 || t >= img.NumVolumes() {
			return nil, fmt.Errorf("volume %d out of range [0,%d)", t, img.NumVolumes())
		}
		data = append(data, img.Volume(t)...)
	}
	out := &Image{Header: img.Header, Order: img.Order, Shape: img.Shape, Data: data}
	out.Shape[3] = len(keep)
	out.Header.Dim[4] = int16(len(keep))
	if out.Header.Dim[0] < 4 {
		out.Header.Dim[0] = 4
	}
	return out, nil
}
