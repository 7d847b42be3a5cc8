package pcd

import (
	"errors"
	"fmt"
	"image/color"
	"io"

	"github.com/golang/geo/r3"
	"github.com/seqsense/pcgol/pc"

	"github.com/seqsense/pcdmls/mat"
)

var (
	ErrNoPosition   = errors.New("pcd: x, y and z fields are required")
	ErrFieldType    = errors.New("pcd: unsupported field type")
	ErrTruncatedPCD = errors.New("pcd: data shorter than declared points")
)

var normalFields = []string{"normal_x", "normal_y", "normal_z"}

// hasField reports whether the header declares name as a single 4 byte
// element. Any other layout of a recognized field is an error.
func hasField(h *pc.PointCloudHeader, name string) (bool, error) {
	for i, fn := range h.Fields {
		if fn != name {
			continue
		}
		if h.Size[i] != 4 || h.Count[i] != 1 {
			typ := "?"
			if i < len(h.Type) {
				typ = h.Type[i]
			}
			return false, fmt.Errorf("%w: %s: %s%d", ErrFieldType, name, typ, h.Size[i])
		}
		return true, nil
	}
	return false, nil
}

// FromPointCloud converts a decoded PCD into a Cloud.
// Recognized optional fields are normal_x/normal_y/normal_z, radius and rgb or rgba.
func FromPointCloud(pp *pc.PointCloud) (*Cloud, error) {
	for _, name := range []string{"x", "y", "z"} {
		ok, err := hasField(&pp.PointCloudHeader, name)
		if err != nil {
			return nil, err
		}
		if !ok {
			return nil, ErrNoPosition
		}
	}
	if len(pp.Data) < pp.Stride()*pp.Points {
		return nil, ErrTruncatedPCD
	}

	var attrs Attr
	hasNormal := true
	for _, name := range normalFields {
		ok, err := hasField(&pp.PointCloudHeader, name)
		if err != nil {
			return nil, err
		}
		hasNormal = hasNormal && ok
	}
	if hasNormal {
		attrs |= AttrNormal
	}
	hasRadius, err := hasField(&pp.PointCloudHeader, "radius")
	if err != nil {
		return nil, err
	}
	if hasRadius {
		attrs |= AttrRadius
	}
	colorField := "rgba"
	hasColor, err := hasField(&pp.PointCloudHeader, colorField)
	if err != nil {
		return nil, err
	}
	if !hasColor {
		colorField = "rgb"
		if hasColor, err = hasField(&pp.PointCloudHeader, colorField); err != nil {
			return nil, err
		}
	}
	if hasColor {
		attrs |= AttrColor
	}

	it, err := pp.Vec3Iterator()
	if err != nil {
		return nil, err
	}
	var nit []pc.Float32Iterator
	if hasNormal {
		if nit, err = pp.Float32Iterators(normalFields...); err != nil {
			return nil, err
		}
	}
	var rit pc.Float32Iterator
	if hasRadius {
		if rit, err = pp.Float32Iterator("radius"); err != nil {
			return nil, err
		}
	}
	var cit pc.Uint32Iterator
	if hasColor {
		if cit, err = pp.Uint32Iterator(colorField); err != nil {
			return nil, err
		}
	}

	c := &Cloud{
		points: make([]Point, pp.Points),
		attrs:  attrs,
	}
	for i := 0; i < pp.Points; i++ {
		p := &c.points[i]
		p.Position = mat.FromVec3(it.Vec3())
		it.Incr()
		if hasNormal {
			p.Normal = mat.Normalized(r3.Vector{
				X: float64(nit[0].Float32()),
				Y: float64(nit[1].Float32()),
				Z: float64(nit[2].Float32()),
			})
			for _, ni := range nit {
				ni.Incr()
			}
		}
		if hasRadius {
			p.Radius = float64(rit.Float32())
			rit.Incr()
		}
		if hasColor {
			p.Color = unpackColor(cit.Uint32())
			cit.Incr()
		}
	}
	return c, nil
}

// PointCloud encodes the cloud into a binary PCD structure.
func (c *Cloud) PointCloud() (*pc.PointCloud, error) {
	h := pc.PointCloudHeader{
		Version:   0.7,
		Fields:    []string{"x", "y", "z"},
		Size:      []int{4, 4, 4},
		Type:      []string{"F", "F", "F"},
		Count:     []int{1, 1, 1},
		Width:     len(c.points),
		Height:    1,
		Viewpoint: []float32{0, 0, 0, 1, 0, 0, 0},
	}
	addField := func(name, typ string) {
		h.Fields = append(h.Fields, name)
		h.Size = append(h.Size, 4)
		h.Type = append(h.Type, typ)
		h.Count = append(h.Count, 1)
	}
	if c.Has(AttrNormal) {
		for _, name := range normalFields {
			addField(name, "F")
		}
	}
	if c.Has(AttrRadius) {
		addField("radius", "F")
	}
	if c.Has(AttrColor) {
		addField("rgba", "U")
	}

	pp := &pc.PointCloud{
		PointCloudHeader: h,
		Points:           len(c.points),
	}
	pp.Data = make([]byte, len(c.points)*pp.Stride())

	it, err := pp.Vec3Iterator()
	if err != nil {
		return nil, err
	}
	var nit []pc.Float32Iterator
	if c.Has(AttrNormal) {
		if nit, err = pp.Float32Iterators(normalFields...); err != nil {
			return nil, err
		}
	}
	var rit pc.Float32Iterator
	if c.Has(AttrRadius) {
		if rit, err = pp.Float32Iterator("radius"); err != nil {
			return nil, err
		}
	}
	var cit pc.Uint32Iterator
	if c.Has(AttrColor) {
		if cit, err = pp.Uint32Iterator("rgba"); err != nil {
			return nil, err
		}
	}
	for i := range c.points {
		p := &c.points[i]
		it.SetVec3(mat.ToVec3(p.Position))
		it.Incr()
		if nit != nil {
			nit[0].SetFloat32(float32(p.Normal.X))
			nit[1].SetFloat32(float32(p.Normal.Y))
			nit[2].SetFloat32(float32(p.Normal.Z))
			for _, ni := range nit {
				ni.Incr()
			}
		}
		if rit != nil {
			rit.SetFloat32(float32(p.Radius))
			rit.Incr()
		}
		if cit != nil {
			cit.SetUint32(packColor(p.Color))
			cit.Incr()
		}
	}
	return pp, nil
}

// Load reads a PCD stream.
func Load(r io.Reader) (*Cloud, error) {
	pp, err := pc.Unmarshal(r)
	if err != nil {
		return nil, err
	}
	return FromPointCloud(pp)
}

// Save writes the cloud as PCD.
func (c *Cloud) Save(w io.Writer) error {
	pp, err := c.PointCloud()
	if err != nil {
		return err
	}
	return pc.Marshal(pp, w)
}

func unpackColor(v uint32) color.RGBA {
	a := uint8(v >> 24)
	if a == 0 {
		// rgb fields leave the alpha byte unused
		a = 0xff
	}
	return color.RGBA{R: uint8(v >> 16), G: uint8(v >> 8), B: uint8(v), A: a}
}

func packColor(c color.RGBA) uint32 {
	return uint32(c.A)<<24 | uint32(c.R)<<16 | uint32(c.G)<<8 | uint32(c.B)
}
