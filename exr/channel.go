package exr

import (
	"sort"
	"strings"

	"github.com/mrjoshuak/exrcore/internal/xdr"
)

// PixelType identifies the in-memory representation of a channel's samples.
type PixelType int32

const (
	// PixelTypeUint stores samples as unsigned 32-bit integers.
	PixelTypeUint PixelType = 0
	// PixelTypeHalf stores samples as 16-bit floats.
	PixelTypeHalf PixelType = 1
	// PixelTypeFloat stores samples as 32-bit floats.
	PixelTypeFloat PixelType = 2
)

// String returns a string representation of the pixel type.
func (pt PixelType) String() string {
	switch pt {
	case PixelTypeUint:
		return "uint"
	case PixelTypeHalf:
		return "half"
	case PixelTypeFloat:
		return "float"
	default:
		return "unknown"
	}
}

// Size returns the number of bytes a single sample of this type occupies.
func (pt PixelType) Size() int {
	switch pt {
	case PixelTypeUint:
		return 4
	case PixelTypeHalf:
		return 2
	case PixelTypeFloat:
		return 4
	default:
		return 0
	}
}

// Channel describes one named image channel: its sample type, subsampling
// and linearity.
type Channel struct {
	Name      string
	Type      PixelType
	XSampling int32
	YSampling int32
	PLinear   bool
}

// NewChannel returns a Channel with the given name and type, defaulting to
// 1x1 sampling and a non-linear transfer function.
func NewChannel(name string, pt PixelType) Channel {
	return Channel{
		Name:      name,
		Type:      pt,
		XSampling: 1,
		YSampling: 1,
	}
}

// Layer returns the layer prefix of the channel name, i.e. everything before
// the last '.'. A channel with no '.' belongs to the root layer ("").
func (c Channel) Layer() string {
	i := strings.LastIndexByte(c.Name, '.')
	if i < 0 {
		return ""
	}
	return c.Name[:i]
}

// BaseName returns the channel name with its layer prefix removed.
func (c Channel) BaseName() string {
	i := strings.LastIndexByte(c.Name, '.')
	if i < 0 {
		return c.Name
	}
	return c.Name[i+1:]
}

// ChannelList holds the ordered, name-unique set of channels in a Header.
type ChannelList struct {
	channels []Channel
}

// NewChannelList returns an empty ChannelList.
func NewChannelList() *ChannelList {
	return &ChannelList{}
}

// Add appends a channel. It returns false without modifying the list if a
// channel with the same name is already present.
func (cl *ChannelList) Add(c Channel) bool {
	for i := range cl.channels {
		if cl.channels[i].Name == c.Name {
			return false
		}
	}
	cl.channels = append(cl.channels, c)
	return true
}

// Len returns the number of channels.
func (cl *ChannelList) Len() int {
	return len(cl.channels)
}

// Get returns a pointer to the channel with the given name, or nil if absent.
func (cl *ChannelList) Get(name string) *Channel {
	for i := range cl.channels {
		if cl.channels[i].Name == name {
			return &cl.channels[i]
		}
	}
	return nil
}

// At returns the channel at the given index.
func (cl *ChannelList) At(i int) Channel {
	return cl.channels[i]
}

// Names returns the names of all channels, in list order.
func (cl *ChannelList) Names() []string {
	names := make([]string, len(cl.channels))
	for i, c := range cl.channels {
		names[i] = c.Name
	}
	return names
}

// Channels returns a copy of the underlying channel slice. Mutating the
// result does not affect the ChannelList.
func (cl *ChannelList) Channels() []Channel {
	out := make([]Channel, len(cl.channels))
	copy(out, cl.channels)
	return out
}

// HasRGB reports whether R, G and B channels are all present.
func (cl *ChannelList) HasRGB() bool {
	return cl.Get("R") != nil && cl.Get("G") != nil && cl.Get("B") != nil
}

// HasAlpha reports whether an A channel is present.
func (cl *ChannelList) HasAlpha() bool {
	return cl.Get("A") != nil
}

// HasRGBA reports whether R, G, B and A channels are all present.
func (cl *ChannelList) HasRGBA() bool {
	return cl.HasRGB() && cl.HasAlpha()
}

// Layers returns the distinct non-root layer prefixes present in the list.
func (cl *ChannelList) Layers() []string {
	seen := make(map[string]bool)
	var layers []string
	for _, c := range cl.channels {
		l := c.Layer()
		if l == "" || seen[l] {
			continue
		}
		seen[l] = true
		layers = append(layers, l)
	}
	return layers
}

// ChannelsInLayer returns the channels whose Layer() equals the given name.
// Pass "" for the root (unqualified) layer.
func (cl *ChannelList) ChannelsInLayer(layer string) []Channel {
	var out []Channel
	for _, c := range cl.channels {
		if c.Layer() == layer {
			out = append(out, c)
		}
	}
	return out
}

// SortByName sorts the channels alphabetically by name.
func (cl *ChannelList) SortByName() {
	sort.Slice(cl.channels, func(i, j int) bool {
		return cl.channels[i].Name < cl.channels[j].Name
	})
}

// SortForCompression sorts channels by PixelType value (Uint, Half, Float),
// then by name, so channels of the same pixel type are adjacent.
func (cl *ChannelList) SortForCompression() {
	sort.Slice(cl.channels, func(i, j int) bool {
		if cl.channels[i].Type != cl.channels[j].Type {
			return cl.channels[i].Type < cl.channels[j].Type
		}
		return cl.channels[i].Name < cl.channels[j].Name
	})
}

// BytesPerPixel returns the sum of each channel's sample size, ignoring
// subsampling.
func (cl *ChannelList) BytesPerPixel() int {
	total := 0
	for _, c := range cl.channels {
		total += c.Type.Size()
	}
	return total
}

// BytesPerScanline returns the number of bytes one scanline of the given
// pixel width occupies across all channels, accounting for XSampling.
func (cl *ChannelList) BytesPerScanline(width int) int {
	total := 0
	for _, c := range cl.channels {
		xs := int(c.XSampling)
		if xs < 1 {
			xs = 1
		}
		sampledWidth := (width + xs - 1) / xs
		total += sampledWidth * c.Type.Size()
	}
	return total
}

// ReadChannelList reads a channel list from its wire representation: a
// sequence of {name\0, type int32, pLinear byte, reserved[3]byte, xSampling
// int32, ySampling int32} records terminated by an empty name.
func ReadChannelList(r *xdr.Reader) (*ChannelList, error) {
	cl := NewChannelList()
	for {
		name, err := r.ReadString()
		if err != nil {
			return nil, err
		}
		if name == "" {
			return cl, nil
		}

		typeVal, err := r.ReadInt32()
		if err != nil {
			return nil, err
		}

		pLinear, err := r.ReadByte()
		if err != nil {
			return nil, err
		}

		if _, err := r.ReadBytes(3); err != nil {
			return nil, err
		}

		xSampling, err := r.ReadInt32()
		if err != nil {
			return nil, err
		}

		ySampling, err := r.ReadInt32()
		if err != nil {
			return nil, err
		}

		cl.channels = append(cl.channels, Channel{
			Name:      name,
			Type:      PixelType(typeVal),
			PLinear:   pLinear != 0,
			XSampling: xSampling,
			YSampling: ySampling,
		})
	}
}

// WriteChannelList writes a channel list to its wire representation,
// terminated by an empty name.
func WriteChannelList(w *xdr.BufferWriter, cl *ChannelList) {
	for _, c := range cl.channels {
		w.WriteString(c.Name)
		w.WriteInt32(int32(c.Type))
		if c.PLinear {
			w.WriteByte(1)
		} else {
			w.WriteByte(0)
		}
		w.WriteBytes([]byte{0, 0, 0})
		w.WriteInt32(c.XSampling)
		w.WriteInt32(c.YSampling)
	}
	w.WriteByte(0)
}
