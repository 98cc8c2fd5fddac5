package gpu

import "github.com/cockroachdb/errors"

// Image is a device-resident 2-D image backed by allocator memory.
type Image struct {
	ref
	info ImageInfo
}

// NewImage allocates an image from allocator. The image keeps both the
// device and the allocator alive.
func (d *Device) NewImage(allocator *Allocator, info ImageInfo) (*Image, error) {
	if info.Extent.Width <= 0 || info.Extent.Height <= 0 {
		return nil, errors.Newf("create image: invalid extent %s", info.Extent)
	}

	h, err := d.driver.CreateImage(allocator.Handle(), info)
	if err != nil {
		return nil, errors.Wrapf(err, "create %s image", info.Extent)
	}

	img := &Image{info: info}
	img.init(newObject("image", h, d.driver.DestroyImage, d.obj, allocator.obj))
	return img, nil
}

func (i *Image) Clone() *Image {
	c := &Image{info: i.info}
	c.init(i.obj.retain())
	return c
}

func (i *Image) Info() ImageInfo {
	return i.info
}

func (i *Image) Extent() Extent2D {
	return i.info.Extent
}

func (i *Image) NativeImage() Handle {
	return i.Handle()
}
