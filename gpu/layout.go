package gpu

import "github.com/cockroachdb/errors"

// ResourceLayout describes the bindings a program expects.
type ResourceLayout struct {
	ref
	info ResourceLayoutInfo
}

func (d *Device) NewResourceLayout(info ResourceLayoutInfo) (*ResourceLayout, error) {
	if len(info.Bindings) == 0 {
		return nil, errors.New("create resource layout: no bindings")
	}

	h, err := d.driver.CreateResourceLayout(info)
	if err != nil {
		return nil, errors.Wrap(err, "create resource layout")
	}

	l := &ResourceLayout{info: info}
	l.init(newObject("resource layout", h, d.driver.DestroyResourceLayout, d.obj))
	return l, nil
}

func (l *ResourceLayout) Clone() *ResourceLayout {
	c := &ResourceLayout{info: l.info}
	c.init(l.obj.retain())
	return c
}

func (l *ResourceLayout) Info() ResourceLayoutInfo {
	return l.info
}

// ImageSet binds a fixed array of images to a resource layout.
type ImageSet struct {
	ref
	count int
}

// NewImageSet binds images, in order, to the first binding of layout. The set
// keeps every image alive.
func (d *Device) NewImageSet(layout *ResourceLayout, images []*Image) (*ImageSet, error) {
	if len(images) == 0 {
		return nil, errors.New("create image set: no images")
	}
	if want := layout.info.Bindings[0].Count; want != len(images) {
		return nil, errors.Newf("create image set: layout expects %d images, got %d", want, len(images))
	}

	handles := make([]Handle, len(images))
	deps := []*object{d.obj, layout.obj}
	for i, img := range images {
		handles[i] = img.Handle()
		deps = append(deps, img.obj)
	}

	h, err := d.driver.CreateImageSet(layout.Handle(), handles)
	if err != nil {
		return nil, errors.Wrap(err, "create image set")
	}

	s := &ImageSet{count: len(images)}
	s.init(newObject("image set", h, d.driver.DestroyImageSet, deps...))
	return s, nil
}

func (s *ImageSet) Clone() *ImageSet {
	c := &ImageSet{count: s.count}
	c.init(s.obj.retain())
	return c
}

func (s *ImageSet) Len() int {
	return s.count
}
