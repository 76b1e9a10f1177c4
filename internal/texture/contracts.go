package texture

// SourceID is the process-local identifier of a Source. It doubles as the
// decode request id on the wire.
type SourceID int64

// Image is a decoded RGBA buffer ready for upload.
type Image struct {
	Width      int
	Height     int
	Pixels     []byte
	RenderInfo map[string]any
}

// ByteSize returns the uploaded size of img.
func (img *Image) ByteSize() int64 {
	if img == nil {
		return 0
	}
	return int64(img.Width) * int64(img.Height) * bytesPerPixel
}

const bytesPerPixel = 4

// Holder is a consumer that keeps a Source alive. Implementations are
// compared by identity, so they should be pointer types.
type Holder interface {
	OnTextureSourceLoaded(src *Source)
	OnTextureSourceLoadError(src *Source, err error)
	OnTextureSourceAddedToAtlas(src *Source, x, y int)
	OnTextureSourceRemovedFromAtlas(src *Source)
}

// DeliverFunc receives the single result of a decode request. It may be
// called from any goroutine.
type DeliverFunc func(img *Image, err error)

// CancelFunc withdraws a decode request. After it returns, the request's
// DeliverFunc is never called. It must be safe to call more than once.
type CancelFunc func()

// Loader starts decode requests for one asset.
type Loader interface {
	Start(id SourceID, deliver DeliverFunc) (CancelFunc, error)
}

// LoaderFunc adapts a function to Loader.
type LoaderFunc func(id SourceID, deliver DeliverFunc) (CancelFunc, error)

// Start calls f.
func (f LoaderFunc) Start(id SourceID, deliver DeliverFunc) (CancelFunc, error) {
	return f(id, deliver)
}

// Uploader moves decoded pixels to the GPU and releases them again.
type Uploader interface {
	Upload(src *Source, img *Image) error
	Release(src *Source)
}

// Atlas is the shared-texture packer. Only its membership contract is used:
// Remove drops src from the atlas and is expected to call
// src.RemovedFromAtlas.
type Atlas interface {
	Remove(src *Source)
}

// Loadable is the part of a Source driven by consumers.
type Loadable interface {
	Load(sync bool)
	State() State
	AddHolder(h Holder)
	RemoveHolder(h Holder)
}

// Evictable is the part of a Source consulted by the cache sweep.
type Evictable interface {
	Evictable() bool
	ByteSize() int64
}

// AtlasMember is the part of a Source driven by the Atlas collaborator.
type AtlasMember interface {
	AddedToAtlas(x, y int)
	RemovedFromAtlas()
	InAtlas() bool
}

var (
	_ Loadable    = (*Source)(nil)
	_ Evictable   = (*Source)(nil)
	_ AtlasMember = (*Source)(nil)
)

type nopUploader struct{}

func (nopUploader) Upload(*Source, *Image) error { return nil }
func (nopUploader) Release(*Source)              {}
