package transport

import (
	"texcache/internal/protocol"
	"texcache/internal/texture"
)

// ImageLoader returns a texture.Loader that decodes locator through c. The
// request id is the texture source id.
func (c *Client) ImageLoader(locator string) texture.Loader {
	return texture.LoaderFunc(func(id texture.SourceID, deliver texture.DeliverFunc) (texture.CancelFunc, error) {
		reqID := protocol.RequestID(id)
		err := c.Submit(reqID, protocol.KindImage, locator, func(resp *protocol.Success, err error) {
			if err != nil {
				deliver(nil, err)
				return
			}
			deliver(&texture.Image{
				Width:      resp.Width,
				Height:     resp.Height,
				Pixels:     resp.Pixels,
				RenderInfo: resp.RenderInfo,
			}, nil)
		})
		if err != nil {
			return nil, err
		}
		return func() { c.Cancel(reqID) }, nil
	})
}
