package livewire

import "github.com/bgdnvk/coolctl/internal/session"

func (c *Client) Session() *session.Store {
	return c.session
}
