package registry

import "time"

// Handle is a live connection bound to one tenant schema. Its bookkeeping fields are
// guarded by the owning Registry's mutex.
type Handle struct {
	tenant string
	schema string
	conn   Conn
	master bool

	lastUsed time.Time
	refs     int
	closed   bool
}

// Tenant returns the owning tenant identifier.
func (h *Handle) Tenant() string { return h.tenant }

// Schema returns the schema the connection's search_path is pinned to.
func (h *Handle) Schema() string { return h.schema }

func (h *Handle) Conn() Conn { return h.conn }

func (h *Handle) Master() bool { return h.master }
