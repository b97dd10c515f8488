package server

import "github.com/linguameet/linguameet/pkg/model"

// registry maps connection ids to live clients. It is owned by the Server
// and has no locking of its own: callers hold the coordinator mutex.
//
// Removal of a client is the last step of its disconnect handling, so
// session and presence cleanup can still resolve the id.
type registry struct {
	clients map[model.ClientID]*client
}

func newRegistry() *registry {
	return &registry{
		clients: make(map[model.ClientID]*client),
	}
}

func (r *registry) add(c *client) {
	r.clients[c.id] = c
}

// lookup returns the client for an id, or nil if it is not connected.
func (r *registry) lookup(id model.ClientID) *client {
	return r.clients[id]
}

func (r *registry) remove(id model.ClientID) {
	delete(r.clients, id)
}

// all returns a snapshot slice of every connected client.
func (r *registry) all() []*client {
	result := make([]*client, 0, len(r.clients))
	for _, c := range r.clients {
		result = append(result, c)
	}
	return result
}

func (r *registry) count() int {
	return len(r.clients)
}
