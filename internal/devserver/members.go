package devserver

import (
	"time"

	"github.com/codetogether/roomsync/internal/protocol"
)

// join adds c to the room as username and returns the room state it
// joins with. fresh is false when c was already a member.
func (r *Room) join(c *Client, username string) (files protocol.FileMap, activeFile string, fresh bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	_, already := r.members[c]
	r.members[c] = struct{}{}
	if t, ok := r.idle[username]; ok {
		t.Stop()
		delete(r.idle, username)
	}
	return r.files.Clone(), r.activeFile, !already
}

// leave removes c. When c was username's last connection, onIdle runs
// after grace unless the user rejoins first. It reports whether c was a
// member.
func (r *Room) leave(c *Client, username string, grace time.Duration, onIdle func()) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.members[c]; !ok {
		return false
	}
	delete(r.members, c)

	if r.hasUser(username) {
		return true
	}
	if t, ok := r.idle[username]; ok {
		t.Stop()
	}
	var timer *time.Timer
	timer = time.AfterFunc(grace, func() {
		r.mu.Lock()
		current := r.idle[username]
		if current != timer || r.hasUser(username) {
			r.mu.Unlock()
			return
		}
		delete(r.idle, username)
		r.mu.Unlock()
		onIdle()
	})
	r.idle[username] = timer
	return true
}

// hasUser must be called with r.mu held.
func (r *Room) hasUser(username string) bool {
	for m := range r.members {
		if _, name := m.membership(); name == username {
			return true
		}
	}
	return false
}

// broadcast sends msg to every member except one (nil for none). Sends
// happen under the room lock so members see room events in the order they
// were applied.
func (r *Room) broadcast(msg protocol.Message, except *Client) {
	data, err := msg.Encode()
	if err != nil {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	for m := range r.members {
		if m != except {
			m.sendRaw(data)
		}
	}
}

// broadcastTree sends a tree notice followed by the resulting file map to
// every member.
func (r *Room) broadcastTree(notice protocol.Message) {
	r.mu.Lock()
	defer r.mu.Unlock()

	noticeData, err := notice.Encode()
	if err != nil {
		return
	}
	filesData, err := protocol.NewFilesUpdateMessage(r.files).Encode()
	if err != nil {
		return
	}
	for m := range r.members {
		m.sendRaw(noticeData)
		m.sendRaw(filesData)
	}
}

// sendToUser sends msg to every connection of username.
func (r *Room) sendToUser(username string, msg protocol.Message) {
	data, err := msg.Encode()
	if err != nil {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	for m := range r.members {
		if _, name := m.membership(); name == username {
			m.sendRaw(data)
		}
	}
}

// close stops background work for the room.
func (r *Room) close() {
	if r.poller != nil {
		r.poller.Stop()
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	for name, t := range r.idle {
		t.Stop()
		delete(r.idle, name)
	}
}
