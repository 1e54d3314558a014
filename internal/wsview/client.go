package wsview

import (
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"airsync/internal/airentry"
	"airsync/internal/viewsync"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 512 * 1024
	sendBufferSize = 256
)

type client struct {
	viewID string
	h      *Handler
	conn   *websocket.Conn
	send   chan []byte
	logger *zap.Logger

	mu     sync.Mutex
	closed bool

	unregister  func()
	unsubscribe func()
}

func newClient(viewID string, h *Handler, conn *websocket.Conn) *client {
	return &client{
		viewID: viewID,
		h:      h,
		conn:   conn,
		send:   make(chan []byte, sendBufferSize),
		logger: h.logger.With(zap.String("view", viewID)),
	}
}

func (c *client) start() {
	c.unregister = c.h.sync.RegisterView(c.viewID, func(u viewsync.Update) {
		c.enqueue(Message{Type: TypeUpdate, Update: &u})
	})
	c.unsubscribe = c.h.sync.SubscribeToState(func(st viewsync.State) {
		c.enqueue(Message{Type: TypeState, State: &st})
	})

	st := c.h.sync.State()
	c.enqueue(Message{Type: TypeHello, ViewID: c.viewID, State: &st})
	c.logger.Info("view connected")
}

// enqueue never blocks: views are called synchronously from store and
// timer goroutines. A view that cannot keep up loses messages.
func (c *client) enqueue(m Message) {
	data, err := json.Marshal(m)
	if err != nil {
		c.logger.Error("encoding message", zap.String("type", m.Type), zap.Error(err))
		return
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	select {
	case c.send <- data:
	default:
		c.logger.Warn("send buffer full, dropping message", zap.String("type", m.Type))
	}
}

// shutdown detaches the view, releases its edit session and stops the write
// pump.
func (c *client) shutdown() {
	c.unregister()
	c.unsubscribe()
	c.h.sync.EndEditSession(c.viewID)

	c.mu.Lock()
	c.closed = true
	close(c.send)
	c.mu.Unlock()

	c.h.remove(c)
	c.logger.Info("view disconnected")
}

func (c *client) readPump() {
	defer func() {
		c.shutdown()
		c.conn.Close()
	}()

	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		messageType, data, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				c.logger.Warn("websocket read error", zap.Error(err))
			}
			return
		}
		if messageType != websocket.TextMessage {
			c.logger.Debug("ignoring binary message")
			continue
		}

		var cmd Command
		if err := json.Unmarshal(data, &cmd); err != nil {
			c.enqueue(Message{Type: TypeReply, Error: fmt.Sprintf("decoding command: %v", err)})
			continue
		}
		c.enqueue(c.handle(cmd))
	}
}

func (c *client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				c.logger.Debug("write failed", zap.Error(err))
				return
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				c.logger.Debug("ping failed", zap.Error(err))
				return
			}
		}
	}
}

func (c *client) handle(cmd Command) Message {
	reply := Message{Type: TypeReply, RequestID: cmd.RequestID}
	if err := c.dispatch(cmd, &reply); err != nil {
		reply.Error = err.Error()
		return reply
	}
	reply.OK = true
	return reply
}

var errMissingEntryID = errors.New("entryId is required")

func (c *client) dispatch(cmd Command, reply *Message) error {
	store, syncer := c.h.store, c.h.sync

	switch cmd.Type {
	case CmdStartEdit:
		if cmd.EntryID == "" {
			return errMissingEntryID
		}
		if !syncer.StartEditSession(c.viewID, cmd.EntryID) {
			return viewsync.ErrLockDenied
		}
		return nil

	case CmdEndEdit:
		syncer.EndEditSession(c.viewID)
		return nil

	case CmdPropagate:
		if cmd.EntryID == "" {
			return errMissingEntryID
		}
		if cmd.Patch == nil {
			return viewsync.ErrEmptyPatch
		}
		if !syncer.CanEdit(c.viewID, cmd.EntryID) {
			return viewsync.ErrLockDenied
		}
		kind := cmd.Kind
		if kind == "" {
			kind = viewsync.KindFor(*cmd.Patch)
		}
		return syncer.PropagateUpdate(c.viewID, cmd.EntryID, kind, *cmd.Patch, cmd.Immediate)

	case CmdCreate:
		if cmd.Floor == "" || cmd.Spec == nil {
			return errors.New("floor and spec are required")
		}
		e, err := store.Create(cmd.Floor, *cmd.Spec, airentry.WithOrigin(c.viewID))
		if err != nil {
			return err
		}
		reply.Entry = &e
		return nil

	case CmdDelete:
		if cmd.EntryID == "" {
			return errMissingEntryID
		}
		if !syncer.CanEdit(c.viewID, cmd.EntryID) {
			return viewsync.ErrLockDenied
		}
		if !store.Delete(cmd.EntryID, airentry.WithOrigin(c.viewID)) {
			return fmt.Errorf("entry %q not found", cmd.EntryID)
		}
		return nil

	case CmdList:
		if cmd.Floor != "" {
			reply.Entries = store.ListFloor(cmd.Floor)
		} else {
			reply.Entries = store.List()
		}
		return nil

	default:
		return fmt.Errorf("unknown command %q", cmd.Type)
	}
}
