package app

import (
	"net/http"
	"time"

	"RollerLink/internal/model"
	"RollerLink/internal/state"
	"RollerLink/internal/util"
)

const wsWriteWait = 5 * time.Second

// wsMessage is one update pushed to dashboard clients.
type wsMessage struct {
	Type   string             `json:"type"`
	Motors []motorView        `json:"motors,omitempty"`
	Motor  *motorView         `json:"motor,omitempty"`
	System *model.SystemState `json:"system,omitempty"`
	Health *model.Health      `json:"health,omitempty"`
	Entry  *model.LogEntry    `json:"entry,omitempty"`
}

func (a *App) snapshot() wsMessage {
	sys := a.Store.System()
	health := sys.Health()
	msg := wsMessage{Type: "snapshot", System: &sys, Health: &health}
	for _, m := range a.Store.Motors() {
		msg.Motors = append(msg.Motors, a.view(m))
	}
	return msg
}

// message renders the current value of whatever c refers to.
func (a *App) message(c state.Change) (wsMessage, bool) {
	switch c.Kind {
	case state.ChangeMotor:
		m, err := a.Store.Motor(c.Motor)
		if err != nil {
			return wsMessage{}, false
		}
		v := a.view(m)
		return wsMessage{Type: "motor", Motor: &v}, true
	case state.ChangeSystem:
		sys := a.Store.System()
		health := sys.Health()
		return wsMessage{Type: "system", System: &sys, Health: &health}, true
	case state.ChangeLog:
		if c.Entry == nil {
			return wsMessage{}, false
		}
		return wsMessage{Type: "log", Entry: c.Entry}, true
	}
	return wsMessage{}, false
}

// handleWS upgrades to a websocket, sends a full snapshot and then streams every
// store change until the client goes away.
func (a *App) handleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := a.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	defer conn.Close()

	sub := a.Store.Subscribe(64)
	defer sub.Unsubscribe()

	gone := make(chan struct{})
	go func() {
		defer close(gone)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	send := func(msg wsMessage) bool {
		_ = conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
		if err := conn.WriteJSON(msg); err != nil {
			util.Warn("[app] websocket write: %v", err)
			return false
		}
		return true
	}

	if !send(a.snapshot()) {
		return
	}
	for {
		select {
		case <-gone:
			return
		case <-r.Context().Done():
			return
		case c, ok := <-sub.C():
			if !ok {
				return
			}
			msg, ok := a.message(c)
			if ok && !send(msg) {
				return
			}
		}
	}
}
