package http

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/olahol/melody"

	"khata/internal/core"
	"khata/internal/live"
	"khata/internal/log"
	"khata/internal/prefs"
	"khata/internal/session"
)

const (
	sessionKeySlot    = "slot"
	sessionKeySession = "session"
)

// wsMessage is what the client sends over the socket. Only profile
// switching is supported; everything else goes through the JSON API.
type wsMessage struct {
	Type    string `json:"type"`
	Profile string `json:"profile"`
}

// wsSnapshot is one full collection state pushed to the client.
type wsSnapshot struct {
	Collection string           `json:"collection"`
	Profile    core.ProfileType `json:"profile"`
	Items      any              `json:"items,omitempty"`
	Error      string           `json:"error,omitempty"`
}

func (s *Server) newMelody() *melody.Melody {
	m := melody.New()
	m.Config.MaxMessageSize = 64 * 1024
	m.Config.PingPeriod = 30 * time.Second
	m.Config.PongWait = 60 * time.Second

	m.HandleConnect(func(ms *melody.Session) {
		sess, err := session.FromContext(ms.Request.Context())
		if err != nil {
			_ = ms.CloseWithMsg([]byte("unauthorized"))
			return
		}
		slot := &live.Slot{}
		ms.Set(sessionKeySlot, slot)
		ms.Set(sessionKeySession, sess)

		if err := slot.Swap(func() (live.Closer, error) {
			return s.openScope(ms, sess)
		}); err != nil {
			s.logger.Error("Websocket subscription failed", "error", err, "uid", sess.UID)
			_ = ms.CloseWithMsg([]byte("subscription failed"))
			return
		}
		s.logger.Info("Websocket connected", "uid", sess.UID, "profile", sess.Profile)
	})

	m.HandleMessage(func(ms *melody.Session, data []byte) {
		var msg wsMessage
		if err := json.Unmarshal(data, &msg); err != nil || msg.Type != "switch_profile" {
			return
		}
		s.switchProfile(ms, msg.Profile)
	})

	m.HandleDisconnect(func(ms *melody.Session) {
		if v, ok := ms.Get(sessionKeySlot); ok {
			v.(*live.Slot).Close()
		}
		if v, ok := ms.Get(sessionKeySession); ok {
			s.logger.Info("Websocket disconnected", "uid", v.(session.Session).UID)
		}
	})

	m.HandleError(func(ms *melody.Session, err error) {
		s.logger.Warn("Websocket error", "error", err)
	})

	return m
}

func (s *Server) handleWebsocket(w http.ResponseWriter, r *http.Request) {
	sess, err := s.authenticate(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	r = r.WithContext(session.NewContext(r.Context(), sess))
	if err := s.ws.HandleRequest(w, r); err != nil {
		s.logger.Error("Websocket upgrade failed", "error", err)
	}
}

// disconnectUser closes every open websocket belonging to the
// identity. Fired on sign-out so a revoked identity stops receiving
// snapshots; the disconnect handler tears the slot down.
func (s *Server) disconnectUser(uid string) {
	sessions, err := s.ws.Sessions()
	if err != nil {
		return
	}
	for _, ms := range sessions {
		v, ok := ms.Get(sessionKeySession)
		if !ok {
			continue
		}
		if v.(session.Session).UID == uid {
			_ = ms.CloseWithMsg(melody.FormatCloseMessage(1000, "signed out"))
		}
	}
}

// switchProfile tears down the current scope's subscriptions, persists
// the selection, and opens the new scope. The old subscriptions close
// before the new ones open so no stale snapshot can interleave.
func (s *Server) switchProfile(ms *melody.Session, raw string) {
	profile, err := core.ParseProfileType(raw)
	if err != nil {
		return
	}
	v, ok := ms.Get(sessionKeySlot)
	if !ok {
		return
	}
	sv, ok := ms.Get(sessionKeySession)
	if !ok {
		return
	}
	sess := sv.(session.Session).WithProfile(profile)
	ms.Set(sessionKeySession, sess)

	if err := s.prefs.Set(context.Background(), sess.UID, prefs.KeyProfileType, string(profile)); err != nil {
		s.logger.Warn("Profile selection not persisted", "error", err, "uid", sess.UID)
	}

	if err := v.(*live.Slot).Swap(func() (live.Closer, error) {
		return s.openScope(ms, sess)
	}); err != nil {
		s.logger.Error("Profile switch failed", "error", err, "uid", sess.UID)
		_ = ms.CloseWithMsg([]byte("subscription failed"))
	}
}

// scopeStream holds one profile's pair of live subscriptions.
type scopeStream struct {
	cancel context.CancelFunc
	txSub  *live.Subscription[core.Transaction]
	catSub *live.Subscription[core.Category]
}

func (st *scopeStream) Close() {
	st.txSub.Close()
	st.catSub.Close()
	st.cancel()
}

// openScope subscribes to both collections for a session and forwards
// every snapshot to the websocket client.
func (s *Server) openScope(ms *melody.Session, sess session.Session) (live.Closer, error) {
	ctx, cancel := context.WithCancel(context.Background())

	txSub := live.Subscribe(ctx, s.hub, live.TransactionsKey(sess.UID, sess.Profile),
		func(ctx context.Context) ([]core.Transaction, error) {
			return s.txs.List(ctx, sess)
		})
	catSub := live.Subscribe(ctx, s.hub, live.CategoriesKey(sess.UID, sess.Profile),
		func(ctx context.Context) ([]core.Category, error) {
			return s.cats.List(ctx, sess)
		})

	go forward(ctx, ms, txSub, live.CollectionTransactions, sess.Profile, s.logger)
	go forward(ctx, ms, catSub, live.CollectionCategories, sess.Profile, s.logger)

	return &scopeStream{cancel: cancel, txSub: txSub, catSub: catSub}, nil
}

// forward relays snapshots until the subscription closes. An error
// snapshot is relayed and ends the stream; the subscription will not
// recover on its own.
func forward[T any](ctx context.Context, ms *melody.Session, sub *live.Subscription[T], collection string, profile core.ProfileType, logger *log.Logger) {
	for {
		select {
		case <-ctx.Done():
			return
		case snap := <-sub.Updates():
			out := wsSnapshot{Collection: collection, Profile: profile}
			if snap.Err != nil {
				out.Error = snap.Err.Error()
			} else {
				out.Items = snap.Items
			}
			data, err := json.Marshal(out)
			if err != nil {
				logger.Error("Snapshot marshal failed", "error", err, "collection", collection)
				return
			}
			if err := ms.Write(data); err != nil {
				return
			}
			if snap.Err != nil {
				return
			}
		}
	}
}
