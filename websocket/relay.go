package websocket

import (
	"context"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/apex/log"
	"github.com/goccy/go-json"
	"github.com/gorilla/websocket"

	"olhovivo/geolocation"
	"olhovivo/models"
)

// Relay is a geolocation.Positioner backed by a browser page on the other
// end of a websocket. The page runs navigator.geolocation.watchPosition
// when told to and streams the readings back.
type Relay struct {
	conn   *websocket.Conn
	secure bool
	now    func() time.Time

	writeMu sync.Mutex

	mu      sync.Mutex
	watch   *watch
	watchID uint64
}

type watch struct {
	id  uint64
	ch  chan geolocation.Reading
	ctx context.Context

	mu     sync.Mutex
	closed bool
}

func (w *watch) send(r geolocation.Reading) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return
	}
	select {
	case w.ch <- r:
	case <-w.ctx.Done():
	}
}

func (w *watch) close() {
	w.mu.Lock()
	defer w.mu.Unlock()
	if !w.closed {
		w.closed = true
		close(w.ch)
	}
}

func NewRelay(conn *websocket.Conn, secure bool) *Relay {
	return &Relay{conn: conn, secure: secure, now: time.Now}
}

// SecureRequest reports whether the page that opened r runs in a secure
// context: served over TLS, behind a TLS-terminating proxy, or from the
// loopback host.
func SecureRequest(r *http.Request) bool {
	if r.TLS != nil {
		return true
	}
	if strings.EqualFold(r.Header.Get("X-Forwarded-Proto"), "https") {
		return true
	}
	host := r.Host
	if h, _, err := net.SplitHostPort(host); err == nil {
		host = h
	}
	if strings.EqualFold(host, "localhost") {
		return true
	}
	ip := net.ParseIP(strings.Trim(host, "[]"))
	return ip != nil && ip.IsLoopback()
}

func (r *Relay) SecureContext() bool { return r.secure }

// WatchPosition asks the page to start watching. The watch is tagged with
// the run id from ctx and the page must echo it on every reading. The page
// is told to clear its watch when ctx is done, unless a newer watch has
// replaced this one.
func (r *Relay) WatchPosition(ctx context.Context, opts geolocation.PositionOptions) (<-chan geolocation.Reading, error) {
	r.mu.Lock()
	id := geolocation.RunID(ctx)
	if id <= r.watchID {
		id = r.watchID + 1
	}
	r.watchID = id
	w := &watch{id: id, ch: make(chan geolocation.Reading, 8), ctx: ctx}
	r.watch = w
	r.mu.Unlock()

	err := r.Send(models.ServerMessage{
		Type:  models.MsgWatch,
		RunID: id,
		Options: &models.Options{
			EnableHighAccuracy: opts.HighAccuracy,
			TimeoutMs:          opts.Timeout.Milliseconds(),
			MaximumAgeMs:       opts.MaxAge.Milliseconds(),
		},
	})
	if err != nil {
		r.detach(w)
		w.close()
		return nil, err
	}

	go func() {
		<-ctx.Done()
		if r.detach(w) {
			if err := r.Send(models.ServerMessage{Type: models.MsgClearWatch, RunID: w.id}); err != nil {
				log.Debugf("clear_watch not delivered: %v", err)
			}
		}
		w.close()
	}()
	return w.ch, nil
}

func (r *Relay) detach(w *watch) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.watch != w {
		return false
	}
	r.watch = nil
	return true
}

// deliver hands reading to the open watch when it was sent for that watch.
func (r *Relay) deliver(runID uint64, reading geolocation.Reading) {
	r.mu.Lock()
	w := r.watch
	r.mu.Unlock()
	if w == nil {
		log.Debug("reading received without an open watch, ignored")
		return
	}
	if runID != w.id {
		log.WithFields(log.Fields{"run": runID, "watching": w.id}).Debug("reading for another run, ignored")
		return
	}
	w.send(reading)
}

// Send writes one message to the page.
func (r *Relay) Send(msg models.ServerMessage) error {
	data, err := json.Marshal(msg)
	if err != nil {
		return err
	}
	r.writeMu.Lock()
	defer r.writeMu.Unlock()
	r.conn.SetWriteDeadline(time.Now().Add(writeWait))
	return r.conn.WriteMessage(websocket.TextMessage, data)
}

// ReadLoop reads the page's messages until the connection fails. Readings
// go to the open watch when their runId matches it; "start" and "cancel" go to commands, which is
// closed on return.
func (r *Relay) ReadLoop(ctx context.Context, commands chan<- models.ClientMessage) {
	defer close(commands)
	r.conn.SetReadLimit(maxMessageSize)

	for {
		_, data, err := r.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				log.Warnf("acquisition session read error: %v", err)
			}
			return
		}

		var msg models.ClientMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			log.Warnf("malformed acquisition message: %v", err)
			continue
		}

		switch msg.Type {
		case models.MsgPosition:
			if !validPosition(msg) {
				log.WithFields(log.Fields{
					"latitude":  msg.Latitude,
					"longitude": msg.Longitude,
					"accuracy":  msg.Accuracy,
				}).Warn("position out of range, ignored")
				continue
			}
			ts := r.now()
			if msg.Timestamp > 0 {
				ts = time.UnixMilli(msg.Timestamp)
			}
			r.deliver(msg.RunID, geolocation.Reading{Sample: geolocation.Sample{
				Latitude:  msg.Latitude,
				Longitude: msg.Longitude,
				Accuracy:  msg.Accuracy,
				Timestamp: ts,
			}})
		case models.MsgPositionError:
			r.deliver(msg.RunID, geolocation.Reading{Err: &geolocation.PositionError{
				Code:    geolocation.ParseErrorCode(msg.Code),
				Message: msg.Message,
			}})
		case models.MsgStart, models.MsgCancel:
			select {
			case commands <- msg:
			case <-ctx.Done():
				return
			}
		default:
			log.Warnf("unknown acquisition message type %q", msg.Type)
		}
	}
}

func validPosition(msg models.ClientMessage) bool {
	return msg.Latitude >= -90 && msg.Latitude <= 90 &&
		msg.Longitude >= -180 && msg.Longitude <= 180 &&
		msg.Accuracy >= 0
}
