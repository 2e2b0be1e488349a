package websocket

import (
	"context"
	"math"
	"sync"
	"sync/atomic"
	"time"

	"github.com/apex/log"

	"olhovivo/geolocation"
	"olhovivo/metrics"
	"olhovivo/models"
)

var activeSessions atomic.Int64

// ActiveSessions is the number of acquisition sessions currently served.
func ActiveSessions() int { return int(activeSessions.Load()) }

type SessionConfig struct {
	Profiles       geolocation.Profiles
	DefaultProfile string
	// RequireSecure forces the secure context check on every profile.
	RequireSecure bool
	Observer      func(geolocation.Outcome, time.Duration)
}

// Session runs location acquisitions for one relay connection. The page
// sends "start" to begin a run, which supersedes any run in progress, and
// "cancel" to abandon it. Nothing of a superseded run reaches the page.
type Session struct {
	relay    *Relay
	cfg      SessionConfig
	acquirer *geolocation.Acquirer
	streams  sync.WaitGroup

	// mu orders the messages of the current run before those of the run
	// replacing it.
	mu      sync.Mutex
	current *runStream
}

type runStream struct {
	sub        *geolocation.Subscription
	superseded bool
}

func NewSession(relay *Relay, cfg SessionConfig) *Session {
	if cfg.Profiles == nil {
		cfg.Profiles = geolocation.DefaultProfiles()
	}
	if cfg.DefaultProfile == "" {
		cfg.DefaultProfile = geolocation.ProfilePrecise
	}
	var opts []geolocation.Option
	if cfg.Observer != nil {
		opts = append(opts, geolocation.WithObserver(cfg.Observer))
	}
	return &Session{
		relay:    relay,
		cfg:      cfg,
		acquirer: geolocation.NewAcquirer(relay, opts...),
	}
}

// Run serves the page until it disconnects or ctx is done. Any run still
// in progress is canceled before Run returns.
func (s *Session) Run(ctx context.Context) {
	activeSessions.Add(1)
	metrics.ActiveSessions.Inc()
	defer func() {
		activeSessions.Add(-1)
		metrics.ActiveSessions.Dec()
	}()

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	commands := make(chan models.ClientMessage)
	go s.relay.ReadLoop(ctx, commands)

	defer func() {
		s.acquirer.Cancel(nil)
		s.streams.Wait()
	}()

	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-commands:
			if !ok {
				return
			}
			s.handle(ctx, msg)
		}
	}
}

func (s *Session) handle(ctx context.Context, msg models.ClientMessage) {
	switch msg.Type {
	case models.MsgCancel:
		s.acquirer.Cancel(nil)

	case models.MsgStart:
		name := msg.Profile
		if name == "" {
			name = s.cfg.DefaultProfile
		}
		cfg, err := s.cfg.Profiles.Get(name)
		if err != nil {
			s.send(models.ServerMessage{Type: models.MsgFailed, Reason: "invalid-profile", Message: err.Error()})
			return
		}
		if s.cfg.RequireSecure {
			cfg.RequireSecureContext = true
		}

		s.supersede()
		sub, err := s.acquirer.Start(ctx, cfg)
		if err != nil {
			// The page has given up on the previous run either way.
			s.acquirer.Cancel(nil)
			aerr := geolocation.AsAcquisitionError(err)
			log.WithField("profile", name).Warnf("acquisition not started: %v", err)
			s.send(models.ServerMessage{
				Type:    models.MsgFailed,
				Status:  geolocation.StatusFailed.String(),
				Reason:  string(aerr.Reason),
				Message: aerr.UserMessage(),
			})
			return
		}
		log.WithFields(log.Fields{"run": sub.ID(), "profile": name}).Info("acquisition started")

		rs := &runStream{sub: sub}
		s.mu.Lock()
		s.current = rs
		s.mu.Unlock()

		s.streams.Add(1)
		go s.stream(rs)
	}
}

// supersede silences the current run's stream. Once it returns no message
// of that run is written.
func (s *Session) supersede() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.current != nil {
		s.current.superseded = true
		s.current = nil
	}
}

func (s *Session) stream(rs *runStream) {
	defer s.streams.Done()
	for p := range rs.sub.Progress() {
		s.sendFor(rs, progressMessage(p))
	}
	<-rs.sub.Done()
	o, _ := rs.sub.Outcome()
	s.sendFor(rs, outcomeMessage(o))
}

func (s *Session) sendFor(rs *runStream, msg models.ServerMessage) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if rs.superseded {
		log.WithField("run", msg.RunID).Debugf("%s of a superseded run dropped", msg.Type)
		return
	}
	s.send(msg)
}

func (s *Session) send(msg models.ServerMessage) {
	if err := s.relay.Send(msg); err != nil {
		log.Debugf("acquisition message %s not delivered: %v", msg.Type, err)
	}
}

func progressMessage(p geolocation.Progress) models.ServerMessage {
	msg := models.ServerMessage{
		Type:         models.MsgProgress,
		RunID:        p.RunID,
		Status:       p.Status.String(),
		SamplesSeen:  p.SamplesSeen,
		BestAccuracy: p.BestAccuracy,
		Message:      p.Message,
	}
	if p.Fix != nil {
		setFix(&msg, p.Fix)
	}
	return msg
}

func outcomeMessage(o geolocation.Outcome) models.ServerMessage {
	msg := models.ServerMessage{
		RunID:       o.RunID,
		Status:      o.Status.String(),
		SamplesSeen: o.SamplesSeen,
	}
	if !math.IsInf(o.BestAccuracy, 0) && o.BestAccuracy > 0 {
		best := o.BestAccuracy
		msg.BestAccuracy = &best
	}
	if o.Err == nil && o.Fix != nil {
		msg.Type = models.MsgAccepted
		setFix(&msg, o.Fix)
		msg.Message = "location acquired"
		return msg
	}
	aerr := geolocation.AsAcquisitionError(o.Err)
	msg.Type = models.MsgFailed
	if aerr != nil {
		msg.Reason = string(aerr.Reason)
		msg.Message = aerr.UserMessage()
	}
	return msg
}

func setFix(msg *models.ServerMessage, fix *geolocation.Fix) {
	lat, lng, acc := fix.Latitude, fix.Longitude, fix.Accuracy
	msg.Latitude = &lat
	msg.Longitude = &lng
	msg.Accuracy = &acc
	msg.Label = geolocation.AccuracyLabel(acc)
}
