package api

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/matheus3301/wirego/internal/appstate"
	"github.com/matheus3301/wirego/internal/bus"
	"github.com/matheus3301/wirego/internal/health"
	"github.com/matheus3301/wirego/internal/logging"
	"github.com/matheus3301/wirego/internal/socket"
	"github.com/matheus3301/wirego/internal/status"
	"github.com/matheus3301/wirego/internal/store"
	"github.com/matheus3301/wirego/internal/work"
	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	grpcstatus "google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/structpb"
)

// SessionService implements wire.v1.SessionService.
type SessionService struct {
	sessionName string
	startedAt   time.Time
	machine     *status.Machine
	provider    *socket.Provider
	app         *appstate.Tracker
	health      *health.Checker
	scheduler   *work.Scheduler
	bus         *bus.Bus
	db          *store.DB
	logger      *zap.Logger
}

// SessionDeps groups the collaborators of SessionService. Nil members make
// the matching calls report Unavailable.
type SessionDeps struct {
	Machine   *status.Machine
	Provider  *socket.Provider
	App       *appstate.Tracker
	Health    *health.Checker
	Scheduler *work.Scheduler
	Bus       *bus.Bus
	DB        *store.DB
	Logger    *zap.Logger
}

// NewSessionService creates a new session service.
func NewSessionService(sessionName string, deps SessionDeps) *SessionService {
	return &SessionService{
		sessionName: sessionName,
		startedAt:   time.Now(),
		machine:     deps.Machine,
		provider:    deps.Provider,
		app:         deps.App,
		health:      deps.Health,
		scheduler:   deps.Scheduler,
		bus:         deps.Bus,
		db:          deps.DB,
		logger:      logging.OrNop(deps.Logger),
	}
}

func (s *SessionService) GetStatus(ctx context.Context, _ *structpb.Struct) (*structpb.Struct, error) {
	resp := map[string]any{
		"session":   s.sessionName,
		"uptime_ms": time.Since(s.startedAt).Milliseconds(),
	}
	if s.machine != nil {
		resp["status"] = string(s.machine.Current())
	}
	if s.app != nil {
		resp["foreground"] = s.app.IsForeground()
	}
	if s.provider != nil {
		conn := s.provider.Connection()
		resp["connected"] = conn.IsConnected()
		resp["url"] = conn.URL()
		resp["pending_frames"] = conn.Pending()
	}
	if s.db != nil {
		if n, err := s.db.ConversationCount(ctx); err == nil {
			resp["conversation_count"] = n
		}
		if n, err := s.db.ContactCount(ctx); err == nil {
			resp["contact_count"] = n
		}
		if n, err := s.db.MessageCount(ctx); err == nil {
			resp["message_count"] = n
		}
		if n, err := s.db.PendingEventCount(ctx); err == nil {
			resp["pending_events"] = n
		}
	}
	if s.scheduler != nil {
		var jobs []any
		for _, info := range s.scheduler.Infos() {
			jobs = append(jobs, workToMap(info))
		}
		resp["work"] = jobs
	}
	return response(resp)
}

func (s *SessionService) Connect(ctx context.Context, _ *structpb.Struct) (*structpb.Struct, error) {
	if s.provider == nil {
		return nil, grpcstatus.Error(codes.Unavailable, "socket not initialized")
	}
	if err := s.provider.StartSocket(ctx); err != nil {
		return nil, grpcstatus.Errorf(codes.Unavailable, "connect: %v", err)
	}
	return s.connectionState()
}

// Disconnect closes the socket and drops any pending reconnect.
func (s *SessionService) Disconnect(_ context.Context, _ *structpb.Struct) (*structpb.Struct, error) {
	if s.provider == nil {
		return nil, grpcstatus.Error(codes.Unavailable, "socket not initialized")
	}
	if s.scheduler != nil {
		if err := s.scheduler.Cancel(socket.ReconnectWorkName); err != nil && !errors.Is(err, work.ErrUnknownWork) {
			s.logger.Warn("cancel reconnect work", zap.Error(err))
		}
	}
	s.provider.StopSocket()
	return s.connectionState()
}

func (s *SessionService) SetForeground(_ context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	if s.app == nil {
		return nil, grpcstatus.Error(codes.Unavailable, "app state not initialized")
	}
	foreground, ok := boolField(req, "foreground")
	if !ok {
		return nil, grpcstatus.Error(codes.InvalidArgument, "foreground must be a bool")
	}
	changed := s.app.SetForeground(foreground)
	return response(map[string]any{"foreground": foreground, "changed": changed})
}

func (s *SessionService) CheckHealth(ctx context.Context, _ *structpb.Struct) (*structpb.Struct, error) {
	if s.health == nil {
		return nil, grpcstatus.Error(codes.Unavailable, "health checker not initialized")
	}
	shouldStart, err := s.health.ShouldStartPersistentSocket(ctx)
	if err != nil {
		return nil, toStatus("should start persistent socket", err)
	}
	unhealthy, err := s.health.IsConnectionUnhealthy(ctx)
	if errors.Is(err, health.ErrObservationTimeout) {
		return nil, grpcstatus.Errorf(codes.DeadlineExceeded, "health: %v", err)
	}
	if err != nil {
		return nil, toStatus("connection health", err)
	}
	return response(map[string]any{
		"should_start_persistent_socket": shouldStart,
		"unhealthy":                      unhealthy,
	})
}

// WatchEvents streams bus events whose kind starts with the requested prefix.
func (s *SessionService) WatchEvents(req *structpb.Struct, stream grpc.ServerStream) error {
	if s.bus == nil {
		return grpcstatus.Error(codes.Unavailable, "event bus not initialized")
	}
	ch, unsub := s.bus.Subscribe(stringField(req, "prefix"), 256)
	defer unsub()

	for {
		select {
		case evt := <-ch:
			payload, err := toValue(evt.Payload)
			if err != nil {
				s.logger.Warn("drop unencodable event", zap.String("kind", evt.Kind), zap.Error(err))
				continue
			}
			envelope, err := structpb.NewStruct(map[string]any{
				"event_id":            uuid.NewString(),
				"session":             s.sessionName,
				"kind":                evt.Kind,
				"occurred_at_unix_ms": evt.Timestamp.UnixMilli(),
			})
			if err != nil {
				return grpcstatus.Errorf(codes.Internal, "encode event: %v", err)
			}
			envelope.Fields["payload"] = payload
			if err := stream.SendMsg(envelope); err != nil {
				return err
			}
		case <-stream.Context().Done():
			return nil
		}
	}
}

func (s *SessionService) connectionState() (*structpb.Struct, error) {
	resp := map[string]any{"connected": s.provider.Connection().IsConnected()}
	if s.machine != nil {
		resp["status"] = string(s.machine.Current())
	}
	return response(resp)
}

func workToMap(info work.Info) map[string]any {
	m := map[string]any{
		"id":       info.ID.String(),
		"name":     info.Name,
		"state":    string(info.State),
		"attempts": info.Attempts,
	}
	if !info.NextRunAt.IsZero() {
		m["next_run_at_unix_ms"] = info.NextRunAt.UnixMilli()
	}
	if info.LastResult != "" {
		m["last_result"] = info.LastResult
	}
	return m
}
