package grpcapi

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"math"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/google.golang.org/grpc/otelgrpc"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/BrandonDHaskell/lockgate/internal/lockgate/service"
	"github.com/BrandonDHaskell/lockgate/internal/lockgate/types"
)

type Dependencies struct {
	Logger  *log.Logger
	Gateway *service.Gateway
	History *service.HistoryReader
	Tokens  *service.TokenIssuer
	Now     func() time.Time
}

type Server struct {
	logger  *log.Logger
	gateway *service.Gateway
	history *service.HistoryReader
	tokens  *service.TokenIssuer
	now     func() time.Time
}

func NewServer(d Dependencies) *Server {
	now := d.Now
	if now == nil {
		now = time.Now
	}
	return &Server{
		logger:  d.Logger,
		gateway: d.Gateway,
		history: d.History,
		tokens:  d.Tokens,
		now:     now,
	}
}

// NewGRPCServer returns a grpc.Server with the lock service and the standard
// health service registered, instrumented with OpenTelemetry.
func NewGRPCServer(d Dependencies) (*grpc.Server, *health.Server) {
	gs := grpc.NewServer(grpc.StatsHandler(otelgrpc.NewServerHandler()))
	gs.RegisterService(&LockServiceDesc, NewServer(d))

	hs := health.NewServer()
	healthpb.RegisterHealthServer(gs, hs)
	hs.SetServingStatus(ServiceName, healthpb.HealthCheckResponse_SERVING)
	hs.SetServingStatus("", healthpb.HealthCheckResponse_SERVING)

	return gs, hs
}

// identity resolves the optional bearer token in the authorization metadata.
func (s *Server) identity(ctx context.Context) (*types.Identity, error) {
	md, ok := metadata.FromIncomingContext(ctx)
	if !ok {
		return nil, nil
	}
	vals := md.Get("authorization")
	if len(vals) == 0 || vals[0] == "" {
		return nil, nil
	}
	id, err := s.tokens.Verify(vals[0])
	if err != nil {
		return nil, status.Error(codes.Unauthenticated, "invalid or expired token")
	}
	return &id, nil
}

func (s *Server) locker(in *structpb.Struct) (*service.Machine, error) {
	id := in.GetFields()["locker_id"].GetStringValue()
	if id == "" {
		return nil, status.Error(codes.InvalidArgument, "locker_id is required")
	}
	m, err := s.gateway.Locker(id)
	if err != nil {
		return nil, status.Error(codes.NotFound, err.Error())
	}
	return m, nil
}

func (s *Server) Status(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	m, err := s.locker(in)
	if err != nil {
		return nil, err
	}
	return toStruct(m.State())
}

func (s *Server) Unlock(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	m, err := s.locker(in)
	if err != nil {
		return nil, err
	}
	raw := in.GetFields()["method"].GetStringValue()
	method, ok := types.ParseUnlockMethod(raw)
	if !ok {
		return nil, status.Errorf(codes.InvalidArgument, "unsupported unlock method %q", raw)
	}
	identity, err := s.identity(ctx)
	if err != nil {
		return nil, err
	}

	err = m.RequestAs(ctx, method, identity)
	switch {
	case err == nil:
	case errors.Is(err, service.ErrPolicyDenied):
		return nil, status.Error(codes.PermissionDenied, err.Error())
	case errors.Is(err, service.ErrBusy):
		return nil, status.Error(codes.FailedPrecondition, err.Error())
	case errors.Is(err, service.ErrStoreWrite), errors.Is(err, service.ErrClosed):
		s.logger.Printf("grpc unlock %s: %v", m.LockerID(), err)
		return nil, status.Error(codes.Unavailable, err.Error())
	default:
		s.logger.Printf("grpc unlock %s error: %v", m.LockerID(), err)
		return nil, status.Error(codes.Internal, "unexpected server error")
	}

	return toStruct(types.UnlockResponse{
		OK:         true,
		LockerID:   m.LockerID(),
		Status:     m.Status(),
		ServerTime: s.now().UTC().Format(time.RFC3339),
	})
}

func (s *Server) History(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	view, err := s.history.Snapshot(ctx)
	if err != nil {
		s.logger.Printf("grpc history: %v", err)
		view = types.HistoryView{}
	}

	fields := in.GetFields()
	if locker := fields["locker_id"].GetStringValue(); locker != "" {
		filtered := make(types.HistoryView, 0, len(view))
		for _, e := range view {
			if e.LockerID == locker {
				filtered = append(filtered, e)
			}
		}
		view = filtered
	}
	if v, ok := fields["limit"]; ok {
		n, err := historyLimit(v)
		if err != nil {
			return nil, err
		}
		if n < len(view) {
			view = view[:n]
		}
	}

	return toStruct(types.NewHistoryResponse(view, s.now()))
}

// historyLimit accepts only whole, non-negative numbers that fit an int32.
func historyLimit(v *structpb.Value) (int, error) {
	nv, ok := v.GetKind().(*structpb.Value_NumberValue)
	if !ok {
		return 0, status.Error(codes.InvalidArgument, "limit must be a number")
	}
	f := nv.NumberValue
	if math.IsNaN(f) || math.IsInf(f, 0) || f != math.Trunc(f) || f < 0 || f > math.MaxInt32 {
		return 0, status.Errorf(codes.InvalidArgument, "limit must be a non-negative integer, got %v", f)
	}
	return int(f), nil
}

// Watch streams the locker's current state, then every status change until
// the client goes away.
func (s *Server) Watch(in *structpb.Struct, stream grpc.ServerStreamingServer[structpb.Struct]) error {
	m, err := s.locker(in)
	if err != nil {
		return err
	}

	changes := make(chan types.StatusChange, 16)
	cancel := m.Subscribe(func(c types.StatusChange) {
		select {
		case changes <- c:
		default:
			s.logger.Printf("grpc watch %s: slow client, dropped %s", m.LockerID(), c.Status)
		}
	})
	defer cancel()

	first, err := toStruct(m.State())
	if err != nil {
		return err
	}
	if err := stream.Send(first); err != nil {
		return err
	}

	ctx := stream.Context()
	for {
		select {
		case <-ctx.Done():
			return nil
		case c := <-changes:
			msg, err := toStruct(changeJSON(c))
			if err != nil {
				return err
			}
			if err := stream.Send(msg); err != nil {
				return err
			}
		}
	}
}

type statusChangeJSON struct {
	LockerID string `json:"locker_id"`
	Status   string `json:"status"`
	Method   string `json:"method,omitempty"`
	Actor    string `json:"actor,omitempty"`
	Diverged bool   `json:"diverged"`
	Error    string `json:"error,omitempty"`
	At       string `json:"at"`
}

func changeJSON(c types.StatusChange) statusChangeJSON {
	out := statusChangeJSON{
		LockerID: c.LockerID,
		Status:   string(c.Status),
		Method:   string(c.Method),
		Actor:    c.Actor,
		Diverged: c.Diverged,
		At:       c.At.UTC().Format(time.RFC3339Nano),
	}
	if c.Err != nil {
		out.Error = c.Err.Error()
	}
	return out
}

func toStruct(v any) (*structpb.Struct, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, status.Error(codes.Internal, "encode response")
	}
	var m map[string]any
	if err := json.Unmarshal(raw, &m); err != nil {
		return nil, status.Error(codes.Internal, "encode response")
	}
	st, err := structpb.NewStruct(m)
	if err != nil {
		return nil, status.Error(codes.Internal, "encode response")
	}
	return st, nil
}
