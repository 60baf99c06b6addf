package ipc

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/rpc"
	"net/rpc/jsonrpc"
	"os"
	"sync"

	"folio/internal/logging"
)

// ServiceName is the JSON-RPC service prefix, as in "Folio.Capture".
const ServiceName = "Folio"

// Server exposes the folio service via JSON-RPC over a Unix domain socket.
type Server struct {
	path      string
	logger    *slog.Logger
	listener  net.Listener
	rpcServer *rpc.Server

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewServer configures the IPC server at the given socket path.
func NewServer(ctx context.Context, path string, svc *Service, logger *slog.Logger) (*Server, error) {
	if svc == nil {
		return nil, errors.New("ipc server requires service")
	}
	if logger == nil {
		logger = logging.NewNop()
	}

	if err := os.RemoveAll(path); err != nil {
		return nil, fmt.Errorf("remove existing socket: %w", err)
	}

	listener, err := net.Listen("unix", path)
	if err != nil {
		return nil, fmt.Errorf("listen on socket: %w", err)
	}

	serverCtx, cancel := context.WithCancel(ctx)
	rpcServer := rpc.NewServer()
	if err := rpcServer.RegisterName(ServiceName, &rpcService{svc: svc, ctx: serverCtx}); err != nil {
		cancel()
		listener.Close()
		return nil, fmt.Errorf("register rpc service: %w", err)
	}

	return &Server{
		path:      path,
		logger:    logging.NewComponentLogger(logger, "ipc"),
		listener:  listener,
		rpcServer: rpcServer,
		ctx:       serverCtx,
		cancel:    cancel,
	}, nil
}

// Serve starts accepting RPC connections until the context is canceled.
func (s *Server) Serve() {
	s.logger.Debug("IPC server listening", logging.String("socket", s.path))
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		for {
			conn, err := s.listener.Accept()
			if err != nil {
				select {
				case <-s.ctx.Done():
					return
				default:
				}
				if errors.Is(err, net.ErrClosed) {
					return
				}
				logging.WarnWithContext(s.logger, "accept failed",
					"ipc_accept_failed",
					logging.Error(err),
					logging.String(logging.FieldImpact, "IPC clients may fail to connect"),
					logging.String(logging.FieldErrorHint, "Check socket permissions and restart the daemon if needed"))
				continue
			}
			s.wg.Add(1)
			go func(c net.Conn) {
				defer s.wg.Done()
				s.rpcServer.ServeCodec(jsonrpc.NewServerCodec(c))
			}(conn)
		}
	}()
}

// Close stops the server and removes the socket file. Connections already
// being served finish their current call.
func (s *Server) Close() {
	s.cancel()
	if s.listener != nil {
		_ = s.listener.Close()
	}
	s.wg.Wait()
	if err := os.RemoveAll(s.path); err != nil {
		logging.WarnWithContext(s.logger, "failed to remove socket",
			"ipc_socket_cleanup_failed",
			logging.String("socket", s.path),
			logging.Error(err),
			logging.String(logging.FieldImpact, "stale IPC socket may confuse clients"),
			logging.String(logging.FieldErrorHint, "Remove the socket file manually"))
	}
}

// rpcService adapts Service to the net/rpc method shape.
type rpcService struct {
	svc *Service
	ctx context.Context
}

func (r *rpcService) Capture(req CaptureRequest, resp *CaptureResponse) error {
	out, err := r.svc.Capture(r.ctx, req)
	if err != nil {
		return err
	}
	*resp = *out
	return nil
}

func (r *rpcService) Calibrate(req CalibrateRequest, resp *CalibrateResponse) error {
	out, err := r.svc.Calibrate(r.ctx, req)
	if err != nil {
		return err
	}
	*resp = *out
	return nil
}

func (r *rpcService) Cameras(req CamerasRequest, resp *CamerasResponse) error {
	out, err := r.svc.Cameras(r.ctx, req)
	if err != nil {
		return err
	}
	*resp = *out
	return nil
}

func (r *rpcService) SetLabel(req SetLabelRequest, resp *SetLabelResponse) error {
	out, err := r.svc.SetLabel(r.ctx, req)
	if err != nil {
		return err
	}
	*resp = *out
	return nil
}

func (r *rpcService) InitProject(req InitProjectRequest, resp *InitProjectResponse) error {
	out, err := r.svc.InitProject(r.ctx, req)
	if err != nil {
		return err
	}
	*resp = *out
	return nil
}

func (r *rpcService) Projects(req ProjectsRequest, resp *ProjectsResponse) error {
	out, err := r.svc.Projects(r.ctx, req)
	if err != nil {
		return err
	}
	*resp = *out
	return nil
}

func (r *rpcService) Status(req StatusRequest, resp *StatusResponse) error {
	out, err := r.svc.Status(r.ctx, req)
	if err != nil {
		return err
	}
	*resp = *out
	return nil
}
