package control

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"net"
	"os"
	"runtime"
	"strings"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/encoding"
	"google.golang.org/grpc/status"
)

// jsonCodec lets gRPC carry Command/Event JSON payloads directly, without a
// protobuf toolchain, the way the teacher's grpc_service.go registers one
// for its WebSocket-shaped Message type.
type jsonCodec struct{}

func (jsonCodec) Name() string { return "json" }
func (jsonCodec) Marshal(v any) ([]byte, error) {
	return json.Marshal(v)
}
func (jsonCodec) Unmarshal(data []byte, v any) error {
	return json.Unmarshal(data, v)
}

func init() {
	encoding.RegisterCodec(jsonCodec{})
}

// ControlServer is the bidirectional stream: the client pushes Commands,
// the server replies with the matching Response plus any number of
// broadcast Events interleaved as StreamFrame envelopes.
type ControlServer interface {
	Stream(Control_StreamServer) error
}

type UnimplementedControlServer struct{}

func (UnimplementedControlServer) Stream(Control_StreamServer) error {
	return status.Errorf(codes.Unimplemented, "method Stream not implemented")
}

// StreamFrame wraps exactly one of Command (client to server), Response
// (server to client, answering the Command at the same stream position),
// or Event (server to client, async broadcast).
type StreamFrame struct {
	Command  *Command  `json:"command,omitempty"`
	Response *Response `json:"response,omitempty"`
	Event    *Event    `json:"event,omitempty"`
}

type Control_StreamServer interface {
	Send(*StreamFrame) error
	Recv() (*StreamFrame, error)
	grpc.ServerStream
}

type controlStreamServer struct {
	grpc.ServerStream
}

func (x *controlStreamServer) Send(m *StreamFrame) error {
	return x.ServerStream.SendMsg(m)
}

func (x *controlStreamServer) Recv() (*StreamFrame, error) {
	m := new(StreamFrame)
	if err := x.ServerStream.RecvMsg(m); err != nil {
		return nil, err
	}
	return m, nil
}

func _Control_Stream_Handler(srv interface{}, stream grpc.ServerStream) error {
	return srv.(ControlServer).Stream(&controlStreamServer{stream})
}

var _Control_serviceDesc = grpc.ServiceDesc{
	ServiceName: "aimeeting.Control",
	HandlerType: (*ControlServer)(nil),
	Streams: []grpc.StreamDesc{
		{
			StreamName:    "Stream",
			Handler:       _Control_Stream_Handler,
			ServerStreams: true,
			ClientStreams: true,
		},
	},
	Metadata: "internal/control/control.proto",
}

func RegisterControlServer(s *grpc.Server, srv ControlServer) {
	s.RegisterService(&_Control_serviceDesc, srv)
}

// Server implements ControlServer by dispatching incoming Commands to a
// Session and forwarding Bus events to every connected stream.
type Server struct {
	UnimplementedControlServer
	Sess Session
	Bus  *Bus
}

func NewServer(sess Session, bus *Bus) *Server {
	return &Server{Sess: sess, Bus: bus}
}

func (s *Server) Stream(stream Control_StreamServer) error {
	events, unsubscribe := s.Bus.Subscribe()

	done := make(chan struct{})
	go func() {
		defer close(done)
		for evt := range events {
			e := evt
			if err := stream.Send(&StreamFrame{Event: &e}); err != nil {
				return
			}
		}
	}()

	for {
		frame, err := stream.Recv()
		if err != nil {
			unsubscribe()
			<-done
			if errors.Is(err, context.Canceled) {
				return nil
			}
			return err
		}
		if frame.Command == nil {
			continue
		}
		resp := Dispatch(stream.Context(), s.Sess, *frame.Command)
		if err := stream.Send(&StreamFrame{Response: &resp}); err != nil {
			unsubscribe()
			<-done
			return err
		}
	}
}

// Serve starts the gRPC listener at addr ("unix:///path" or
// "npipe:\\.\pipe\name"), blocking until the listener errors or closes.
func Serve(addr string, sess Session, bus *Bus) error {
	if addr == "" {
		addr = defaultAddr()
	}

	lis, err := listenGRPC(addr)
	if err != nil {
		return err
	}

	server := grpc.NewServer(
		grpc.Creds(insecure.NewCredentials()),
		grpc.ForceServerCodec(jsonCodec{}),
	)
	RegisterControlServer(server, NewServer(sess, bus))

	log.Printf("control: gRPC listening on %s", addr)
	return server.Serve(lis)
}

func defaultAddr() string {
	if runtime.GOOS == "windows" {
		return `npipe:\\.\pipe\aimeeting-control`
	}
	return "unix:///tmp/aimeeting-control.sock"
}

func listenGRPC(addr string) (net.Listener, error) {
	switch {
	case strings.HasPrefix(addr, "unix:"):
		socketPath := strings.TrimPrefix(addr, "unix:")
		socketPath = strings.TrimPrefix(socketPath, "//")
		if err := removeIfExists(socketPath); err != nil {
			return nil, err
		}
		return net.Listen("unix", socketPath)
	case strings.HasPrefix(addr, "npipe:"):
		pipePath := strings.TrimPrefix(addr, "npipe:")
		return listenPipe(pipePath)
	default:
		return net.Listen("tcp", addr)
	}
}

func removeIfExists(path string) error {
	if path == "" {
		return errors.New("empty socket path")
	}
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return err
	}
	return nil
}
