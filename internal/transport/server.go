// Package transport implements the optimizer's wire protocol: one encrypted
// or plaintext key=value request per TCP connection, with no response body
// beyond an accepted/rejected acknowledgement.
package transport

import (
	"bufio"
	"context"
	"io"
	"net"
	"strconv"
	"strings"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/vinifmor/guapow/internal/crypto"
	"github.com/vinifmor/guapow/internal/errs"
)

// Request is the parsed body of one connection: request.pid and
// request.user are mandatory; every other key is profile/option data
// handed off unparsed to the session layer. StoppedProcesses and
// RelaunchStoppedProcesses mirror the original's OptimizationRequest DTO
// fields of the same name (common/dto.py) — the Runner, not the optimizer,
// stops a request's stop.before targets, and forwards what it stopped
// (name -> command line, command line empty if unknown) plus whether they
// should be relaunched once the session ends, so the optimizer never kills
// anything for stop.before itself.
type Request struct {
	PID                      int
	User                     string
	Fields                   map[string]string
	StoppedProcesses         map[string]string
	RelaunchStoppedProcesses bool
}

// Handler processes one parsed Request. It returns an error to have the
// connection report a rejection back to the caller.
type Handler func(ctx context.Context, req Request, remoteAddr string) error

// Server accepts one request per connection on a loopback TCP port.
type Server struct {
	ln         net.Listener
	log        *logrus.Entry
	encrypted  bool
	passphrase string
	allowed    map[string]struct{}
	handler    Handler
}

// Config bundles the transport's runtime dependencies.
type Config struct {
	Port         int
	Encrypted    bool
	Passphrase   string
	AllowedUsers map[string]struct{}
	Handler      Handler
}

// Listen binds the configured TCP port on loopback only — the optimizer
// never accepts remote connections, matching spec.md §4.7.
func Listen(cfg Config, log *logrus.Entry) (*Server, error) {
	ln, err := net.Listen("tcp", "127.0.0.1:"+strconv.Itoa(cfg.Port))
	if err != nil {
		return nil, errors.Wrap(err, "listen")
	}
	return &Server{
		ln:         ln,
		log:        log,
		encrypted:  cfg.Encrypted,
		passphrase: cfg.Passphrase,
		allowed:    cfg.AllowedUsers,
		handler:    cfg.Handler,
	}, nil
}

// Serve accepts connections until ctx is cancelled or the listener closes.
func (s *Server) Serve(ctx context.Context) {
	go func() {
		<-ctx.Done()
		s.ln.Close()
	}()

	for {
		conn, err := s.ln.Accept()
		if err != nil {
			select {
			case <-ctx.Done():
				return
			default:
				s.log.WithError(err).Warn("accept failed")
				return
			}
		}
		go s.handleConn(ctx, conn)
	}
}

// Close stops accepting new connections.
func (s *Server) Close() error {
	return s.ln.Close()
}

func (s *Server) handleConn(ctx context.Context, conn net.Conn) {
	defer conn.Close()
	remote := conn.RemoteAddr().String()

	body, err := io.ReadAll(bufio.NewReader(conn))
	if err != nil {
		s.log.WithError(err).WithField("remote", remote).Warn("failed to read request body")
		writeAck(conn, false, "read error")
		return
	}

	if s.encrypted {
		body, err = crypto.Decrypt(s.passphrase, []byte(strings.TrimSpace(string(body))))
		if err != nil {
			err = errs.Wrap(errs.Authorization, err)
			s.log.WithError(err).WithField("remote", remote).Warn("failed to decrypt request")
			writeAck(conn, false, "decryption failed")
			return
		}
	}

	req, err := parseRequest(body)
	if err != nil {
		err = errs.Wrap(errs.Configuration, err)
		s.log.WithError(err).WithField("remote", remote).Warn("malformed request")
		writeAck(conn, false, err.Error())
		return
	}

	if len(s.allowed) > 0 {
		if _, ok := s.allowed[req.User]; !ok {
			err := errs.Wrap(errs.Authorization, errors.New("user not in allowed_users"))
			s.log.WithError(err).WithFields(logrus.Fields{"remote": remote, "user": req.User}).Warn("user not authorized")
			writeAck(conn, false, "user not authorized")
			return
		}
	}

	if err := s.handler(ctx, req, remote); err != nil {
		s.log.WithError(err).WithField("remote", remote).Warn("request handling failed")
		writeAck(conn, false, err.Error())
		return
	}

	writeAck(conn, true, "")
}

func writeAck(conn net.Conn, ok bool, reason string) {
	if ok {
		conn.Write([]byte("OK\n"))
		return
	}
	conn.Write([]byte("ERROR " + reason + "\n"))
}

// parseRequest reads newline-separated key=value pairs, requiring
// request.pid and request.user.
func parseRequest(body []byte) (Request, error) {
	fields := make(map[string]string)
	scanner := bufio.NewScanner(strings.NewReader(string(body)))
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		idx := strings.IndexByte(line, '=')
		if idx < 0 {
			// Bare key token: boolean-shaped options treat absence of a
			// value as true (spec.md §3); store it as an empty value so
			// profile.ParseInline-equivalent resolution sees it.
			fields[line] = ""
			continue
		}
		fields[strings.TrimSpace(line[:idx])] = strings.TrimSpace(line[idx+1:])
	}

	pidStr, ok := fields["request.pid"]
	if !ok {
		return Request{}, errors.New("missing request.pid")
	}
	pid, err := strconv.Atoi(pidStr)
	if err != nil {
		return Request{}, errors.Wrap(err, "invalid request.pid")
	}

	user, ok := fields["request.user"]
	if !ok || user == "" {
		return Request{}, errors.New("missing request.user")
	}

	var relaunch bool
	if raw, present := fields["request.relaunch_stopped_processes"]; present {
		relaunch, _ = parseBoolToken(raw)
	}

	return Request{
		PID:                      pid,
		User:                     user,
		Fields:                   fields,
		StoppedProcesses:         parseStoppedProcesses(fields["request.stopped_processes"]),
		RelaunchStoppedProcesses: relaunch,
	}, nil
}

// parseStoppedProcesses reads the "name:cmdline,name2:cmdline2" wire
// encoding of OptimizationRequest.stopped_processes — a name with no
// cmdline (bare, or a trailing empty value) means the Runner expected that
// process to be running but found it already stopped, mirroring the
// original's Dict[str, Optional[str]] where the value may be None.
func parseStoppedProcesses(val string) map[string]string {
	if val == "" {
		return nil
	}
	out := make(map[string]string)
	for _, part := range strings.Split(val, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		if idx := strings.Index(part, ":"); idx >= 0 {
			name := strings.TrimSpace(part[:idx])
			if name != "" {
				out[name] = strings.TrimSpace(part[idx+1:])
			}
			continue
		}
		out[part] = ""
	}
	return out
}

// parseBoolToken mirrors the profile package's boolean-shaped convention
// (absent/true/1 -> true, false/0 -> false) for the few wire-level
// boolean fields transport parses itself rather than handing to profile.
func parseBoolToken(val string) (bool, bool) {
	switch strings.ToLower(strings.TrimSpace(val)) {
	case "", "true", "1":
		return true, true
	case "false", "0":
		return false, true
	default:
		return false, false
	}
}
