package koji

import (
	"context"
	"crypto/md5"
	"crypto/tls"
	"encoding/base64"
	"encoding/hex"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"sync/atomic"

	"github.com/kolo/xmlrpc"
)

// Numeric task states used on the koji wire protocol.
const (
	taskFree     = 0
	taskOpen     = 1
	taskClosed   = 2
	taskCanceled = 3
	taskAssigned = 4
	taskFailed   = 5
)

// buildInfo is the raw build record returned by the hub.  Extra keys
// in the response are ignored.
type buildInfo struct {
	ID      int    `xmlrpc:"build_id"`
	Name    string `xmlrpc:"name"`
	Version string `xmlrpc:"version"`
	Release string `xmlrpc:"release"`
	Epoch   int    `xmlrpc:"epoch"`
	TaskID  int    `xmlrpc:"task_id"`
}

// rpmInfo is the raw rpm record returned by listRPMs.
type rpmInfo struct {
	Name    string `xmlrpc:"name"`
	Version string `xmlrpc:"version"`
	Release string `xmlrpc:"release"`
	Arch    string `xmlrpc:"arch"`
	Epoch   int    `xmlrpc:"epoch"`
}

// targetInfo is the raw build target record.
type targetInfo struct {
	ID   int    `xmlrpc:"id"`
	Name string `xmlrpc:"name"`
}

// taskInfo is the subset of getTaskInfo needed for polling.
type taskInfo struct {
	ID    int `xmlrpc:"id"`
	State int `xmlrpc:"state"`
}

// Session is the narrow hub surface the service depends on.  The
// production implementation speaks XML-RPC; tests substitute a fake.
type Session interface {
	Login(ctx context.Context) error
	Logout(ctx context.Context) error

	ListTagged(ctx context.Context, tag string) ([]buildInfo, error)
	ListRPMs(ctx context.Context, buildID int, arch string) ([]rpmInfo, error)
	GetBuild(ctx context.Context, nvr string) (*buildInfo, error)
	GetBuildTarget(ctx context.Context, name string) (*targetInfo, error)

	Upload(ctx context.Context, localPath, remoteDir string) error
	Build(ctx context.Context, remotePath, target string) (int, error)
	GetTaskInfo(ctx context.Context, taskID int) (taskInfo, error)
	GetTaskResult(ctx context.Context, taskID int) error

	TagBuild(ctx context.Context, tag, nvr string) error
	PackageListAdd(ctx context.Context, tag, pkg, owner string) error
}

// uploadChunkSize is the payload size of a single uploadFile call.
const uploadChunkSize = 1 << 20

// xmlrpcSession implements Session against a real koji hub.  The
// underlying client library does not thread contexts through calls,
// so cancellation takes effect between calls only.
type xmlrpcSession struct {
	server string
	client *xmlrpc.Client

	sessionID  string
	sessionKey string
	callnum    atomic.Int64
}

func newXMLRPCSession(server, cert, ca string) (*xmlrpcSession, error) {
	transport := http.DefaultTransport
	if cert != "" {
		pair, err := tls.LoadX509KeyPair(cert, cert)
		if err != nil {
			return nil, fmt.Errorf("loading client certificate: %w", err)
		}
		transport = &http.Transport{
			TLSClientConfig: &tls.Config{Certificates: []tls.Certificate{pair}},
		}
	}

	client, err := xmlrpc.NewClient(server, transport)
	if err != nil {
		return nil, err
	}
	return &xmlrpcSession{server: server, client: client}, nil
}

// callURL appends the authentication query parameters the hub expects
// on every authenticated call.
func (s *xmlrpcSession) call(method string, args []any, reply any) error {
	if s.sessionID != "" {
		u, err := url.Parse(s.server)
		if err != nil {
			return err
		}
		q := u.Query()
		q.Set("session-id", s.sessionID)
		q.Set("session-key", s.sessionKey)
		q.Set("callnum", fmt.Sprint(s.callnum.Add(1)))
		u.RawQuery = q.Encode()

		authed, err := xmlrpc.NewClient(u.String(), nil)
		if err != nil {
			return err
		}
		defer authed.Close()
		return s.convertFault(authed.Call(method, args, reply))
	}
	return s.convertFault(s.client.Call(method, args, reply))
}

func (s *xmlrpcSession) convertFault(err error) error {
	var fault *xmlrpc.FaultError
	if ok := asFault(err, &fault); ok {
		return &GenericError{Code: fault.Code, Message: fault.String}
	}
	return err
}

func (s *xmlrpcSession) Login(_ context.Context) error {
	var reply struct {
		SessionID  int    `xmlrpc:"session-id"`
		SessionKey string `xmlrpc:"session-key"`
	}
	if err := s.call("sslLogin", nil, &reply); err != nil {
		return err
	}
	s.sessionID = fmt.Sprint(reply.SessionID)
	s.sessionKey = reply.SessionKey
	return nil
}

func (s *xmlrpcSession) Logout(_ context.Context) error {
	err := s.call("logout", nil, nil)
	s.sessionID = ""
	s.sessionKey = ""
	return err
}

func (s *xmlrpcSession) ListTagged(_ context.Context, tag string) ([]buildInfo, error) {
	var reply []buildInfo
	// listTagged(tag, event, inherit, prefix, latest)
	err := s.call("listTagged", []any{tag, nil, false, nil, true}, &reply)
	return reply, err
}

func (s *xmlrpcSession) ListRPMs(_ context.Context, buildID int, arch string) ([]rpmInfo, error) {
	var reply []rpmInfo
	var arches any
	if arch != "" {
		arches = []string{arch}
	}
	// listRPMs(rpmID, buildID, imageID, componentBuildrootID, hostID, arches)
	err := s.call("listRPMs", []any{nil, buildID, nil, nil, nil, arches}, &reply)
	return reply, err
}

func (s *xmlrpcSession) GetBuild(_ context.Context, nvr string) (*buildInfo, error) {
	var reply *buildInfo
	err := s.call("getBuild", []any{nvr}, &reply)
	return reply, err
}

func (s *xmlrpcSession) GetBuildTarget(_ context.Context, name string) (*targetInfo, error) {
	var reply *targetInfo
	err := s.call("getBuildTarget", []any{name}, &reply)
	return reply, err
}

// Upload streams the file to the hub with chunked uploadFile calls,
// each carrying a base64 payload and its md5 digest.
func (s *xmlrpcSession) Upload(_ context.Context, localPath, remoteDir string) error {
	f, err := os.Open(localPath)
	if err != nil {
		return err
	}
	defer f.Close()

	stat, err := f.Stat()
	if err != nil {
		return err
	}

	name := stat.Name()
	buf := make([]byte, uploadChunkSize)
	var offset int64

	for {
		n, err := f.Read(buf)
		if n > 0 {
			chunk := buf[:n]
			sum := md5.Sum(chunk)
			args := []any{
				remoteDir,
				name,
				n,
				hex.EncodeToString(sum[:]),
				offset,
				base64.StdEncoding.EncodeToString(chunk),
			}
			var ok bool
			if err := s.call("uploadFile", args, &ok); err != nil {
				return err
			}
			if !ok {
				return fmt.Errorf("hub rejected upload chunk at offset %d of %s", offset, name)
			}
			offset += int64(n)
		}
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return err
		}
	}
}

func (s *xmlrpcSession) Build(_ context.Context, remotePath, target string) (int, error) {
	var taskID int
	err := s.call("build", []any{remotePath, target}, &taskID)
	return taskID, err
}

func (s *xmlrpcSession) GetTaskInfo(_ context.Context, taskID int) (taskInfo, error) {
	var reply taskInfo
	err := s.call("getTaskInfo", []any{taskID}, &reply)
	return reply, err
}

func (s *xmlrpcSession) GetTaskResult(_ context.Context, taskID int) error {
	var reply any
	return s.call("getTaskResult", []any{taskID}, &reply)
}

func (s *xmlrpcSession) TagBuild(_ context.Context, tag, nvr string) error {
	var taskID int
	return s.call("tagBuild", []any{tag, nvr}, &taskID)
}

func (s *xmlrpcSession) PackageListAdd(_ context.Context, tag, pkg, owner string) error {
	return s.call("packageListAdd", []any{tag, pkg, owner}, nil)
}
