package cmv

import (
	"net"
	"strconv"
	"sync"
	"testing"
	"time"
)

// fakeDevice is an in-process CMV controller. It answers each command
// from a response table and closes the connection.
type fakeDevice struct {
	t  *testing.T
	ln net.Listener

	mu        sync.Mutex
	responses map[Command]string
	silent    bool
	received  []Command
	wg        sync.WaitGroup
}

func newFakeDevice(t *testing.T) *fakeDevice {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	d := &fakeDevice{
		t:         t,
		ln:        ln,
		responses: make(map[Command]string),
	}
	d.wg.Add(1)
	go d.serve()
	t.Cleanup(d.close)
	return d
}

func (d *fakeDevice) serve() {
	defer d.wg.Done()
	for {
		conn, err := d.ln.Accept()
		if err != nil {
			return
		}
		d.wg.Add(1)
		go d.handle(conn)
	}
}

func (d *fakeDevice) handle(conn net.Conn) {
	defer d.wg.Done()
	defer conn.Close()

	buf := make([]byte, 64)
	n, err := conn.Read(buf)
	if err != nil {
		return
	}
	cmd := Command(buf[:n])

	d.mu.Lock()
	d.received = append(d.received, cmd)
	silent := d.silent
	resp, ok := d.responses[cmd]
	d.mu.Unlock()

	if silent {
		// Hold the connection until the client gives up.
		_, _ = conn.Read(buf)
		return
	}
	if ok {
		_, _ = conn.Write([]byte(resp))
	}
}

func (d *fakeDevice) close() {
	d.ln.Close()
	d.wg.Wait()
}

func (d *fakeDevice) respond(cmd Command, resp string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.responses[cmd] = resp
}

func (d *fakeDevice) setSilent(silent bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.silent = silent
}

func (d *fakeDevice) commands() []Command {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]Command(nil), d.received...)
}

// client returns a Client pointed at the fake device.
func (d *fakeDevice) client(opts ...Option) *Client {
	host, portStr, _ := net.SplitHostPort(d.ln.Addr().String())
	port, _ := strconv.Atoi(portStr)
	return New(Config{Host: host, Port: port, Timeout: 200 * time.Millisecond}, opts...)
}

// recordingLogger counts log calls per level.
type recordingLogger struct {
	mu    sync.Mutex
	infos []string
	warns []string
}

func (l *recordingLogger) Debug(string, ...any) {}
func (l *recordingLogger) Error(string, ...any) {}

func (l *recordingLogger) Info(msg string, _ ...any) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.infos = append(l.infos, msg)
}

func (l *recordingLogger) Warn(msg string, _ ...any) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.warns = append(l.warns, msg)
}

func (l *recordingLogger) counts() (infos, warns int) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.infos), len(l.warns)
}
