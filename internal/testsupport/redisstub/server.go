// Package redisstub runs a minimal in-process Redis protocol server covering
// the commands the job queue uses: list push/pop, SET NX leases with the
// compare-and-delete release, and stream appends. Tests get broker behavior
// without an external Redis.
package redisstub

import (
	"bufio"
	"fmt"
	"io"
	"net"
	"strconv"
	"strings"
	"sync"
	"time"
)

type Options struct {
	Password string
}

type Server struct {
	opts     Options
	listener net.Listener
	addr     string
	closed   chan struct{}

	mu      sync.Mutex
	lists   map[string][]string
	kv      map[string]kvEntry
	streams map[string][]StreamEntry
}

type kvEntry struct {
	value  string
	expiry time.Time
}

// StreamEntry is one appended stream record.
type StreamEntry struct {
	ID     string
	Values map[string]string
}

func Start(opts Options) (*Server, error) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		return nil, err
	}
	server := &Server{
		opts:     opts,
		listener: ln,
		addr:     ln.Addr().String(),
		closed:   make(chan struct{}),
		lists:    make(map[string][]string),
		kv:       make(map[string]kvEntry),
		streams:  make(map[string][]StreamEntry),
	}
	go server.serve()
	return server, nil
}

func (s *Server) Addr() string {
	return s.addr
}

func (s *Server) Close() error {
	s.mu.Lock()
	select {
	case <-s.closed:
		s.mu.Unlock()
		return nil
	default:
	}
	close(s.closed)
	s.mu.Unlock()
	return s.listener.Close()
}

// ListLen reports the current length of a list key.
func (s *Server) ListLen(key string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.lists[key])
}

// StreamEntries returns a copy of every record appended to a stream.
func (s *Server) StreamEntries(stream string) []StreamEntry {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]StreamEntry(nil), s.streams[stream]...)
}

// Get returns the string value stored at key, honoring expiry.
func (s *Server) Get(key string) (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	entry, ok := s.kv[key]
	if !ok || (!entry.expiry.IsZero() && time.Now().After(entry.expiry)) {
		return "", false
	}
	return entry.value, true
}

func (s *Server) serve() {
	for {
		conn, err := s.listener.Accept()
		if err != nil {
			select {
			case <-s.closed:
				return
			default:
			}
			continue
		}
		go s.handleConnection(conn)
	}
}

func (s *Server) handleConnection(conn net.Conn) {
	defer conn.Close()
	reader := bufio.NewReader(conn)
	writer := bufio.NewWriter(conn)
	authenticated := s.opts.Password == ""
	for {
		args, err := readArray(reader)
		if err != nil {
			return
		}
		if len(args) == 0 {
			_ = writeError(writer, "ERR wrong number of arguments")
			continue
		}
		cmd := strings.ToUpper(args[0])
		switch cmd {
		case "PING":
			if err := writeSimpleString(writer, "PONG"); err != nil {
				return
			}
		case "HELLO":
			// RESP2 only; go-redis downgrades on this reply.
			if err := writeError(writer, "ERR unknown command 'hello'"); err != nil {
				return
			}
		case "CLIENT":
			if err := writeSimpleString(writer, "OK"); err != nil {
				return
			}
		case "AUTH":
			supplied := ""
			if len(args) >= 2 {
				supplied = args[len(args)-1]
			}
			if s.opts.Password == "" || supplied == s.opts.Password {
				authenticated = true
				if err := writeSimpleString(writer, "OK"); err != nil {
					return
				}
			} else if err := writeError(writer, "WRONGPASS invalid username-password pair"); err != nil {
				return
			}
		case "SELECT":
			if err := writeSimpleString(writer, "OK"); err != nil {
				return
			}
		default:
			if !authenticated {
				if err := writeError(writer, "NOAUTH Authentication required."); err != nil {
					return
				}
				continue
			}
			if !s.dispatch(writer, args) {
				return
			}
		}
	}
}

func (s *Server) dispatch(writer *bufio.Writer, args []string) bool {
	switch strings.ToUpper(args[0]) {
	case "LPUSH":
		if len(args) < 3 {
			return writeError(writer, "ERR wrong number of arguments for 'lpush'") == nil
		}
		s.mu.Lock()
		for _, value := range args[2:] {
			s.lists[args[1]] = append([]string{value}, s.lists[args[1]]...)
		}
		length := len(s.lists[args[1]])
		s.mu.Unlock()
		return writeInteger(writer, int64(length)) == nil
	case "BRPOP":
		return s.handleBRPop(writer, args)
	case "SET":
		return s.handleSet(writer, args)
	case "GET":
		if len(args) != 2 {
			return writeError(writer, "ERR wrong number of arguments for 'get'") == nil
		}
		if value, ok := s.Get(args[1]); ok {
			return writeBulkString(writer, value) == nil
		}
		return writeBulkNil(writer) == nil
	case "DEL":
		deleted := 0
		s.mu.Lock()
		for _, key := range args[1:] {
			if _, ok := s.kv[key]; ok {
				delete(s.kv, key)
				deleted++
			}
		}
		s.mu.Unlock()
		return writeInteger(writer, int64(deleted)) == nil
	case "EVAL", "EVALSHA":
		return s.handleCompareAndDelete(writer, args)
	case "XADD":
		return s.handleXAdd(writer, args)
	default:
		return writeError(writer, "ERR unsupported command '"+args[0]+"'") == nil
	}
}

func (s *Server) handleBRPop(writer *bufio.Writer, args []string) bool {
	if len(args) < 3 {
		return writeError(writer, "ERR wrong number of arguments for 'brpop'") == nil
	}
	key := args[1]
	timeoutSec, err := strconv.ParseFloat(args[len(args)-1], 64)
	if err != nil {
		return writeError(writer, "ERR timeout is not a float") == nil
	}
	deadline := time.Now().Add(time.Duration(timeoutSec * float64(time.Second)))
	for {
		s.mu.Lock()
		list := s.lists[key]
		if len(list) > 0 {
			value := list[len(list)-1]
			s.lists[key] = list[:len(list)-1]
			s.mu.Unlock()
			return writeArray(writer, []interface{}{key, value}) == nil
		}
		s.mu.Unlock()
		if timeoutSec > 0 && time.Now().After(deadline) {
			return writeNilArray(writer) == nil
		}
		select {
		case <-s.closed:
			return false
		case <-time.After(10 * time.Millisecond):
		}
	}
}

func (s *Server) handleSet(writer *bufio.Writer, args []string) bool {
	if len(args) < 3 {
		return writeError(writer, "ERR wrong number of arguments for 'set'") == nil
	}
	key, value := args[1], args[2]
	nx := false
	var ttl time.Duration
	for i := 3; i < len(args); i++ {
		switch strings.ToUpper(args[i]) {
		case "NX":
			nx = true
		case "EX", "PX":
			if i+1 >= len(args) {
				return writeError(writer, "ERR syntax error") == nil
			}
			n, err := strconv.ParseInt(args[i+1], 10, 64)
			if err != nil {
				return writeError(writer, "ERR invalid expire time") == nil
			}
			if strings.ToUpper(args[i]) == "EX" {
				ttl = time.Duration(n) * time.Second
			} else {
				ttl = time.Duration(n) * time.Millisecond
			}
			i++
		}
	}
	s.mu.Lock()
	existing, exists := s.kv[key]
	if exists && !existing.expiry.IsZero() && time.Now().After(existing.expiry) {
		exists = false
	}
	if nx && exists {
		s.mu.Unlock()
		return writeBulkNil(writer) == nil
	}
	entry := kvEntry{value: value}
	if ttl > 0 {
		entry.expiry = time.Now().Add(ttl)
	}
	s.kv[key] = entry
	s.mu.Unlock()
	return writeSimpleString(writer, "OK") == nil
}

// handleCompareAndDelete serves the lease release script: delete KEYS[1] only
// when its value equals ARGV[1]. The script body is not interpreted; this is
// the only script the queue runs.
func (s *Server) handleCompareAndDelete(writer *bufio.Writer, args []string) bool {
	if len(args) < 5 {
		return writeError(writer, "ERR wrong number of arguments for 'eval'") == nil
	}
	key, token := args[3], args[4]
	s.mu.Lock()
	defer s.mu.Unlock()
	entry, ok := s.kv[key]
	if ok && entry.value == token {
		delete(s.kv, key)
		return writeInteger(writer, 1) == nil
	}
	return writeInteger(writer, 0) == nil
}

func (s *Server) handleXAdd(writer *bufio.Writer, args []string) bool {
	if len(args) < 5 {
		return writeError(writer, "ERR wrong number of arguments for 'xadd'") == nil
	}
	stream := args[1]
	i := 2
	// Optional trim clause: MAXLEN [~] count.
	if strings.ToUpper(args[i]) == "MAXLEN" {
		i++
		if i < len(args) && args[i] == "~" {
			i++
		}
		i++
	}
	if i >= len(args) {
		return writeError(writer, "ERR syntax error") == nil
	}
	id := args[i]
	if id == "*" {
		id = fmt.Sprintf("%d-0", time.Now().UnixNano())
	}
	i++
	values := make(map[string]string)
	for ; i+1 < len(args); i += 2 {
		values[args[i]] = args[i+1]
	}
	s.mu.Lock()
	s.streams[stream] = append(s.streams[stream], StreamEntry{ID: id, Values: values})
	s.mu.Unlock()
	return writeBulkString(writer, id) == nil
}

func readArray(r *bufio.Reader) ([]string, error) {
	prefix, err := r.ReadByte()
	if err != nil {
		return nil, err
	}
	if prefix != '*' {
		return nil, fmt.Errorf("unexpected prefix %q", prefix)
	}
	length, err := readLength(r)
	if err != nil {
		return nil, err
	}
	args := make([]string, 0, length)
	for i := 0; i < length; i++ {
		arg, err := readBulkString(r)
		if err != nil {
			return nil, err
		}
		args = append(args, arg)
	}
	return args, nil
}

func readLength(r *bufio.Reader) (int, error) {
	line, err := r.ReadString('\n')
	if err != nil {
		return 0, err
	}
	line = strings.TrimSuffix(strings.TrimSuffix(line, "\n"), "\r")
	return strconv.Atoi(line)
}

func readBulkString(r *bufio.Reader) (string, error) {
	prefix, err := r.ReadByte()
	if err != nil {
		return "", err
	}
	if prefix != '$' {
		return "", fmt.Errorf("unexpected prefix %q", prefix)
	}
	length, err := readLength(r)
	if err != nil {
		return "", err
	}
	if length < 0 {
		return "", nil
	}
	buf := make([]byte, length+2)
	if _, err := io.ReadFull(r, buf); err != nil {
		return "", err
	}
	return string(buf[:length]), nil
}

func writeSimpleString(w *bufio.Writer, value string) error {
	if _, err := fmt.Fprintf(w, "+%s\r\n", value); err != nil {
		return err
	}
	return w.Flush()
}

func writeBulkString(w *bufio.Writer, value string) error {
	if _, err := fmt.Fprintf(w, "$%d\r\n%s\r\n", len(value), value); err != nil {
		return err
	}
	return w.Flush()
}

func writeBulkNil(w *bufio.Writer) error {
	if _, err := w.WriteString("$-1\r\n"); err != nil {
		return err
	}
	return w.Flush()
}

func writeNilArray(w *bufio.Writer) error {
	if _, err := w.WriteString("*-1\r\n"); err != nil {
		return err
	}
	return w.Flush()
}

func writeInteger(w *bufio.Writer, value int64) error {
	if _, err := fmt.Fprintf(w, ":%d\r\n", value); err != nil {
		return err
	}
	return w.Flush()
}

func writeArray(w *bufio.Writer, values []interface{}) error {
	if _, err := fmt.Fprintf(w, "*%d\r\n", len(values)); err != nil {
		return err
	}
	for _, value := range values {
		switch v := value.(type) {
		case string:
			if _, err := fmt.Fprintf(w, "$%d\r\n%s\r\n", len(v), v); err != nil {
				return err
			}
		case int64:
			if _, err := fmt.Fprintf(w, ":%d\r\n", v); err != nil {
				return err
			}
		case []interface{}:
			if err := writeArray(w, v); err != nil {
				return err
			}
		default:
			formatted := fmt.Sprint(v)
			if _, err := fmt.Fprintf(w, "$%d\r\n%s\r\n", len(formatted), formatted); err != nil {
				return err
			}
		}
	}
	return w.Flush()
}

func writeError(w *bufio.Writer, msg string) error {
	if _, err := fmt.Fprintf(w, "-%s\r\n", msg); err != nil {
		return err
	}
	return w.Flush()
}
