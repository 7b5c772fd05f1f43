package transport

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
	"sync"

	"github.com/tinyland-inc/formbridge/pkg/logger"
	"github.com/tinyland-inc/formbridge/pkg/protocol"
)

const contentLengthHeader = "Content-Length:"

// Stdio exchanges envelopes over a reader/writer pair, each framed with a
// Content-Length header. A host that embeds the content view as a
// subprocess talks to it through its stdin and stdout.
type Stdio struct {
	*base

	writeMu sync.Mutex
	w       io.Writer
	r       *bufio.Reader
	closer  io.Closer
	done    chan struct{}

	startOnce sync.Once
}

// NewStdio wraps r and w. If w also implements io.Closer it is closed by
// Close. Call Start to begin reading.
func NewStdio(r io.Reader, w io.Writer, ns protocol.Namespace) *Stdio {
	s := &Stdio{
		base: newBase("stdio", ns, true),
		w:    w,
		r:    bufio.NewReader(r),
		done: make(chan struct{}),
	}
	if c, ok := w.(io.Closer); ok {
		s.closer = c
	}
	return s
}

// Start runs the read loop until EOF, a read error, ctx cancellation or
// Close. Malformed frames are skipped. Later calls do nothing.
func (s *Stdio) Start(ctx context.Context) {
	s.startOnce.Do(func() {
		go func() {
			defer close(s.done)
			s.readLoop(ctx)
		}()
	})
}

// Done is closed when the read loop exits.
func (s *Stdio) Done() <-chan struct{} { return s.done }

func (s *Stdio) Send(msg protocol.Message) error {
	if s.closed.Load() {
		return ErrTransportClosed
	}
	data, err := protocol.Encode(msg)
	if err != nil {
		return err
	}
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	return WriteFrame(s.w, data)
}

func (s *Stdio) Close() error {
	if !s.shutdown() {
		return nil
	}
	if s.closer != nil {
		return s.closer.Close()
	}
	return nil
}

func (s *Stdio) readLoop(ctx context.Context) {
	for {
		if ctx.Err() != nil || s.closed.Load() {
			return
		}
		data, err := ReadFrame(s.r)
		if err != nil {
			if errors.Is(err, errSkipFrame) {
				continue
			}
			if !errors.Is(err, io.EOF) && !s.closed.Load() {
				logger.ErrorCF("transport", "Failed to read frame", map[string]any{"error": err.Error()})
			}
			return
		}
		s.dispatchRaw(data)
	}
}

var errSkipFrame = errors.New("skip frame")

// WriteFrame writes one Content-Length framed payload.
func WriteFrame(w io.Writer, data []byte) error {
	header := fmt.Sprintf("%s %d\r\n\r\n", contentLengthHeader, len(data))
	if _, err := io.WriteString(w, header); err != nil {
		return fmt.Errorf("failed to write header: %w", err)
	}
	if _, err := w.Write(data); err != nil {
		return fmt.Errorf("failed to write body: %w", err)
	}
	return nil
}

// ReadFrame reads one Content-Length framed payload. The header block
// runs to the first blank line; headers other than Content-Length and
// stray lines before a frame are ignored. A frame with a bad length is
// dropped and reading resumes at the next header. An oversize frame is
// discarded by its declared length. Both return errSkipFrame.
func ReadFrame(r *bufio.Reader) ([]byte, error) {
	contentLength := -1
	sawHeader := false
	for {
		line, err := r.ReadString('\n')
		if err != nil {
			return nil, err
		}
		line = strings.TrimSpace(line)
		if line == "" {
			if !sawHeader {
				continue
			}
			break
		}
		sawHeader = true
		// a body orphaned by an earlier bad header can run into the next header
		idx := strings.Index(line, contentLengthHeader)
		if idx < 0 {
			continue
		}
		n, err := strconv.Atoi(strings.TrimSpace(line[idx+len(contentLengthHeader):]))
		if err != nil || n < 0 {
			logger.WarnCF("transport", "Invalid content length", map[string]any{"header": line})
			contentLength = -1
			continue
		}
		contentLength = n
	}
	if contentLength < 0 {
		return nil, errSkipFrame
	}

	if contentLength > protocol.MaxMessageSize {
		if _, err := io.CopyN(io.Discard, r, int64(contentLength)); err != nil {
			return nil, fmt.Errorf("failed to discard oversize body: %w", err)
		}
		logger.WarnCF("transport", "Dropping oversize frame", map[string]any{
			"bytes": contentLength,
			"max":   protocol.MaxMessageSize,
		})
		return nil, errSkipFrame
	}

	buf := make([]byte, contentLength)
	if _, err := io.ReadFull(r, buf); err != nil {
		return nil, fmt.Errorf("failed to read body: %w", err)
	}
	return buf, nil
}

var _ Transport = (*Stdio)(nil)
