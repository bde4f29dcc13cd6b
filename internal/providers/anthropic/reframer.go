package anthropic

import (
	"bytes"
	"encoding/json"
	"io"
	"log/slog"
	"time"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/google/uuid"
	"github.com/tidwall/gjson"

	"github.com/nulpointcorp/llm-router/internal/providers"
)

var dataPrefix = []byte("data:")

// keepalive is an SSE comment line. OpenAI clients skip it.
var keepalive = []byte(": keepalive\n\n")

// ReframerOptions configures a Reframer. All fields are optional.
type ReframerOptions struct {
	// ID overrides the generated chunk id (chatcmpl-<uuid>).
	ID string
	// Now overrides the clock used for the "created" field.
	Now      func() time.Time
	Logger   *slog.Logger
	Observer providers.StreamObserver
}

// Reframer converts a Messages API event stream into OpenAI chat completion
// chunks, one line at a time. It holds at most one incomplete line.
//
// A Reframer is not safe for concurrent use.
type Reframer struct {
	id      string
	created int64
	model   string

	buf []byte

	log      *slog.Logger
	observer providers.StreamObserver
}

// NewReframer starts a new stream. The chunk id and creation time are fixed
// here and shared by every frame the Reframer produces.
func NewReframer(o ReframerOptions) *Reframer {
	now := time.Now
	if o.Now != nil {
		now = o.Now
	}
	id := o.ID
	if id == "" {
		id = "chatcmpl-" + uuid.NewString()
	}
	log := o.Logger
	if log == nil {
		log = slog.Default()
	}
	return &Reframer{
		id:       id,
		created:  now().Unix(),
		log:      log,
		observer: o.Observer,
	}
}

// ID returns the chunk id shared by all frames of this stream.
func (r *Reframer) ID() string { return r.id }

// Feed consumes the next upstream bytes and returns the frames completed by
// them, in upstream order. Each frame is a full "data: {...}\n\n" record.
func (r *Reframer) Feed(p []byte) [][]byte {
	r.buf = append(r.buf, p...)

	var frames [][]byte
	start := 0
	for {
		i := bytes.IndexByte(r.buf[start:], '\n')
		if i < 0 {
			break
		}
		if f := r.line(r.buf[start : start+i]); f != nil {
			frames = append(frames, f)
		}
		start += i + 1
	}

	// Keep only the trailing fragment.
	n := copy(r.buf, r.buf[start:])
	r.buf = r.buf[:n]
	return frames
}

// Flush ends the stream. An incomplete trailing line cannot form an event and
// is discarded.
func (r *Reframer) Flush() {
	if len(r.buf) > 0 {
		r.log.Debug("reframer_discarded_fragment",
			slog.String("chunk_id", r.id),
			slog.Int("bytes", len(r.buf)),
		)
	}
	r.buf = r.buf[:0]
}

func (r *Reframer) line(line []byte) []byte {
	line = bytes.TrimSuffix(line, []byte{'\r'})
	if !bytes.HasPrefix(line, dataPrefix) {
		return nil
	}
	data := bytes.TrimSpace(line[len(dataPrefix):])
	if len(data) == 0 {
		return nil
	}

	if !gjson.ValidBytes(data) {
		r.anomaly(data, "invalid json")
		return nil
	}
	var ev anthropic.MessageStreamEventUnion
	if err := json.Unmarshal(data, &ev); err != nil {
		r.anomaly(data, err.Error())
		return nil
	}

	switch ev.Type {
	case eventMessageStart:
		r.model = string(ev.Message.Model)
		empty := ""
		return r.frame(chunkDelta{Role: "assistant", Content: &empty}, nil)

	case eventContentBlockDelta:
		if ev.Delta.Type != deltaText {
			return nil
		}
		text := ev.Delta.Text
		return r.frame(chunkDelta{Content: &text}, nil)

	case eventMessageStop:
		stop := finishStop
		return r.frame(chunkDelta{}, &stop)
	}
	return nil
}

func (r *Reframer) frame(delta chunkDelta, finish *string) []byte {
	data, err := json.Marshal(chunk{
		ID:      r.id,
		Object:  "chat.completion.chunk",
		Created: r.created,
		Model:   r.model,
		Choices: []chunkChoice{{Index: 0, Delta: delta, FinishReason: finish}},
	})
	if err != nil {
		return nil
	}

	out := make([]byte, 0, len(data)+8)
	out = append(out, "data: "...)
	out = append(out, data...)
	out = append(out, '\n', '\n')

	if r.observer != nil {
		r.observer.StreamFrame(providers.DialectAnthropic)
	}
	return out
}

func (r *Reframer) anomaly(data []byte, reason string) {
	const maxLogged = 256
	if len(data) > maxLogged {
		data = data[:maxLogged]
	}
	r.log.Debug("translation_anomaly",
		slog.String("chunk_id", r.id),
		slog.String("reason", reason),
		slog.String("line", string(data)),
	)
	if r.observer != nil {
		r.observer.TranslationAnomaly(providers.DialectAnthropic)
	}
}

// reader is the pull stage around a Reframer: upstream is read only once
// every frame produced so far has been handed to the caller.
//
// An upstream read that yields no frame (ping, block start/stop, partial
// line) still returns a keepalive comment, so every upstream read results in
// a downstream write and a gone caller is noticed on the next event.
type reader struct {
	upstream io.ReadCloser
	rf       *Reframer
	scratch  []byte
	pending  []byte
	err      error
}

// NewReader wraps an upstream Messages API event stream so that reads return
// OpenAI chat completion chunks instead.
func NewReader(upstream io.ReadCloser, o ReframerOptions) io.ReadCloser {
	return &reader{
		upstream: upstream,
		rf:       NewReframer(o),
		scratch:  make([]byte, 32*1024),
	}
}

func (r *reader) Read(p []byte) (int, error) {
	for len(r.pending) == 0 {
		if r.err != nil {
			return 0, r.err
		}
		r.pending = r.pending[:0]

		n, err := r.upstream.Read(r.scratch)
		if n > 0 {
			for _, f := range r.rf.Feed(r.scratch[:n]) {
				r.pending = append(r.pending, f...)
			}
			if len(r.pending) == 0 && err == nil {
				r.pending = append(r.pending, keepalive...)
			}
		}
		if err != nil {
			if err == io.EOF {
				r.rf.Flush()
			}
			r.err = err
		}
	}

	n := copy(p, r.pending)
	r.pending = r.pending[n:]
	return n, nil
}

func (r *reader) Close() error {
	return r.upstream.Close()
}
