package protocol

import (
	"bytes"
	"encoding/json"
	stderrors "errors"
	"fmt"

	"github.com/turtacn/Fopwatch/pkg/consts"
	fperrors "github.com/turtacn/Fopwatch/pkg/errors"
)

// Actions understood by the engine.
const (
	ActionGenerate = "generate"
	ActionShutdown = "shutdown"
	ActionPing     = "ping"
)

// Statuses reported by the engine.
const (
	StatusReady    = "ready"
	StatusSuccess  = "success"
	StatusError    = "error"
	StatusPong     = "pong"
	StatusShutdown = "shutdown"
)

// Command is one outbound frame. Field order is the wire order.
type Command struct {
	Action     string `json:"action"`
	RequestID  int    `json:"requestId"`
	XMLPath    string `json:"xmlPath,omitempty"`
	XSLPath    string `json:"xslPath,omitempty"`
	OutputPath string `json:"outputPath,omitempty"`
	WorkingDir string `json:"workingDir,omitempty"`
}

// IsProbe reports whether the command is a liveness probe.
func (c Command) IsProbe() bool {
	return c.Action == ActionPing
}

// Response is one inbound frame. The engine may send extra fields, such as the
// raw document bytes, which are ignored.
type Response struct {
	Status     string `json:"status"`
	RequestID  int    `json:"requestId"`
	Message    string `json:"message"`
	OutputPath string `json:"outputPath,omitempty"`
	StackTrace string `json:"stackTrace,omitempty"`
}

// Correlated reports whether the frame answers a specific request.
func (r Response) Correlated() bool {
	return r.Status != StatusReady && r.RequestID > 0
}

// Encode renders c as a single newline-terminated JSON line.
func Encode(c Command) ([]byte, error) {
	payload, err := json.Marshal(c)
	if err != nil {
		return nil, err
	}
	return append(payload, '\n'), nil
}

// Batch is the outcome of feeding one chunk to a Decoder.
type Batch struct {
	// Responses holds every complete, well-formed response frame in order.
	Responses []Response
	// Noise holds complete lines that did not carry the response prefix.
	Noise []string
	// Err joins a ProtocolDecode error per dropped frame. Responses are still valid when Err is set.
	Err error
}

// Decoder splits a byte stream into lines and parses prefixed response frames.
// A partial trailing line is retained until its terminator arrives, so a
// chunk boundary inside the prefix never misclassifies the line.
// Response frames carry the rendered document inline and may run to hundreds
// of megabytes; they are bounded by maxFrame. Unprefixed noise is bounded by
// consts.MaxNoiseLine. A line over its bound is dropped up to its terminator.
// Decoder is not safe for concurrent use; one reader goroutine owns it.
type Decoder struct {
	prefix     []byte
	maxFrame   int
	maxNoise   int
	buf        []byte
	scanned    int
	discarding bool
}

// NewDecoder returns a Decoder accepting response frames up to maxFrame
// bytes. A non-positive maxFrame selects consts.MaxResponseFrame.
func NewDecoder(maxFrame int) *Decoder {
	if maxFrame <= 0 {
		maxFrame = consts.MaxResponseFrame
	}
	return &Decoder{
		prefix:   []byte(consts.ResponsePrefix),
		maxFrame: maxFrame,
		maxNoise: consts.MaxNoiseLine,
	}
}

// Feed consumes chunk and returns the frames it completed.
func (d *Decoder) Feed(chunk []byte) Batch {
	var b Batch
	var errs []error

	d.buf = append(d.buf, chunk...)
	for {
		idx := bytes.IndexByte(d.buf[d.scanned:], '\n')
		if idx < 0 {
			d.scanned = len(d.buf)
			break
		}
		idx += d.scanned
		line := bytes.TrimRight(d.buf[:idx], "\r")
		d.buf = d.buf[idx+1:]
		d.scanned = 0
		if d.discarding {
			d.discarding = false
			continue
		}
		d.handleLine(line, &b, &errs)
	}

	if limit := d.limit(); !d.discarding && len(d.buf) > limit {
		errs = append(errs, fperrors.New(fperrors.ErrCodeProtocolDecode, "Decode",
			fmt.Sprintf("unterminated line exceeds %d bytes, discarded", limit), nil))
		d.discarding = true
	}
	if d.discarding || len(d.buf) == 0 {
		d.buf = nil
		d.scanned = 0
	}

	b.Err = stderrors.Join(errs...)
	return b
}

func (d *Decoder) limit() int {
	if bytes.HasPrefix(d.buf, d.prefix) {
		return d.maxFrame
	}
	return d.maxNoise
}

// Flush returns whatever unterminated line is buffered as noise and resets the decoder.
// It is called once the stream reaches EOF.
func (d *Decoder) Flush() Batch {
	var b Batch
	var errs []error
	if len(d.buf) > 0 && !d.discarding {
		d.handleLine(bytes.TrimRight(d.buf, "\r"), &b, &errs)
	}
	d.buf = nil
	d.scanned = 0
	d.discarding = false
	b.Err = stderrors.Join(errs...)
	return b
}

// Buffered returns the number of bytes held for the next chunk.
func (d *Decoder) Buffered() int {
	return len(d.buf)
}

func (d *Decoder) handleLine(line []byte, b *Batch, errs *[]error) {
	if len(bytes.TrimSpace(line)) == 0 {
		return
	}
	if !bytes.HasPrefix(line, d.prefix) {
		b.Noise = append(b.Noise, string(line))
		return
	}
	var resp Response
	if err := json.Unmarshal(line[len(d.prefix):], &resp); err != nil {
		*errs = append(*errs, fperrors.New(fperrors.ErrCodeProtocolDecode, "Decode", "malformed response frame dropped", err))
		return
	}
	if resp.Status == "" {
		*errs = append(*errs, fperrors.New(fperrors.ErrCodeProtocolDecode, "Decode", "response frame without status dropped", nil))
		return
	}
	b.Responses = append(b.Responses, resp)
}

// Personal.AI order the ending
