// Package ur implements the Uniform Resources (UR) framing specified
// in [BCR-2020-005]: a textual envelope `ur:<type>/...` carrying a
// typed CBOR payload, optionally split across fountain-coded parts.
//
// [BCR-2020-005]: https://github.com/BlockchainCommons/Research/blob/master/papers/bcr-2020-005-ur.md
package ur

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"seedhammer.com/bc/bytewords"
	"seedhammer.com/bc/fountain"
)

// ErrorKind classifies a UR framing failure.
type ErrorKind int

const (
	// InvalidScheme means the input does not start with "ur:".
	InvalidScheme ErrorKind = iota
	// InvalidType means the type segment is empty or contains
	// characters outside [a-z0-9-].
	InvalidType
	// InvalidPathLength means the body does not split into exactly 2
	// or 3 "/"-separated segments, or the multi-part sequence prefix
	// is not of the form "<seq>-<count>".
	InvalidPathLength
)

func (k ErrorKind) String() string {
	switch k {
	case InvalidScheme:
		return "invalid scheme"
	case InvalidType:
		return "invalid type"
	case InvalidPathLength:
		return "invalid path length"
	default:
		return "unknown ur error"
	}
}

// Error reports a UR framing failure.
type Error struct {
	Kind ErrorKind
	Msg  string
}

func (e *Error) Error() string {
	if e.Msg == "" {
		return e.Kind.String()
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Msg)
}

func errorf(kind ErrorKind, format string, args ...any) error {
	return &Error{Kind: kind, Msg: fmt.Sprintf(format, args...)}
}

var typePattern = regexp.MustCompile(`^[a-z0-9-]+$`)

const defaultMinFragmentLen = 10

// Encoder produces a stream of `ur:` lines for a single (type, cbor)
// payload, using the single-part form when the payload fits within
// maxFragmentLen and multi-part fountain framing otherwise.
type Encoder struct {
	typ      string
	single   []byte
	fountain *fountain.Encoder
}

// NewEncoder constructs an Encoder for typ and cbor. firstSeqNum
// defaults to 1 when 0; minFragmentLen defaults to 10 when 0.
func NewEncoder(typ string, cbor []byte, maxFragmentLen int, firstSeqNum uint32, minFragmentLen int) (*Encoder, error) {
	if typ == "" || !typePattern.MatchString(typ) {
		return nil, errorf(InvalidType, "%q", typ)
	}
	if minFragmentLen == 0 {
		minFragmentLen = defaultMinFragmentLen
	}
	fe := fountain.NewEncoder(cbor, maxFragmentLen, minFragmentLen, firstSeqNum)
	e := &Encoder{typ: typ}
	if fe.IsSinglePart() {
		e.single = cbor
	} else {
		e.fountain = fe
	}
	return e, nil
}

// SeqLen returns the fountain fragment count, or 1 for a single-part
// encoder.
func (e *Encoder) SeqLen() uint32 {
	if e.fountain != nil {
		return e.fountain.SeqLen()
	}
	return 1
}

// IsSinglePart reports whether the payload is carried without
// fountain framing.
func (e *Encoder) IsSinglePart() bool {
	return e.fountain == nil
}

// IsComplete reports whether the encoder has emitted at least 2*SeqLen
// parts. See fountain.Encoder.IsComplete for its caveats.
func (e *Encoder) IsComplete() bool {
	if e.fountain != nil {
		return e.fountain.IsComplete()
	}
	return true
}

// NextPart returns the next `ur:` line. For a single-part encoder it
// always returns the same line.
func (e *Encoder) NextPart() string {
	if e.fountain == nil {
		return fmt.Sprintf("ur:%s/%s", e.typ, bytewords.Encode(e.single))
	}
	p := e.fountain.NextPart()
	body := p.Marshal()
	return fmt.Sprintf("ur:%s/%d-%d/%s", e.typ, p.SeqNum, p.SeqLen, bytewords.Encode(body))
}

// Decoder accumulates UR parts, in any order and from any source,
// until the payload is fully reconstructed.
type Decoder struct {
	typ      string
	single   []byte
	fountain fountain.Decoder
	lastErr  error
}

// ReceivePart parses and ingests one `ur:` line. It returns false if
// the line was rejected; the error is available from the most recent
// failing call and the decoder otherwise remains usable.
func (d *Decoder) ReceivePart(raw string) bool {
	err := d.receive(raw)
	if err != nil {
		d.lastErr = err
		return false
	}
	return true
}

// LastError returns the error recorded by the most recent failing
// ReceivePart call, or nil.
func (d *Decoder) LastError() error {
	return d.lastErr
}

func (d *Decoder) receive(raw string) error {
	s := strings.ToLower(raw)
	const prefix = "ur:"
	if !strings.HasPrefix(s, prefix) {
		return errorf(InvalidScheme, "%q", raw)
	}
	s = s[len(prefix):]
	segs := strings.Split(s, "/")
	if len(segs) != 2 && len(segs) != 3 {
		return errorf(InvalidPathLength, "%d segments", len(segs))
	}
	typ := segs[0]
	if typ == "" || !typePattern.MatchString(typ) {
		return errorf(InvalidType, "%q", typ)
	}
	if d.typ != "" && d.typ != typ {
		return errorf(InvalidType, "type changed from %q to %q", d.typ, typ)
	}

	if len(segs) == 2 {
		body, err := bytewords.Decode(segs[1])
		if err != nil {
			return fmt.Errorf("ur: invalid fragment: %w", err)
		}
		d.typ = typ
		d.single = body
		return nil
	}

	if err := validateSeqAndLen(segs[1]); err != nil {
		return err
	}
	body, err := bytewords.Decode(segs[2])
	if err != nil {
		return fmt.Errorf("ur: invalid fragment: %w", err)
	}
	part, err := fountain.UnmarshalPart(body)
	if err != nil {
		return err
	}
	if err := d.fountain.Receive(part); err != nil {
		return err
	}
	d.typ = typ
	return nil
}

func validateSeqAndLen(s string) error {
	seq, count, ok := strings.Cut(s, "-")
	if !ok {
		return errorf(InvalidPathLength, "malformed sequence prefix %q", s)
	}
	if _, err := strconv.ParseUint(seq, 10, 32); err != nil {
		return errorf(InvalidPathLength, "bad seq in %q", s)
	}
	if _, err := strconv.ParseUint(count, 10, 32); err != nil {
		return errorf(InvalidPathLength, "bad count in %q", s)
	}
	return nil
}

// IsComplete reports whether decoding has recovered every fragment of
// a multi-part payload, or is trivially true for a single-part one.
func (d *Decoder) IsComplete() bool {
	if d.single != nil {
		return true
	}
	return d.fountain.IsComplete()
}

// IsSuccess reports whether Result would return a payload.
func (d *Decoder) IsSuccess() bool {
	if d.single != nil {
		return true
	}
	return d.fountain.IsSuccess()
}

// EstimatedPercentComplete returns the fraction of the payload
// recovered so far: in [0,1) while decoding is in progress, and 1 once
// a single-part payload is received or a multi-part one succeeds.
func (d *Decoder) EstimatedPercentComplete() float64 {
	if d.single != nil {
		return 1
	}
	return d.fountain.EstimatedPercentComplete()
}

// Result returns the reconstructed (type, cbor) pair once complete.
// It returns ("", nil, nil) while decoding is still in progress, and a
// non-nil error if the decoder has entered its sticky failed state.
func (d *Decoder) Result() (string, []byte, error) {
	if d.single != nil {
		return d.typ, d.single, nil
	}
	v, err := d.fountain.Result()
	if err != nil {
		return "", nil, err
	}
	if v == nil {
		return "", nil, nil
	}
	return d.typ, v, nil
}
