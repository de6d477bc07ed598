package cnet

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/binary"
	"errors"
	"io"
	"math"
	"net"
	"time"

	"github.com/corvusdb/corvus/internal/cnet/proto"
	"github.com/corvusdb/corvus/internal/db"
	"github.com/shopspring/decimal"
)

const lobMacLen = sha256.Size

var (
	ErrShortPacket = errors.New("packet truncated")
	ErrValueTag    = errors.New("unknown value tag")
)

// Transfer is the frame codec of one connection: length-prefixed framing,
// typed primitive read/write and the typed Value codec. The read side is fed
// one whole packet at a time via SetBuffer; the write side accumulates one
// outbound frame and ships it on Flush. Not safe for concurrent use — the
// connection serializes access to the write side.
type Transfer struct {
	conn net.Conn
	wdl  time.Duration

	out []byte
	in  []byte
	pos int

	version   int32
	lobMacKey []byte
}

func NewTransfer(conn net.Conn, wdl time.Duration, lobMacKey []byte) *Transfer {
	return &Transfer{
		conn:      conn,
		wdl:       wdl,
		version:   proto.TCP_PROTOCOL_VERSION_MIN,
		lobMacKey: lobMacKey,
	}
}

func (t *Transfer) SetVersion(v int32) { t.version = v }
func (t *Transfer) Version() int32     { return t.version }

// SetBuffer positions the read side at the start of a whole packet,
// including its 4-byte length prefix.
func (t *Transfer) SetBuffer(b []byte) {
	t.in = b
	t.pos = 0
}

func (t *Transfer) need(n int) error {
	if t.pos+n > len(t.in) {
		return ErrShortPacket
	}
	return nil
}

func (t *Transfer) ReadInt() (int32, error) {
	if err := t.need(4); err != nil {
		return 0, err
	}
	v := int32(binary.BigEndian.Uint32(t.in[t.pos:]))
	t.pos += 4
	return v, nil
}

func (t *Transfer) ReadLong() (int64, error) {
	if err := t.need(8); err != nil {
		return 0, err
	}
	v := int64(binary.BigEndian.Uint64(t.in[t.pos:]))
	t.pos += 8
	return v, nil
}

func (t *Transfer) ReadBool() (bool, error) {
	if err := t.need(1); err != nil {
		return false, err
	}
	v := t.in[t.pos] != 0
	t.pos++
	return v, nil
}

func (t *Transfer) ReadByte() (byte, error) {
	if err := t.need(1); err != nil {
		return 0, err
	}
	v := t.in[t.pos]
	t.pos++
	return v, nil
}

// ReadString reads a length-prefixed UTF-8 string. A null string on the wire
// (length -1) reads as "".
func (t *Transfer) ReadString() (string, error) {
	n, err := t.ReadInt()
	if err != nil {
		return "", err
	}
	if n < 0 {
		return "", nil
	}
	if err := t.need(int(n)); err != nil {
		return "", err
	}
	s := string(t.in[t.pos : t.pos+int(n)])
	t.pos += int(n)
	return s, nil
}

// ReadBytes reads a length-prefixed byte array; length -1 reads as nil.
func (t *Transfer) ReadBytes() ([]byte, error) {
	n, err := t.ReadInt()
	if err != nil {
		return nil, err
	}
	if n < 0 {
		return nil, nil
	}
	if err := t.need(int(n)); err != nil {
		return nil, err
	}
	b := make([]byte, n)
	copy(b, t.in[t.pos:t.pos+int(n)])
	t.pos += int(n)
	return b, nil
}

// ReadByteBuffer reads a sized raw blob.
func (t *Transfer) ReadByteBuffer() ([]byte, error) {
	n, err := t.ReadInt()
	if err != nil {
		return nil, err
	}
	if n < 0 {
		return nil, ErrShortPacket
	}
	if err := t.need(int(n)); err != nil {
		return nil, err
	}
	b := make([]byte, n)
	copy(b, t.in[t.pos:t.pos+int(n)])
	t.pos += int(n)
	return b, nil
}

func (t *Transfer) readFixed(n int) ([]byte, error) {
	if err := t.need(n); err != nil {
		return nil, err
	}
	b := make([]byte, n)
	copy(b, t.in[t.pos:t.pos+n])
	t.pos += n
	return b, nil
}

func (t *Transfer) begin() {
	if len(t.out) == 0 {
		// reserve the 4-byte length prefix
		t.out = append(t.out, 0, 0, 0, 0)
	}
}

// WriteRequestHeader starts a request frame.
func (t *Transfer) WriteRequestHeader(op int32) *Transfer {
	t.begin()
	return t.WriteInt(proto.RequestHeader(op))
}

// WriteResponseHeader starts a response frame.
func (t *Transfer) WriteResponseHeader(op int32) *Transfer {
	t.begin()
	return t.WriteInt(proto.ResponseHeader(op))
}

func (t *Transfer) WriteInt(v int32) *Transfer {
	t.begin()
	t.out = binary.BigEndian.AppendUint32(t.out, uint32(v))
	return t
}

func (t *Transfer) WriteLong(v int64) *Transfer {
	t.begin()
	t.out = binary.BigEndian.AppendUint64(t.out, uint64(v))
	return t
}

func (t *Transfer) WriteBool(v bool) *Transfer {
	t.begin()
	if v {
		t.out = append(t.out, 1)
	} else {
		t.out = append(t.out, 0)
	}
	return t
}

func (t *Transfer) WriteByte(b byte) *Transfer {
	t.begin()
	t.out = append(t.out, b)
	return t
}

func (t *Transfer) WriteString(s string) *Transfer {
	t.WriteInt(int32(len(s)))
	t.out = append(t.out, s...)
	return t
}

// WriteNullString writes the null string marker (length -1).
func (t *Transfer) WriteNullString() *Transfer {
	return t.WriteInt(-1)
}

func (t *Transfer) WriteBytes(b []byte) *Transfer {
	if b == nil {
		return t.WriteInt(-1)
	}
	t.WriteInt(int32(len(b)))
	t.out = append(t.out, b...)
	return t
}

func (t *Transfer) WriteByteBuffer(b []byte) *Transfer {
	t.WriteInt(int32(len(b)))
	t.out = append(t.out, b...)
	return t
}

func (t *Transfer) writeFixed(b []byte) *Transfer {
	t.begin()
	t.out = append(t.out, b...)
	return t
}

// Reset discards any partially written response bytes, rewinding to the
// start of the current outbound packet. On a mid-response failure the error
// packet must replace the partial payload, not append to it.
func (t *Transfer) Reset() {
	if len(t.out) > 4 {
		t.out = t.out[:4]
	}
}

// Flush fills in the length prefix and writes the pending frame to the
// socket.
func (t *Transfer) Flush() error {
	if len(t.out) == 0 {
		return nil
	}
	binary.BigEndian.PutUint32(t.out[:4], uint32(len(t.out)-4))
	if t.wdl > 0 {
		_ = t.conn.SetWriteDeadline(time.Now().Add(t.wdl))
	}
	_, err := t.conn.Write(t.out)
	if t.wdl > 0 {
		_ = t.conn.SetWriteDeadline(time.Time{})
	}
	t.out = t.out[:0]
	return err
}

func (t *Transfer) Close() error {
	return t.conn.Close()
}

// CalculateLobMac derives the MAC a peer must present to read the given lob
// over this connection.
func (t *Transfer) CalculateLobMac(lobID int64) []byte {
	mac := hmac.New(sha256.New, t.lobMacKey)
	var buf [8]byte
	binary.BigEndian.PutUint64(buf[:], uint64(lobID))
	mac.Write(buf[:])
	return mac.Sum(nil)
}

// VerifyLobMac checks a presented lob MAC against the connection key.
func (t *Transfer) VerifyLobMac(presented []byte, lobID int64) error {
	if !hmac.Equal(presented, t.CalculateLobMac(lobID)) {
		return db.NewError(db.ErrHmacInvalid, "invalid lob mac for lob %d", lobID)
	}
	return nil
}

// WriteValue writes a typed value: one tag byte plus a tag-specific body.
func (t *Transfer) WriteValue(v db.Value) error {
	if v == nil {
		t.WriteByte(db.TagNull)
		return nil
	}
	t.WriteByte(v.Tag())
	switch x := v.(type) {
	case db.ValueNull:
	case db.ValueBoolean:
		t.WriteBool(bool(x))
	case db.ValueInt:
		t.WriteInt(int32(x))
	case db.ValueLong:
		t.WriteLong(int64(x))
	case db.ValueDouble:
		t.WriteLong(int64(math.Float64bits(float64(x))))
	case db.ValueDecimal:
		t.WriteString(x.D.String())
	case db.ValueString:
		t.WriteString(string(x))
	case db.ValueBytes:
		t.WriteBytes([]byte(x))
	case db.ValueArray:
		t.WriteInt(int32(len(x)))
		for _, elem := range x {
			if err := t.WriteValue(elem); err != nil {
				return err
			}
		}
	case db.ValueLob:
		if len(x.HMAC) != lobMacLen {
			return db.NewError(db.ErrHmacInvalid, "lob mac must be %d bytes", lobMacLen)
		}
		t.WriteLong(x.Length)
		t.WriteLong(x.LobID)
		t.writeFixed(x.HMAC)
		t.WriteLong(x.Precision)
	default:
		return ErrValueTag
	}
	return nil
}

// ReadValue reads a typed value. Lob values have their MAC verified against
// the connection key.
func (t *Transfer) ReadValue() (db.Value, error) {
	tag, err := t.ReadByte()
	if err != nil {
		return nil, err
	}
	switch tag {
	case db.TagNull:
		return db.ValueNull{}, nil
	case db.TagBoolean:
		v, err := t.ReadBool()
		return db.ValueBoolean(v), err
	case db.TagInt:
		v, err := t.ReadInt()
		return db.ValueInt(v), err
	case db.TagLong:
		v, err := t.ReadLong()
		return db.ValueLong(v), err
	case db.TagDouble:
		bits, err := t.ReadLong()
		return db.ValueDouble(math.Float64frombits(uint64(bits))), err
	case db.TagDecimal:
		s, err := t.ReadString()
		if err != nil {
			return nil, err
		}
		d, err := decimal.NewFromString(s)
		if err != nil {
			return nil, err
		}
		return db.ValueDecimal{D: d}, nil
	case db.TagString:
		s, err := t.ReadString()
		return db.ValueString(s), err
	case db.TagBytes:
		b, err := t.ReadBytes()
		return db.ValueBytes(b), err
	case db.TagArray:
		n, err := t.ReadInt()
		if err != nil {
			return nil, err
		}
		arr := make(db.ValueArray, 0, n)
		for i := int32(0); i < n; i++ {
			elem, err := t.ReadValue()
			if err != nil {
				return nil, err
			}
			arr = append(arr, elem)
		}
		return arr, nil
	case db.TagBlob, db.TagClob:
		length, err := t.ReadLong()
		if err != nil {
			return nil, err
		}
		lobID, err := t.ReadLong()
		if err != nil {
			return nil, err
		}
		mac, err := t.readFixed(lobMacLen)
		if err != nil {
			return nil, err
		}
		precision, err := t.ReadLong()
		if err != nil {
			return nil, err
		}
		if err := t.VerifyLobMac(mac, lobID); err != nil {
			return nil, err
		}
		return db.ValueLob{Kind: tag, Length: length, LobID: lobID, HMAC: mac, Precision: precision}, nil
	default:
		return nil, ErrValueTag
	}
}

var _ io.Closer = (*Transfer)(nil)
