package wire

import (
	"encoding/binary"
	"hash/crc32"

	"github.com/google/uuid"

	"hft_go/internal/domain"
	"hft_go/pkg/quant"
)

// Binary frame layout, big-endian:
//
//	len u32 | type u8 | seq u64 | payload[len] | crc32 u32
//
// The CRC (IEEE) covers header and payload. Every payload starts with the
// sending time as i64 micros, followed by fixed-width fields per type.
// Strings are NUL-padded.
const (
	binaryHeaderLen  = 13
	binaryTrailerLen = 4

	symbolWidth    = 16
	apiKeyWidth    = 32
	signatureWidth = 64
	shortTextWidth = 32
	longTextWidth  = 64
	uuidWidth      = 16
)

var binaryPayloadSize = [...]int{
	MsgLogon:       8 + 4 + apiKeyWidth + signatureWidth,
	MsgHeartbeat:   8 + shortTextWidth,
	MsgTestRequest: 8 + shortTextWidth,
	MsgLogout:      8 + longTextWidth,
	MsgReject:      8 + 8 + longTextWidth,
	MsgBookAdd:     8 + symbolWidth + 1 + 8 + 8,
	MsgBookModify:  8 + symbolWidth + 1 + 8 + 8,
	MsgBookCancel:  8 + symbolWidth + 1 + 8 + 8,
	MsgBookClear:   8 + symbolWidth,
	MsgTrade:       8 + symbolWidth + 1 + 8 + 8,
	MsgNewOrder:    8 + uuidWidth + symbolWidth + 1 + 8 + 8,
	MsgCancelOrder: 8 + uuidWidth + symbolWidth,
	MsgExecReport:  8 + uuidWidth + symbolWidth + 1 + 1 + 8 + 8 + shortTextWidth,
}

type binaryCodec struct {
	maxPayload int
}

func (c *binaryCodec) Protocol() Protocol { return ProtocolBinary }

func (c *binaryCodec) Encode(m *Message) ([]byte, error) {
	if !m.Type.Valid() {
		return nil, malformed(ProtocolBinary, "unknown message type %d", m.Type)
	}
	size := binaryPayloadSize[m.Type]
	buf := make([]byte, binaryHeaderLen+size+binaryTrailerLen)
	binary.BigEndian.PutUint32(buf[0:4], uint32(size))
	buf[4] = byte(m.Type)
	binary.BigEndian.PutUint64(buf[5:13], m.Seq)

	w := fieldWriter{b: buf[binaryHeaderLen : binaryHeaderLen+size]}
	w.i64(int64(m.Time))
	switch m.Type {
	case MsgLogon:
		w.u32(m.HeartbeatSecs)
		w.str("api_key", m.APIKey, apiKeyWidth)
		w.str("signature", m.Signature, signatureWidth)
	case MsgHeartbeat, MsgTestRequest:
		w.str("test_req_id", m.TestReqID, shortTextWidth)
	case MsgLogout:
		w.str("text", m.Text, longTextWidth)
	case MsgReject:
		w.u64(m.RefSeq)
		w.str("text", m.Text, longTextWidth)
	case MsgBookAdd, MsgBookModify, MsgBookCancel, MsgTrade:
		w.str("symbol", m.Symbol, symbolWidth)
		w.u8(byte(m.Side))
		w.i64(int64(m.Price))
		w.i64(int64(m.Qty))
	case MsgBookClear:
		w.str("symbol", m.Symbol, symbolWidth)
	case MsgNewOrder:
		w.uuid(m.CorrelationID)
		w.str("symbol", m.Symbol, symbolWidth)
		w.u8(byte(m.Side))
		w.i64(int64(m.Price))
		w.i64(int64(m.Qty))
	case MsgCancelOrder:
		w.uuid(m.CorrelationID)
		w.str("symbol", m.Symbol, symbolWidth)
	case MsgExecReport:
		w.uuid(m.CorrelationID)
		w.str("symbol", m.Symbol, symbolWidth)
		w.u8(byte(m.Side))
		w.u8(byte(m.ExecType))
		w.i64(int64(m.Price))
		w.i64(int64(m.Qty))
		w.str("text", m.Text, shortTextWidth)
	}
	if w.err != nil {
		return nil, w.err
	}

	crc := crc32.ChecksumIEEE(buf[:binaryHeaderLen+size])
	binary.BigEndian.PutUint32(buf[binaryHeaderLen+size:], crc)
	return buf, nil
}

func (c *binaryCodec) Decode(frame []byte) (*Message, error) {
	if len(frame) < binaryHeaderLen {
		return nil, incomplete(ProtocolBinary, "header: have %d bytes", len(frame))
	}
	size := int(binary.BigEndian.Uint32(frame[0:4]))
	if size > c.maxPayload {
		return nil, malformed(ProtocolBinary, "payload length %d exceeds %d", size, c.maxPayload)
	}
	total := binaryHeaderLen + size + binaryTrailerLen
	if len(frame) < total {
		return nil, incomplete(ProtocolBinary, "frame: have %d of %d bytes", len(frame), total)
	}
	if len(frame) > total {
		return nil, malformed(ProtocolBinary, "%d trailing bytes", len(frame)-total)
	}

	want := binary.BigEndian.Uint32(frame[total-binaryTrailerLen:])
	if got := crc32.ChecksumIEEE(frame[:total-binaryTrailerLen]); got != want {
		return nil, malformed(ProtocolBinary, "checksum %08x != %08x", got, want)
	}

	t := MsgType(frame[4])
	if !t.Valid() {
		return nil, malformed(ProtocolBinary, "unknown message type %d", frame[4])
	}
	if size != binaryPayloadSize[t] {
		return nil, malformed(ProtocolBinary, "%s payload length %d, want %d", t, size, binaryPayloadSize[t])
	}

	m := &Message{Type: t, Seq: binary.BigEndian.Uint64(frame[5:13])}
	r := fieldReader{b: frame[binaryHeaderLen : binaryHeaderLen+size]}
	m.Time = quant.TimeStamp(r.i64())
	switch t {
	case MsgLogon:
		m.HeartbeatSecs = r.u32()
		m.APIKey = r.str(apiKeyWidth)
		m.Signature = r.str(signatureWidth)
	case MsgHeartbeat, MsgTestRequest:
		m.TestReqID = r.str(shortTextWidth)
	case MsgLogout:
		m.Text = r.str(longTextWidth)
	case MsgReject:
		m.RefSeq = r.u64()
		m.Text = r.str(longTextWidth)
	case MsgBookAdd, MsgBookModify, MsgBookCancel, MsgTrade:
		m.Symbol = r.str(symbolWidth)
		m.Side = domain.Side(r.u8())
		m.Price = quant.PriceMicros(r.i64())
		m.Qty = quant.QtySats(r.i64())
	case MsgBookClear:
		m.Symbol = r.str(symbolWidth)
	case MsgNewOrder:
		m.CorrelationID = r.uuid()
		m.Symbol = r.str(symbolWidth)
		m.Side = domain.Side(r.u8())
		m.Price = quant.PriceMicros(r.i64())
		m.Qty = quant.QtySats(r.i64())
	case MsgCancelOrder:
		m.CorrelationID = r.uuid()
		m.Symbol = r.str(symbolWidth)
	case MsgExecReport:
		m.CorrelationID = r.uuid()
		m.Symbol = r.str(symbolWidth)
		m.Side = domain.Side(r.u8())
		m.ExecType = ExecType(r.u8())
		m.Price = quant.PriceMicros(r.i64())
		m.Qty = quant.QtySats(r.i64())
		m.Text = r.str(shortTextWidth)
	}
	if err := validateDecoded(ProtocolBinary, m); err != nil {
		return nil, withSeq(err, m.Seq)
	}
	return m, nil
}

// validateDecoded applies the semantic checks shared by every codec.
func validateDecoded(p Protocol, m *Message) error {
	switch m.Type {
	case MsgBookAdd, MsgBookModify, MsgBookCancel, MsgTrade, MsgNewOrder, MsgExecReport:
		if !m.Side.Valid() {
			return malformed(p, "%s: invalid side %d", m.Type, m.Side)
		}
	}
	if m.Type.IsMarketData() || m.Type == MsgNewOrder || m.Type == MsgCancelOrder || m.Type == MsgExecReport {
		if m.Symbol == "" {
			return malformed(p, "%s: empty symbol", m.Type)
		}
	}
	if m.Type == MsgExecReport && (m.ExecType < ExecAck || m.ExecType > ExecCancelled) {
		return malformed(p, "%s: invalid exec type %d", m.Type, m.ExecType)
	}
	// Trades and fills feed averages and positions, so a price or size of zero is never valid.
	if m.Type == MsgTrade || m.Type == MsgNewOrder || (m.Type == MsgExecReport && m.ExecType == ExecFill) {
		if m.Price <= 0 {
			return malformed(p, "%s: non-positive price %s", m.Type, m.Price)
		}
		if m.Qty <= 0 {
			return malformed(p, "%s: non-positive qty %s", m.Type, m.Qty)
		}
	}
	return nil
}

type fieldWriter struct {
	b   []byte
	off int
	err error
}

func (w *fieldWriter) u8(v byte) {
	w.b[w.off] = v
	w.off++
}

func (w *fieldWriter) u32(v uint32) {
	binary.BigEndian.PutUint32(w.b[w.off:], v)
	w.off += 4
}

func (w *fieldWriter) u64(v uint64) {
	binary.BigEndian.PutUint64(w.b[w.off:], v)
	w.off += 8
}

func (w *fieldWriter) i64(v int64) {
	w.u64(uint64(v))
}

func (w *fieldWriter) str(field, s string, width int) {
	if len(s) > width && w.err == nil {
		w.err = malformed(ProtocolBinary, "%s: %d bytes exceeds width %d", field, len(s), width)
	}
	copy(w.b[w.off:w.off+width], s)
	w.off += width
}

func (w *fieldWriter) uuid(s string) {
	id, err := uuid.Parse(s)
	if err != nil && w.err == nil {
		w.err = malformedErr(ProtocolBinary, "correlation id", err)
	}
	copy(w.b[w.off:w.off+uuidWidth], id[:])
	w.off += uuidWidth
}

// fieldReader assumes the payload length was validated for the type.
type fieldReader struct {
	b   []byte
	off int
}

func (r *fieldReader) u8() byte {
	v := r.b[r.off]
	r.off++
	return v
}

func (r *fieldReader) u32() uint32 {
	v := binary.BigEndian.Uint32(r.b[r.off:])
	r.off += 4
	return v
}

func (r *fieldReader) u64() uint64 {
	v := binary.BigEndian.Uint64(r.b[r.off:])
	r.off += 8
	return v
}

func (r *fieldReader) i64() int64 {
	return int64(r.u64())
}

func (r *fieldReader) str(width int) string {
	raw := r.b[r.off : r.off+width]
	r.off += width
	n := len(raw)
	for n > 0 && raw[n-1] == 0 {
		n--
	}
	return string(raw[:n])
}

func (r *fieldReader) uuid() string {
	var id uuid.UUID
	copy(id[:], r.b[r.off:r.off+uuidWidth])
	r.off += uuidWidth
	return id.String()
}
