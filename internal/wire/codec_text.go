package wire

import (
	"bytes"
	"strconv"
	"strings"

	"hft_go/internal/domain"
	"hft_go/pkg/quant"
)

// Text lines are "KIND,seq,time_micros,field...\n".
var textKinds = map[MsgType]string{
	MsgLogon:       "LOGON",
	MsgHeartbeat:   "HEARTBEAT",
	MsgTestRequest: "TEST",
	MsgLogout:      "LOGOUT",
	MsgReject:      "REJECT",
	MsgBookAdd:     "ADD",
	MsgBookModify:  "MODIFY",
	MsgBookCancel:  "CANCEL",
	MsgBookClear:   "CLEAR",
	MsgTrade:       "TRADE",
	MsgNewOrder:    "NEW",
	MsgCancelOrder: "CXL",
	MsgExecReport:  "EXEC",
}

var textTypes = func() map[string]MsgType {
	m := make(map[string]MsgType, len(textKinds))
	for t, k := range textKinds {
		m[k] = t
	}
	return m
}()

// textFieldCount includes kind, seq and time.
var textFieldCount = map[MsgType]int{
	MsgLogon:       6,
	MsgHeartbeat:   4,
	MsgTestRequest: 4,
	MsgLogout:      4,
	MsgReject:      5,
	MsgBookAdd:     7,
	MsgBookModify:  7,
	MsgBookCancel:  7,
	MsgBookClear:   4,
	MsgTrade:       7,
	MsgNewOrder:    8,
	MsgCancelOrder: 5,
	MsgExecReport:  10,
}

type textCodec struct {
	maxLine int
}

func (c *textCodec) Protocol() Protocol { return ProtocolText }

func (c *textCodec) Encode(m *Message) ([]byte, error) {
	kind, ok := textKinds[m.Type]
	if !ok {
		return nil, malformed(ProtocolText, "unknown message type %d", m.Type)
	}
	f := []string{kind, strconv.FormatUint(m.Seq, 10), strconv.FormatInt(int64(m.Time), 10)}
	switch m.Type {
	case MsgLogon:
		f = append(f, strconv.FormatUint(uint64(m.HeartbeatSecs), 10), m.APIKey, m.Signature)
	case MsgHeartbeat, MsgTestRequest:
		f = append(f, m.TestReqID)
	case MsgLogout:
		f = append(f, m.Text)
	case MsgReject:
		f = append(f, strconv.FormatUint(m.RefSeq, 10), m.Text)
	case MsgBookAdd, MsgBookModify, MsgBookCancel, MsgTrade:
		f = append(f, m.Symbol, textSide(m.Side), m.Price.String(), m.Qty.String())
	case MsgBookClear:
		f = append(f, m.Symbol)
	case MsgNewOrder:
		f = append(f, m.CorrelationID, m.Symbol, textSide(m.Side), m.Price.String(), m.Qty.String())
	case MsgCancelOrder:
		f = append(f, m.CorrelationID, m.Symbol)
	case MsgExecReport:
		f = append(f, m.CorrelationID, m.Symbol, textSide(m.Side), m.ExecType.String(), m.Price.String(), m.Qty.String(), m.Text)
	}
	for _, v := range f[3:] {
		if strings.ContainsAny(v, ",\r\n") {
			return nil, malformed(ProtocolText, "%s: field %q contains a separator", kind, v)
		}
	}
	line := strings.Join(f, ",") + "\n"
	return []byte(line), nil
}

func (c *textCodec) Decode(frame []byte) (*Message, error) {
	nl := bytes.IndexByte(frame, '\n')
	if nl < 0 {
		if len(frame) > c.maxLine {
			return nil, malformed(ProtocolText, "line exceeds %d bytes", c.maxLine)
		}
		return nil, incomplete(ProtocolText, "no line terminator")
	}
	if nl != len(frame)-1 {
		return nil, malformed(ProtocolText, "%d bytes after line terminator", len(frame)-nl-1)
	}
	line := strings.TrimSuffix(string(frame[:nl]), "\r")
	f := strings.Split(line, ",")

	t, ok := textTypes[f[0]]
	if !ok {
		return nil, malformed(ProtocolText, "unknown kind %q", f[0])
	}
	if len(f) != textFieldCount[t] {
		return nil, malformed(ProtocolText, "%s: %d fields, want %d", f[0], len(f), textFieldCount[t])
	}

	p := textParser{}
	m := &Message{Type: t}
	m.Seq = p.unsigned("seq", f[1], 64)
	if p.err != nil {
		return nil, p.err
	}
	m.Time = quant.TimeStamp(p.signed("time", f[2]))
	switch t {
	case MsgLogon:
		m.HeartbeatSecs = uint32(p.unsigned("heartbeat", f[3], 32))
		m.APIKey, m.Signature = f[4], f[5]
	case MsgHeartbeat, MsgTestRequest:
		m.TestReqID = f[3]
	case MsgLogout:
		m.Text = f[3]
	case MsgReject:
		m.RefSeq = p.unsigned("ref_seq", f[3], 64)
		m.Text = f[4]
	case MsgBookAdd, MsgBookModify, MsgBookCancel, MsgTrade:
		m.Symbol = f[3]
		m.Side = p.side(f[4])
		m.Price = p.price(f[5])
		m.Qty = p.qty(f[6])
	case MsgBookClear:
		m.Symbol = f[3]
	case MsgNewOrder:
		m.CorrelationID, m.Symbol = f[3], f[4]
		m.Side = p.side(f[5])
		m.Price = p.price(f[6])
		m.Qty = p.qty(f[7])
	case MsgCancelOrder:
		m.CorrelationID, m.Symbol = f[3], f[4]
	case MsgExecReport:
		m.CorrelationID, m.Symbol = f[3], f[4]
		m.Side = p.side(f[5])
		m.ExecType = p.execType(f[6])
		m.Price = p.price(f[7])
		m.Qty = p.qty(f[8])
		m.Text = f[9]
	}
	if p.err != nil {
		return nil, withSeq(p.err, m.Seq)
	}
	if err := validateDecoded(ProtocolText, m); err != nil {
		return nil, withSeq(err, m.Seq)
	}
	return m, nil
}

func textSide(s domain.Side) string {
	if s == domain.SideSell {
		return "S"
	}
	return "B"
}

type textParser struct {
	err error
}

func (p *textParser) fail(err error) {
	if p.err == nil {
		p.err = err
	}
}

func (p *textParser) unsigned(field, v string, bits int) uint64 {
	n, err := strconv.ParseUint(v, 10, bits)
	if err != nil {
		p.fail(malformedErr(ProtocolText, field, err))
	}
	return n
}

func (p *textParser) signed(field, v string) int64 {
	n, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		p.fail(malformedErr(ProtocolText, field, err))
	}
	return n
}

func (p *textParser) price(v string) quant.PriceMicros {
	px, err := quant.ParsePriceMicros(v)
	if err != nil {
		p.fail(malformedErr(ProtocolText, "price", err))
	}
	return px
}

func (p *textParser) qty(v string) quant.QtySats {
	q, err := quant.ParseQtySats(v)
	if err != nil {
		p.fail(malformedErr(ProtocolText, "qty", err))
	}
	return q
}

func (p *textParser) side(v string) domain.Side {
	s, ok := domain.ParseSide(v)
	if !ok {
		p.fail(malformed(ProtocolText, "side %q", v))
	}
	return s
}

func (p *textParser) execType(v string) ExecType {
	for et := ExecAck; et <= ExecCancelled; et++ {
		if et.String() == v {
			return et
		}
	}
	p.fail(malformed(ProtocolText, "exec type %q", v))
	return 0
}
