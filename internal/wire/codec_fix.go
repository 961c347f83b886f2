package wire

import (
	"bytes"
	"fmt"
	"slices"
	"strconv"
	"time"

	"hft_go/internal/domain"
	"hft_go/pkg/quant"
)

// FIX tag numbers used by the codec.
const (
	tagBeginString  = 8
	tagBodyLength   = 9
	tagCheckSum     = 10
	tagClOrdID      = 11
	tagLastPx       = 31
	tagLastQty      = 32
	tagMsgSeqNum    = 34
	tagMsgType      = 35
	tagOrderQty     = 38
	tagOrdType      = 40
	tagOrigClOrdID  = 41
	tagPrice        = 44
	tagRefSeqNum    = 45
	tagSide         = 54
	tagSymbol       = 55
	tagSendingTime  = 52
	tagText         = 58
	tagHeartBtInt   = 108
	tagTestReqID    = 112
	tagExecType     = 150
	tagUsername     = 553
	tagPassword     = 554
	tagNoMDEntries  = 268
	tagMDEntryType  = 269
	tagMDEntryPx    = 270
	tagMDEntrySize  = 271
	tagMDUpdateAct  = 279
	fixTimeLayout   = "20060102-15:04:05.000000"
	fixTrailerBytes = 7 // "10=" + 3 digits + delimiter
)

var fixKnownTags = map[MsgType][]int{
	MsgLogon:       {tagHeartBtInt, tagUsername, tagPassword},
	MsgHeartbeat:   {tagTestReqID},
	MsgTestRequest: {tagTestReqID},
	MsgLogout:      {tagText},
	MsgReject:      {tagRefSeqNum, tagText},
	MsgBookAdd:     {tagMDUpdateAct, tagMDEntryType, tagSymbol, tagMDEntryPx, tagMDEntrySize},
	MsgBookModify:  {tagMDUpdateAct, tagMDEntryType, tagSymbol, tagMDEntryPx, tagMDEntrySize},
	MsgBookCancel:  {tagMDUpdateAct, tagMDEntryType, tagSymbol, tagMDEntryPx, tagMDEntrySize},
	MsgTrade:       {tagMDUpdateAct, tagMDEntryType, tagSymbol, tagSide, tagMDEntryPx, tagMDEntrySize},
	MsgBookClear:   {tagSymbol, tagNoMDEntries},
	MsgNewOrder:    {tagClOrdID, tagSymbol, tagSide, tagPrice, tagOrderQty, tagOrdType},
	MsgCancelOrder: {tagOrigClOrdID, tagSymbol},
	MsgExecReport:  {tagClOrdID, tagSymbol, tagSide, tagExecType, tagLastPx, tagLastQty, tagText},
}

var execTypeCodes = map[ExecType]string{
	ExecAck:       "0",
	ExecFill:      "F",
	ExecReject:    "8",
	ExecCancelled: "4",
}

type fixCodec struct {
	delim      byte
	begin      string
	maxPayload int
}

func (c *fixCodec) Protocol() Protocol { return ProtocolFIX }

func (c *fixCodec) Encode(m *Message) ([]byte, error) {
	b := fixBuilder{delim: c.delim}
	b.add(tagMsgType, fixMsgCode(m.Type))
	b.add(tagMsgSeqNum, strconv.FormatUint(m.Seq, 10))
	b.add(tagSendingTime, m.Time.Time().UTC().Format(fixTimeLayout))

	switch m.Type {
	case MsgLogon:
		b.add(tagHeartBtInt, strconv.FormatUint(uint64(m.HeartbeatSecs), 10))
		b.add(tagUsername, m.APIKey)
		b.add(tagPassword, m.Signature)
	case MsgHeartbeat:
		b.addOpt(tagTestReqID, m.TestReqID)
	case MsgTestRequest:
		b.add(tagTestReqID, m.TestReqID)
	case MsgLogout:
		b.addOpt(tagText, m.Text)
	case MsgReject:
		b.add(tagRefSeqNum, strconv.FormatUint(m.RefSeq, 10))
		b.addOpt(tagText, m.Text)
	case MsgBookAdd, MsgBookModify, MsgBookCancel:
		b.add(tagMDUpdateAct, mdUpdateAction(m.Type))
		b.add(tagMDEntryType, mdEntryType(m.Side))
		b.add(tagSymbol, m.Symbol)
		b.add(tagMDEntryPx, m.Price.String())
		b.add(tagMDEntrySize, m.Qty.String())
	case MsgTrade:
		b.add(tagMDUpdateAct, "0")
		b.add(tagMDEntryType, "2")
		b.add(tagSymbol, m.Symbol)
		b.add(tagSide, fixSide(m.Side))
		b.add(tagMDEntryPx, m.Price.String())
		b.add(tagMDEntrySize, m.Qty.String())
	case MsgBookClear:
		b.add(tagSymbol, m.Symbol)
		b.add(tagNoMDEntries, "0")
	case MsgNewOrder:
		b.add(tagClOrdID, m.CorrelationID)
		b.add(tagSymbol, m.Symbol)
		b.add(tagSide, fixSide(m.Side))
		b.add(tagPrice, m.Price.String())
		b.add(tagOrderQty, m.Qty.String())
		b.add(tagOrdType, "2")
	case MsgCancelOrder:
		b.add(tagOrigClOrdID, m.CorrelationID)
		b.add(tagSymbol, m.Symbol)
	case MsgExecReport:
		b.add(tagClOrdID, m.CorrelationID)
		b.add(tagSymbol, m.Symbol)
		b.add(tagSide, fixSide(m.Side))
		b.add(tagExecType, execTypeCodes[m.ExecType])
		b.add(tagLastPx, m.Price.String())
		b.add(tagLastQty, m.Qty.String())
		b.addOpt(tagText, m.Text)
	default:
		return nil, malformed(ProtocolFIX, "unknown message type %d", m.Type)
	}

	if len(m.Extra) > 0 {
		keys := make([]string, 0, len(m.Extra))
		for k := range m.Extra {
			keys = append(keys, k)
		}
		slices.Sort(keys)
		for _, k := range keys {
			tag, err := strconv.Atoi(k)
			if err != nil || tag <= 0 {
				return nil, malformed(ProtocolFIX, "extra tag %q is not numeric", k)
			}
			b.add(tag, m.Extra[k])
		}
	}
	if b.err != nil {
		return nil, b.err
	}

	body := b.buf.Bytes()
	out := make([]byte, 0, len(body)+32)
	out = fmt.Appendf(out, "%d=%s%c%d=%d%c", tagBeginString, c.begin, c.delim, tagBodyLength, len(body), c.delim)
	out = append(out, body...)
	out = fmt.Appendf(out, "%d=%03d%c", tagCheckSum, fixChecksum(out), c.delim)
	return out, nil
}

func (c *fixCodec) Decode(frame []byte) (*Message, error) {
	bodyStart, bodyLen, err := c.header(frame)
	if err != nil {
		return nil, err
	}
	bodyEnd := bodyStart + bodyLen
	if len(frame) < bodyEnd+fixTrailerBytes {
		return nil, incomplete(ProtocolFIX, "have %d of %d bytes", len(frame), bodyEnd+fixTrailerBytes)
	}
	if len(frame) > bodyEnd+fixTrailerBytes {
		return nil, malformed(ProtocolFIX, "%d trailing bytes", len(frame)-bodyEnd-fixTrailerBytes)
	}
	trailer := frame[bodyEnd:]
	if !bytes.HasPrefix(trailer, []byte("10=")) || trailer[fixTrailerBytes-1] != c.delim {
		return nil, malformed(ProtocolFIX, "missing checksum trailer")
	}
	want, err := strconv.Atoi(string(trailer[3:6]))
	if err != nil {
		return nil, malformedErr(ProtocolFIX, "checksum", err)
	}
	if got := fixChecksum(frame[:bodyEnd]); got != want {
		return nil, malformed(ProtocolFIX, "checksum %03d != %03d", got, want)
	}
	if bodyLen == 0 || frame[bodyEnd-1] != c.delim {
		return nil, malformed(ProtocolFIX, "body not delimiter terminated")
	}

	fields, err := c.fields(frame[bodyStart:bodyEnd])
	if err != nil {
		return nil, err
	}
	return decodeFIXFields(fields)
}

// header validates tags 8 and 9 and returns where the body starts and its length.
func (c *fixCodec) header(frame []byte) (int, int, error) {
	const begin = "8="
	if len(frame) < len(begin) {
		return 0, 0, incomplete(ProtocolFIX, "empty frame")
	}
	if !bytes.HasPrefix(frame, []byte(begin)) {
		return 0, 0, malformed(ProtocolFIX, "frame does not start with tag 8")
	}
	first := bytes.IndexByte(frame, c.delim)
	if first < 0 {
		return 0, 0, incomplete(ProtocolFIX, "begin string")
	}
	rest := frame[first+1:]
	if len(rest) < 2 {
		return 0, 0, incomplete(ProtocolFIX, "body length")
	}
	if !bytes.HasPrefix(rest, []byte("9=")) {
		return 0, 0, malformed(ProtocolFIX, "second tag is not 9")
	}
	second := bytes.IndexByte(rest, c.delim)
	if second < 0 {
		if len(rest) > 12 {
			return 0, 0, malformed(ProtocolFIX, "body length too long")
		}
		return 0, 0, incomplete(ProtocolFIX, "body length")
	}
	n, err := strconv.Atoi(string(rest[2:second]))
	if err != nil || n < 0 {
		return 0, 0, malformed(ProtocolFIX, "body length %q", rest[2:second])
	}
	if n > c.maxPayload {
		return 0, 0, malformed(ProtocolFIX, "body length %d exceeds %d", n, c.maxPayload)
	}
	return first + 1 + second + 1, n, nil
}

func (c *fixCodec) fields(body []byte) (map[int]string, error) {
	fields := make(map[int]string, 12)
	for len(body) > 0 {
		end := bytes.IndexByte(body, c.delim)
		field := body[:end]
		body = body[end+1:]

		eq := bytes.IndexByte(field, '=')
		if eq <= 0 {
			return nil, malformed(ProtocolFIX, "field %q has no tag", field)
		}
		tag, err := strconv.Atoi(string(field[:eq]))
		if err != nil || tag <= 0 {
			return nil, malformed(ProtocolFIX, "tag %q is not numeric", field[:eq])
		}
		fields[tag] = string(field[eq+1:])
	}
	return fields, nil
}

func decodeFIXFields(fields map[int]string) (*Message, error) {
	r := fixReader{fields: fields}
	m := &Message{}

	code := r.req(tagMsgType)
	m.Seq = r.unsigned(tagMsgSeqNum)
	if ts, ok := fields[tagSendingTime]; ok {
		t, err := time.Parse(fixTimeLayout, ts)
		if err != nil {
			r.fail(malformedErr(ProtocolFIX, "sending time", err))
		}
		m.Time = quant.FromTime(t)
	}
	if r.err != nil {
		return nil, r.err
	}

	switch code {
	case "A":
		m.Type = MsgLogon
		m.HeartbeatSecs = uint32(r.uintBits(tagHeartBtInt, 32))
		m.APIKey = r.req(tagUsername)
		m.Signature = r.req(tagPassword)
	case "0":
		m.Type = MsgHeartbeat
		m.TestReqID = fields[tagTestReqID]
	case "1":
		m.Type = MsgTestRequest
		m.TestReqID = r.req(tagTestReqID)
	case "5":
		m.Type = MsgLogout
		m.Text = fields[tagText]
	case "3":
		m.Type = MsgReject
		m.RefSeq = r.unsigned(tagRefSeqNum)
		m.Text = fields[tagText]
	case "X":
		m.Symbol = r.req(tagSymbol)
		m.Price = r.price(tagMDEntryPx)
		m.Qty = r.qty(tagMDEntrySize)
		switch entry := r.req(tagMDEntryType); entry {
		case "0":
			m.Side = domain.SideBid
		case "1":
			m.Side = domain.SideAsk
		case "2":
			m.Type = MsgTrade
			m.Side = r.side(tagSide)
		default:
			r.fail(malformed(ProtocolFIX, "entry type %q", entry))
		}
		if m.Type != MsgTrade {
			switch action := r.req(tagMDUpdateAct); action {
			case "0":
				m.Type = MsgBookAdd
			case "1":
				m.Type = MsgBookModify
			case "2":
				m.Type = MsgBookCancel
			default:
				r.fail(malformed(ProtocolFIX, "update action %q", action))
			}
		}
	case "W":
		m.Type = MsgBookClear
		m.Symbol = r.req(tagSymbol)
	case "D":
		m.Type = MsgNewOrder
		m.CorrelationID = r.req(tagClOrdID)
		m.Symbol = r.req(tagSymbol)
		m.Side = r.side(tagSide)
		m.Price = r.price(tagPrice)
		m.Qty = r.qty(tagOrderQty)
	case "F":
		m.Type = MsgCancelOrder
		m.CorrelationID = r.req(tagOrigClOrdID)
		m.Symbol = r.req(tagSymbol)
	case "8":
		m.Type = MsgExecReport
		m.CorrelationID = r.req(tagClOrdID)
		m.Symbol = r.req(tagSymbol)
		m.Side = r.side(tagSide)
		m.ExecType = r.execType(tagExecType)
		m.Price = r.price(tagLastPx)
		m.Qty = r.qty(tagLastQty)
		m.Text = fields[tagText]
	default:
		return nil, withSeq(malformed(ProtocolFIX, "unknown msg type %q", code), m.Seq)
	}
	if r.err != nil {
		return nil, withSeq(r.err, m.Seq)
	}
	if err := validateDecoded(ProtocolFIX, m); err != nil {
		return nil, withSeq(err, m.Seq)
	}

	known := fixKnownTags[m.Type]
	for tag, v := range fields {
		if tag == tagMsgType || tag == tagMsgSeqNum || tag == tagSendingTime || slices.Contains(known, tag) {
			continue
		}
		if m.Extra == nil {
			m.Extra = make(map[string]string)
		}
		m.Extra[strconv.Itoa(tag)] = v
	}
	return m, nil
}

func fixMsgCode(t MsgType) string {
	switch t {
	case MsgLogon:
		return "A"
	case MsgHeartbeat:
		return "0"
	case MsgTestRequest:
		return "1"
	case MsgLogout:
		return "5"
	case MsgReject:
		return "3"
	case MsgBookAdd, MsgBookModify, MsgBookCancel, MsgTrade:
		return "X"
	case MsgBookClear:
		return "W"
	case MsgNewOrder:
		return "D"
	case MsgCancelOrder:
		return "F"
	case MsgExecReport:
		return "8"
	}
	return ""
}

func mdUpdateAction(t MsgType) string {
	switch t {
	case MsgBookModify:
		return "1"
	case MsgBookCancel:
		return "2"
	}
	return "0"
}

func mdEntryType(s domain.Side) string {
	if s == domain.SideAsk {
		return "1"
	}
	return "0"
}

func fixSide(s domain.Side) string {
	if s == domain.SideSell {
		return "2"
	}
	return "1"
}

// fixChecksum is the byte sum modulo 256.
func fixChecksum(b []byte) int {
	var sum int
	for _, c := range b {
		sum += int(c)
	}
	return sum % 256
}

type fixBuilder struct {
	buf   bytes.Buffer
	delim byte
	err   error
}

func (b *fixBuilder) add(tag int, v string) {
	if b.err != nil {
		return
	}
	if bytes.IndexByte([]byte(v), b.delim) >= 0 {
		b.err = malformed(ProtocolFIX, "tag %d value contains delimiter", tag)
		return
	}
	b.buf.WriteString(strconv.Itoa(tag))
	b.buf.WriteByte('=')
	b.buf.WriteString(v)
	b.buf.WriteByte(b.delim)
}

func (b *fixBuilder) addOpt(tag int, v string) {
	if v != "" {
		b.add(tag, v)
	}
}

// fixReader extracts typed tags, keeping the first error.
type fixReader struct {
	fields map[int]string
	err    error
}

func (r *fixReader) fail(err error) {
	if r.err == nil {
		r.err = err
	}
}

func (r *fixReader) req(tag int) string {
	v, ok := r.fields[tag]
	if !ok {
		r.fail(malformed(ProtocolFIX, "missing required tag %d", tag))
	}
	return v
}

func (r *fixReader) unsigned(tag int) uint64 {
	return r.uintBits(tag, 64)
}

func (r *fixReader) uintBits(tag, bits int) uint64 {
	v := r.req(tag)
	if r.err != nil {
		return 0
	}
	n, err := strconv.ParseUint(v, 10, bits)
	if err != nil {
		r.fail(malformedErr(ProtocolFIX, fmt.Sprintf("tag %d", tag), err))
	}
	return n
}

func (r *fixReader) price(tag int) quant.PriceMicros {
	v := r.req(tag)
	if r.err != nil {
		return 0
	}
	p, err := quant.ParsePriceMicros(v)
	if err != nil {
		r.fail(malformedErr(ProtocolFIX, fmt.Sprintf("tag %d", tag), err))
	}
	return p
}

func (r *fixReader) qty(tag int) quant.QtySats {
	v := r.req(tag)
	if r.err != nil {
		return 0
	}
	q, err := quant.ParseQtySats(v)
	if err != nil {
		r.fail(malformedErr(ProtocolFIX, fmt.Sprintf("tag %d", tag), err))
	}
	return q
}

func (r *fixReader) side(tag int) domain.Side {
	v := r.req(tag)
	if r.err != nil {
		return 0
	}
	switch v {
	case "1":
		return domain.SideBuy
	case "2":
		return domain.SideSell
	}
	r.fail(malformed(ProtocolFIX, "side %q", v))
	return 0
}

func (r *fixReader) execType(tag int) ExecType {
	v := r.req(tag)
	if r.err != nil {
		return 0
	}
	for et, code := range execTypeCodes {
		if code == v {
			return et
		}
	}
	r.fail(malformed(ProtocolFIX, "exec type %q", v))
	return 0
}
