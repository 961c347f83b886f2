package wire

import (
	"hft_go/internal/domain"
	"hft_go/pkg/quant"
)

// MsgType is the protocol-neutral kind of a wire message.
type MsgType uint8

const (
	MsgLogon MsgType = iota + 1
	MsgHeartbeat
	MsgTestRequest
	MsgLogout
	MsgReject
	MsgBookAdd
	MsgBookModify
	MsgBookCancel
	MsgBookClear
	MsgTrade
	MsgNewOrder
	MsgCancelOrder
	MsgExecReport
)

var msgTypeNames = [...]string{
	MsgLogon:       "LOGON",
	MsgHeartbeat:   "HEARTBEAT",
	MsgTestRequest: "TEST_REQUEST",
	MsgLogout:      "LOGOUT",
	MsgReject:      "REJECT",
	MsgBookAdd:     "BOOK_ADD",
	MsgBookModify:  "BOOK_MODIFY",
	MsgBookCancel:  "BOOK_CANCEL",
	MsgBookClear:   "BOOK_CLEAR",
	MsgTrade:       "TRADE",
	MsgNewOrder:    "NEW_ORDER",
	MsgCancelOrder: "CANCEL_ORDER",
	MsgExecReport:  "EXEC_REPORT",
}

func (t MsgType) String() string {
	if int(t) < len(msgTypeNames) && msgTypeNames[t] != "" {
		return msgTypeNames[t]
	}
	return "UNKNOWN"
}

// Valid reports whether t is a known message type.
func (t MsgType) Valid() bool {
	return t >= MsgLogon && t <= MsgExecReport
}

// IsSession reports whether t is handled by the session layer itself.
func (t MsgType) IsSession() bool {
	return t >= MsgLogon && t <= MsgReject
}

// IsMarketData reports whether t mutates a book or feeds the aggregator.
func (t MsgType) IsMarketData() bool {
	return t >= MsgBookAdd && t <= MsgTrade
}

// ExecType is the outcome carried by an execution report.
type ExecType uint8

const (
	ExecAck ExecType = iota + 1
	ExecFill
	ExecReject
	ExecCancelled
)

func (e ExecType) String() string {
	switch e {
	case ExecAck:
		return "ACK"
	case ExecFill:
		return "FILL"
	case ExecReject:
		return "REJECT"
	case ExecCancelled:
		return "CANCELLED"
	default:
		return "UNKNOWN"
	}
}

// Message is the decoded form shared by all wire formats. Only the fields
// relevant to Type are populated.
type Message struct {
	Type MsgType
	Seq  uint64
	Time quant.TimeStamp

	// Market data and orders
	Symbol string
	Side   domain.Side
	Price  quant.PriceMicros
	Qty    quant.QtySats

	// Orders and execution reports
	CorrelationID string
	ExecType      ExecType

	// Session control
	HeartbeatSecs uint32
	APIKey        string
	Signature     string
	TestReqID     string
	RefSeq        uint64
	Text          string

	// Tags the FIX codec did not recognise. Never read by business logic.
	Extra map[string]string
}

// Reset clears m for reuse from a pool.
func (m *Message) Reset() {
	*m = Message{}
}
