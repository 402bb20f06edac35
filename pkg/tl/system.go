package tl

import "fmt"

// Constructor ids for the MTProto service schema. These are protocol
// constants; they never change across schema layers.
const (
	IDResPQ              = 0x05162463
	IDReqPQMulti         = 0xbe7e8ef1
	IDPQInnerData        = 0x83c95aec
	IDReqDHParams        = 0xd712e4be
	IDServerDHParamsOK   = 0xd0e8075c
	IDServerDHParamsFail = 0x79cb045d
	IDServerDHInnerData  = 0xb5890dba
	IDClientDHInnerData  = 0x6643b654
	IDSetClientDHParams  = 0xf5045f1f
	IDDHGenOK            = 0x3bcbf734
	IDDHGenRetry         = 0x46dc1fb9
	IDDHGenFail          = 0xa69dae02

	IDMsgContainer      = 0x73f1f8dc
	IDRPCResult         = 0xf35c6d01
	IDRPCError          = 0x2144ca19
	IDPing              = 0x7abe77ec
	IDPingDelayDisc     = 0xf3427b8c
	IDPong              = 0x347773c5
	IDMsgsAck           = 0x62d6b459
	IDBadMsgNotify      = 0xa7eff811
	IDBadServerSalt     = 0xedab447b
	IDNewSessionCreated = 0x9ec20908
	IDGzipPacked        = 0x3072cfa1
	IDFutureSalt        = 0x0949d9dc
	IDFutureSalts       = 0xae500895
	IDGetFutureSalts    = 0xb921bd04
	IDMsgsStateReq      = 0xda69fb52
	IDMsgsStateInfo     = 0x04deb57d
	IDDestroySession    = 0xe7512126
	IDDestroySessionOK  = 0xe22045fc
)

func init() {
	Register(IDRPCError, func() Object { return &RPCError{} })
	Register(IDPong, func() Object { return &Pong{} })
	Register(IDMsgsAck, func() Object { return &MsgsAck{} })
	Register(IDBadMsgNotify, func() Object { return &BadMsgNotification{} })
	Register(IDBadServerSalt, func() Object { return &BadServerSalt{} })
	Register(IDNewSessionCreated, func() Object { return &NewSessionCreated{} })
	Register(IDFutureSalt, func() Object { return &FutureSalt{} })
	Register(IDFutureSalts, func() Object { return &FutureSalts{} })
	Register(IDMsgsStateInfo, func() Object { return &MsgsStateInfo{} })
	Register(IDDestroySessionOK, func() Object { return &DestroySessionOK{} })
}

// RPCError is the explicit failure answer to a call: a numeric code plus a
// machine-readable description such as FLOOD_WAIT_17 or PHONE_MIGRATE_5.
type RPCError struct {
	Code    int32
	Message string
}

func (*RPCError) TypeID() uint32 { return IDRPCError }

// Error makes RPCError usable directly as a Go error; it is surfaced
// verbatim to callers unless the retry layer recognizes the code.
func (o *RPCError) Error() string {
	return fmt.Sprintf("rpc error %d: %s", o.Code, o.Message)
}

func (o *RPCError) Encode(e *Encoder) {
	e.PutInt(o.Code)
	e.PutString(o.Message)
}

func (o *RPCError) Decode(d *Decoder) error {
	o.Code = d.Int()
	o.Message = d.String()
	return d.Err()
}

// Ping is the client keepalive probe.
type Ping struct {
	PingID int64
}

func (*Ping) TypeID() uint32      { return IDPing }
func (o *Ping) Encode(e *Encoder) { e.PutLong(o.PingID) }
func (o *Ping) Decode(d *Decoder) error {
	o.PingID = d.Long()
	return d.Err()
}

// PingDelayDisconnect asks the server to drop the connection unless
// another ping arrives within DisconnectDelay seconds.
type PingDelayDisconnect struct {
	PingID          int64
	DisconnectDelay int32
}

func (*PingDelayDisconnect) TypeID() uint32 { return IDPingDelayDisc }

func (o *PingDelayDisconnect) Encode(e *Encoder) {
	e.PutLong(o.PingID)
	e.PutInt(o.DisconnectDelay)
}

func (o *PingDelayDisconnect) Decode(d *Decoder) error {
	o.PingID = d.Long()
	o.DisconnectDelay = d.Int()
	return d.Err()
}

// Pong answers a ping, echoing its id.
type Pong struct {
	MsgID  int64
	PingID int64
}

func (*Pong) TypeID() uint32 { return IDPong }

func (o *Pong) Encode(e *Encoder) {
	e.PutLong(o.MsgID)
	e.PutLong(o.PingID)
}

func (o *Pong) Decode(d *Decoder) error {
	o.MsgID = d.Long()
	o.PingID = d.Long()
	return d.Err()
}

// MsgsAck confirms receipt of the listed message ids. Acks are transport
// bookkeeping only; they never resolve a pending call.
type MsgsAck struct {
	MsgIDs []int64
}

func (*MsgsAck) TypeID() uint32      { return IDMsgsAck }
func (o *MsgsAck) Encode(e *Encoder) { e.PutVectorLong(o.MsgIDs) }
func (o *MsgsAck) Decode(d *Decoder) error {
	o.MsgIDs = d.VectorLong()
	return d.Err()
}

// BadMsgNotification reports a malformed or out-of-window message.
type BadMsgNotification struct {
	BadMsgID    int64
	BadMsgSeqNo int32
	ErrorCode   int32
}

func (*BadMsgNotification) TypeID() uint32 { return IDBadMsgNotify }

func (o *BadMsgNotification) Encode(e *Encoder) {
	e.PutLong(o.BadMsgID)
	e.PutInt(o.BadMsgSeqNo)
	e.PutInt(o.ErrorCode)
}

func (o *BadMsgNotification) Decode(d *Decoder) error {
	o.BadMsgID = d.Long()
	o.BadMsgSeqNo = d.Int()
	o.ErrorCode = d.Int()
	return d.Err()
}

// BadServerSalt carries the replacement salt for a message rejected with
// an outdated one. The rejected message is resent under the new salt.
type BadServerSalt struct {
	BadMsgID      int64
	BadMsgSeqNo   int32
	ErrorCode     int32
	NewServerSalt int64
}

func (*BadServerSalt) TypeID() uint32 { return IDBadServerSalt }

func (o *BadServerSalt) Encode(e *Encoder) {
	e.PutLong(o.BadMsgID)
	e.PutInt(o.BadMsgSeqNo)
	e.PutInt(o.ErrorCode)
	e.PutLong(o.NewServerSalt)
}

func (o *BadServerSalt) Decode(d *Decoder) error {
	o.BadMsgID = d.Long()
	o.BadMsgSeqNo = d.Int()
	o.ErrorCode = d.Int()
	o.NewServerSalt = d.Long()
	return d.Err()
}

// NewSessionCreated announces a fresh server-side session and its salt.
type NewSessionCreated struct {
	FirstMsgID int64
	UniqueID   int64
	ServerSalt int64
}

func (*NewSessionCreated) TypeID() uint32 { return IDNewSessionCreated }

func (o *NewSessionCreated) Encode(e *Encoder) {
	e.PutLong(o.FirstMsgID)
	e.PutLong(o.UniqueID)
	e.PutLong(o.ServerSalt)
}

func (o *NewSessionCreated) Decode(d *Decoder) error {
	o.FirstMsgID = d.Long()
	o.UniqueID = d.Long()
	o.ServerSalt = d.Long()
	return d.Err()
}

// FutureSalt is one upcoming server salt with its validity window.
type FutureSalt struct {
	ValidSince int32
	ValidUntil int32
	Salt       int64
}

func (*FutureSalt) TypeID() uint32 { return IDFutureSalt }

func (o *FutureSalt) Encode(e *Encoder) {
	e.PutInt(o.ValidSince)
	e.PutInt(o.ValidUntil)
	e.PutLong(o.Salt)
}

func (o *FutureSalt) Decode(d *Decoder) error {
	o.ValidSince = d.Int()
	o.ValidUntil = d.Int()
	o.Salt = d.Long()
	return d.Err()
}

// FutureSalts answers get_future_salts with a plain array (no vector tag).
type FutureSalts struct {
	ReqMsgID int64
	Now      int32
	Salts    []FutureSalt
}

func (*FutureSalts) TypeID() uint32 { return IDFutureSalts }

func (o *FutureSalts) Encode(e *Encoder) {
	e.PutLong(o.ReqMsgID)
	e.PutInt(o.Now)
	e.PutInt(int32(len(o.Salts)))
	for i := range o.Salts {
		o.Salts[i].Encode(e)
	}
}

func (o *FutureSalts) Decode(d *Decoder) error {
	o.ReqMsgID = d.Long()
	o.Now = d.Int()
	n := int(d.Int())
	if n < 0 || n > d.Remaining()/16 {
		return &SchemaError{Constructor: IDFutureSalts, Reason: "salt count out of range"}
	}
	o.Salts = make([]FutureSalt, n)
	for i := range o.Salts {
		if err := o.Salts[i].Decode(d); err != nil {
			return err
		}
	}
	return d.Err()
}

// GetFutureSalts requests Num upcoming salts.
type GetFutureSalts struct {
	Num int32
}

func (*GetFutureSalts) TypeID() uint32      { return IDGetFutureSalts }
func (o *GetFutureSalts) Encode(e *Encoder) { e.PutInt(o.Num) }
func (o *GetFutureSalts) Decode(d *Decoder) error {
	o.Num = d.Int()
	return d.Err()
}

// MsgsStateReq asks the server for the status of the listed messages.
type MsgsStateReq struct {
	MsgIDs []int64
}

func (*MsgsStateReq) TypeID() uint32      { return IDMsgsStateReq }
func (o *MsgsStateReq) Encode(e *Encoder) { e.PutVectorLong(o.MsgIDs) }
func (o *MsgsStateReq) Decode(d *Decoder) error {
	o.MsgIDs = d.VectorLong()
	return d.Err()
}

// MsgsStateInfo answers MsgsStateReq with one status byte per message.
type MsgsStateInfo struct {
	ReqMsgID int64
	Info     []byte
}

func (*MsgsStateInfo) TypeID() uint32 { return IDMsgsStateInfo }

func (o *MsgsStateInfo) Encode(e *Encoder) {
	e.PutLong(o.ReqMsgID)
	e.PutBytes(o.Info)
}

func (o *MsgsStateInfo) Decode(d *Decoder) error {
	o.ReqMsgID = d.Long()
	o.Info = d.Bytes()
	return d.Err()
}

// DestroySession asks the server to forget a session id.
type DestroySession struct {
	SessionID int64
}

func (*DestroySession) TypeID() uint32      { return IDDestroySession }
func (o *DestroySession) Encode(e *Encoder) { e.PutLong(o.SessionID) }
func (o *DestroySession) Decode(d *Decoder) error {
	o.SessionID = d.Long()
	return d.Err()
}

// DestroySessionOK confirms session destruction.
type DestroySessionOK struct {
	SessionID int64
}

func (*DestroySessionOK) TypeID() uint32      { return IDDestroySessionOK }
func (o *DestroySessionOK) Encode(e *Encoder) { e.PutLong(o.SessionID) }
func (o *DestroySessionOK) Decode(d *Decoder) error {
	o.SessionID = d.Long()
	return d.Err()
}
