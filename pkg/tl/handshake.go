package tl

// Key-exchange constructors. These travel in plaintext frames before an
// auth key exists, so they are the only schema the transport must be able
// to decode without a session.

func init() {
	Register(IDResPQ, func() Object { return &ResPQ{} })
	Register(IDServerDHParamsOK, func() Object { return &ServerDHParamsOK{} })
	Register(IDServerDHParamsFail, func() Object { return &ServerDHParamsFail{} })
	Register(IDServerDHInnerData, func() Object { return &ServerDHInnerData{} })
	Register(IDDHGenOK, func() Object { return &DHGenOK{} })
	Register(IDDHGenRetry, func() Object { return &DHGenRetry{} })
	Register(IDDHGenFail, func() Object { return &DHGenFail{} })
}

// ReqPQMulti opens the handshake with a fresh client nonce.
type ReqPQMulti struct {
	Nonce [16]byte
}

func (*ReqPQMulti) TypeID() uint32      { return IDReqPQMulti }
func (o *ReqPQMulti) Encode(e *Encoder) { e.PutInt128(o.Nonce) }
func (o *ReqPQMulti) Decode(d *Decoder) error {
	o.Nonce = d.Int128()
	return d.Err()
}

// ResPQ is the server's opening answer: its nonce, a composite pq to
// factor, and the fingerprints of RSA keys it will accept.
type ResPQ struct {
	Nonce        [16]byte
	ServerNonce  [16]byte
	PQ           []byte
	Fingerprints []int64
}

func (*ResPQ) TypeID() uint32 { return IDResPQ }

func (o *ResPQ) Encode(e *Encoder) {
	e.PutInt128(o.Nonce)
	e.PutInt128(o.ServerNonce)
	e.PutBytes(o.PQ)
	e.PutVectorLong(o.Fingerprints)
}

func (o *ResPQ) Decode(d *Decoder) error {
	o.Nonce = d.Int128()
	o.ServerNonce = d.Int128()
	o.PQ = d.Bytes()
	o.Fingerprints = d.VectorLong()
	return d.Err()
}

// PQInnerData is the RSA-encrypted proof of work: the factored pq plus the
// client's secret new_nonce.
type PQInnerData struct {
	PQ          []byte
	P           []byte
	Q           []byte
	Nonce       [16]byte
	ServerNonce [16]byte
	NewNonce    [32]byte
}

func (*PQInnerData) TypeID() uint32 { return IDPQInnerData }

func (o *PQInnerData) Encode(e *Encoder) {
	e.PutBytes(o.PQ)
	e.PutBytes(o.P)
	e.PutBytes(o.Q)
	e.PutInt128(o.Nonce)
	e.PutInt128(o.ServerNonce)
	e.PutInt256(o.NewNonce)
}

func (o *PQInnerData) Decode(d *Decoder) error {
	o.PQ = d.Bytes()
	o.P = d.Bytes()
	o.Q = d.Bytes()
	o.Nonce = d.Int128()
	o.ServerNonce = d.Int128()
	o.NewNonce = d.Int256()
	return d.Err()
}

// ReqDHParams submits the factored pq and the RSA-encrypted inner data.
type ReqDHParams struct {
	Nonce         [16]byte
	ServerNonce   [16]byte
	P             []byte
	Q             []byte
	Fingerprint   int64
	EncryptedData []byte
}

func (*ReqDHParams) TypeID() uint32 { return IDReqDHParams }

func (o *ReqDHParams) Encode(e *Encoder) {
	e.PutInt128(o.Nonce)
	e.PutInt128(o.ServerNonce)
	e.PutBytes(o.P)
	e.PutBytes(o.Q)
	e.PutLong(o.Fingerprint)
	e.PutBytes(o.EncryptedData)
}

func (o *ReqDHParams) Decode(d *Decoder) error {
	o.Nonce = d.Int128()
	o.ServerNonce = d.Int128()
	o.P = d.Bytes()
	o.Q = d.Bytes()
	o.Fingerprint = d.Long()
	o.EncryptedData = d.Bytes()
	return d.Err()
}

// ServerDHParamsOK carries the DH group parameters, encrypted under keys
// derived from server_nonce and new_nonce.
type ServerDHParamsOK struct {
	Nonce           [16]byte
	ServerNonce     [16]byte
	EncryptedAnswer []byte
}

func (*ServerDHParamsOK) TypeID() uint32 { return IDServerDHParamsOK }

func (o *ServerDHParamsOK) Encode(e *Encoder) {
	e.PutInt128(o.Nonce)
	e.PutInt128(o.ServerNonce)
	e.PutBytes(o.EncryptedAnswer)
}

func (o *ServerDHParamsOK) Decode(d *Decoder) error {
	o.Nonce = d.Int128()
	o.ServerNonce = d.Int128()
	o.EncryptedAnswer = d.Bytes()
	return d.Err()
}

// ServerDHParamsFail aborts the exchange server-side.
type ServerDHParamsFail struct {
	Nonce        [16]byte
	ServerNonce  [16]byte
	NewNonceHash [16]byte
}

func (*ServerDHParamsFail) TypeID() uint32 { return IDServerDHParamsFail }

func (o *ServerDHParamsFail) Encode(e *Encoder) {
	e.PutInt128(o.Nonce)
	e.PutInt128(o.ServerNonce)
	e.PutInt128(o.NewNonceHash)
}

func (o *ServerDHParamsFail) Decode(d *Decoder) error {
	o.Nonce = d.Int128()
	o.ServerNonce = d.Int128()
	o.NewNonceHash = d.Int128()
	return d.Err()
}

// ServerDHInnerData is the decrypted body of ServerDHParamsOK: the prime,
// generator, and the server's DH contribution.
type ServerDHInnerData struct {
	Nonce       [16]byte
	ServerNonce [16]byte
	G           int32
	DHPrime     []byte
	GA          []byte
	ServerTime  int32
}

func (*ServerDHInnerData) TypeID() uint32 { return IDServerDHInnerData }

func (o *ServerDHInnerData) Encode(e *Encoder) {
	e.PutInt128(o.Nonce)
	e.PutInt128(o.ServerNonce)
	e.PutInt(o.G)
	e.PutBytes(o.DHPrime)
	e.PutBytes(o.GA)
	e.PutInt(o.ServerTime)
}

func (o *ServerDHInnerData) Decode(d *Decoder) error {
	o.Nonce = d.Int128()
	o.ServerNonce = d.Int128()
	o.G = d.Int()
	o.DHPrime = d.Bytes()
	o.GA = d.Bytes()
	o.ServerTime = d.Int()
	return d.Err()
}

// ClientDHInnerData is the client's DH contribution, sent encrypted under
// the same temporary keys as the server's answer.
type ClientDHInnerData struct {
	Nonce       [16]byte
	ServerNonce [16]byte
	RetryID     int64
	GB          []byte
}

func (*ClientDHInnerData) TypeID() uint32 { return IDClientDHInnerData }

func (o *ClientDHInnerData) Encode(e *Encoder) {
	e.PutInt128(o.Nonce)
	e.PutInt128(o.ServerNonce)
	e.PutLong(o.RetryID)
	e.PutBytes(o.GB)
}

func (o *ClientDHInnerData) Decode(d *Decoder) error {
	o.Nonce = d.Int128()
	o.ServerNonce = d.Int128()
	o.RetryID = d.Long()
	o.GB = d.Bytes()
	return d.Err()
}

// SetClientDHParams finishes the exchange with the encrypted client data.
type SetClientDHParams struct {
	Nonce         [16]byte
	ServerNonce   [16]byte
	EncryptedData []byte
}

func (*SetClientDHParams) TypeID() uint32 { return IDSetClientDHParams }

func (o *SetClientDHParams) Encode(e *Encoder) {
	e.PutInt128(o.Nonce)
	e.PutInt128(o.ServerNonce)
	e.PutBytes(o.EncryptedData)
}

func (o *SetClientDHParams) Decode(d *Decoder) error {
	o.Nonce = d.Int128()
	o.ServerNonce = d.Int128()
	o.EncryptedData = d.Bytes()
	return d.Err()
}

// DHGenOK confirms the key: NewNonceHash1 must match the hash the client
// computes from new_nonce and the auth key aux hash.
type DHGenOK struct {
	Nonce         [16]byte
	ServerNonce   [16]byte
	NewNonceHash1 [16]byte
}

func (*DHGenOK) TypeID() uint32 { return IDDHGenOK }

func (o *DHGenOK) Encode(e *Encoder) {
	e.PutInt128(o.Nonce)
	e.PutInt128(o.ServerNonce)
	e.PutInt128(o.NewNonceHash1)
}

func (o *DHGenOK) Decode(d *Decoder) error {
	o.Nonce = d.Int128()
	o.ServerNonce = d.Int128()
	o.NewNonceHash1 = d.Int128()
	return d.Err()
}

// DHGenRetry asks the client to redo the DH step with a new b.
type DHGenRetry struct {
	Nonce         [16]byte
	ServerNonce   [16]byte
	NewNonceHash2 [16]byte
}

func (*DHGenRetry) TypeID() uint32 { return IDDHGenRetry }

func (o *DHGenRetry) Encode(e *Encoder) {
	e.PutInt128(o.Nonce)
	e.PutInt128(o.ServerNonce)
	e.PutInt128(o.NewNonceHash2)
}

func (o *DHGenRetry) Decode(d *Decoder) error {
	o.Nonce = d.Int128()
	o.ServerNonce = d.Int128()
	o.NewNonceHash2 = d.Int128()
	return d.Err()
}

// DHGenFail aborts the exchange after the client's DH step.
type DHGenFail struct {
	Nonce         [16]byte
	ServerNonce   [16]byte
	NewNonceHash3 [16]byte
}

func (*DHGenFail) TypeID() uint32 { return IDDHGenFail }

func (o *DHGenFail) Encode(e *Encoder) {
	e.PutInt128(o.Nonce)
	e.PutInt128(o.ServerNonce)
	e.PutInt128(o.NewNonceHash3)
}

func (o *DHGenFail) Decode(d *Decoder) error {
	o.Nonce = d.Int128()
	o.ServerNonce = d.Int128()
	o.NewNonceHash3 = d.Int128()
	return d.Err()
}
