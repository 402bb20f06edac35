package tl

// Layer is the API schema layer announced via invokeWithLayer.
const Layer = 181

// Constructor ids for the slice of the API schema this package speaks:
// connection initialization, login, authorization transfer, and update
// state. Everything else travels as opaque payloads.
const (
	IDInvokeWithLayer  = 0xda9b0d0d
	IDInitConnection   = 0xc1cd5ea9
	IDHelpGetConfig    = 0xc4f9186b
	IDServerConfig     = 0xcc1a241e
	IDDCOption         = 0x18b7a10d
	IDAuthSendCode     = 0xa677244f
	IDCodeSettings     = 0xad253d78
	IDSentCode         = 0x5e002502
	IDAuthSignIn       = 0x8d52a951
	IDAuthorization    = 0x2ea2c0d4
	IDSignUpRequired   = 0x44747e9a
	IDUserEmpty        = 0xd3bc4b7a
	IDExportAuth       = 0xe5bfffcd
	IDExportedAuth     = 0xb434e2b8
	IDImportAuth       = 0xa57a7dad
	IDUpdatesGetState  = 0xedd4882a
	IDUpdatesState     = 0xa56c2a3e
	IDGetPassword      = 0x548a30f5
	IDAccountPassword  = 0x957b50fb
	IDPasswordAlgo     = 0x3a912d4a
	IDPasswordAlgoNone = 0xd45ab096
	IDInputPasswordSRP = 0xd27ff082
	IDAuthCheckPass    = 0xd18b4d16

	idSentCodeTypeApp        = 0x3dbb5986
	idSentCodeTypeSms        = 0xc000bba2
	idSentCodeTypeCall       = 0x5353e5a7
	idSentCodeTypeFlashCall  = 0xab03c6d9
	idSentCodeTypeMissedCall = 0x82006484
)

func init() {
	// Request constructors that nest other objects are registered too, so
	// a wrapped query can be decoded back out of its wrapper.
	Register(IDInitConnection, func() Object { return &InitConnection{} })
	Register(IDUpdatesGetState, func() Object { return &UpdatesGetState{} })
	Register(IDHelpGetConfig, func() Object { return &HelpGetConfig{} })

	Register(IDServerConfig, func() Object { return &ServerConfig{} })
	Register(IDSentCode, func() Object { return &SentCode{} })
	Register(IDAuthorization, func() Object { return &Authorization{} })
	Register(IDSignUpRequired, func() Object { return &Authorization{SignUpRequired: true} })
	Register(IDExportedAuth, func() Object { return &ExportedAuthorization{} })
	Register(IDUpdatesState, func() Object { return &UpdatesState{} })
	Register(IDAccountPassword, func() Object { return &AccountPassword{} })
}

// InvokeWithLayer pins the schema layer for the wrapped query.
type InvokeWithLayer struct {
	Layer int32
	Query Object
}

func (*InvokeWithLayer) TypeID() uint32 { return IDInvokeWithLayer }

func (o *InvokeWithLayer) Encode(e *Encoder) {
	e.PutInt(o.Layer)
	e.PutObject(o.Query)
}

func (o *InvokeWithLayer) Decode(d *Decoder) error {
	o.Layer = d.Int()
	q, err := d.Object()
	if err != nil {
		return err
	}
	o.Query = q
	return d.Err()
}

// InitConnection announces the client identity on the first call of a
// connection. The wrapped query rides along.
type InitConnection struct {
	APIID          int32
	DeviceModel    string
	SystemVersion  string
	AppVersion     string
	SystemLangCode string
	LangPack       string
	LangCode       string
	Query          Object
}

func (*InitConnection) TypeID() uint32 { return IDInitConnection }

func (o *InitConnection) Encode(e *Encoder) {
	e.PutUint32(0) // no proxy, no params
	e.PutInt(o.APIID)
	e.PutString(o.DeviceModel)
	e.PutString(o.SystemVersion)
	e.PutString(o.AppVersion)
	e.PutString(o.SystemLangCode)
	e.PutString(o.LangPack)
	e.PutString(o.LangCode)
	e.PutObject(o.Query)
}

func (o *InitConnection) Decode(d *Decoder) error {
	d.Uint32() // flags
	o.APIID = d.Int()
	o.DeviceModel = d.String()
	o.SystemVersion = d.String()
	o.AppVersion = d.String()
	o.SystemLangCode = d.String()
	o.LangPack = d.String()
	o.LangCode = d.String()
	q, err := d.Object()
	if err != nil {
		return err
	}
	o.Query = q
	return d.Err()
}

// HelpGetConfig requests the server configuration, including the
// datacenter option table.
type HelpGetConfig struct{}

func (*HelpGetConfig) TypeID() uint32        { return IDHelpGetConfig }
func (*HelpGetConfig) Encode(*Encoder)       {}
func (*HelpGetConfig) Decode(*Decoder) error { return nil }

// DCOption is one datacenter endpoint advertised by the server.
type DCOption struct {
	Flags     uint32
	ID        int32
	IPAddress string
	Port      int32
	Secret    []byte
}

// Flag bits of DCOption.
const (
	DCIPv6      = 1 << 0
	DCMediaOnly = 1 << 1
	DCTCPOOnly  = 1 << 2
	DCCDN       = 1 << 3
	DCStatic    = 1 << 4
	dcHasSecret = 1 << 10
)

func (*DCOption) TypeID() uint32 { return IDDCOption }

func (o *DCOption) Encode(e *Encoder) {
	flags := o.Flags &^ uint32(dcHasSecret)
	if len(o.Secret) > 0 {
		flags |= dcHasSecret
	}
	e.PutUint32(flags)
	e.PutInt(o.ID)
	e.PutString(o.IPAddress)
	e.PutInt(o.Port)
	if len(o.Secret) > 0 {
		e.PutBytes(o.Secret)
	}
}

func (o *DCOption) Decode(d *Decoder) error {
	o.Flags = d.Uint32()
	o.ID = d.Int()
	o.IPAddress = d.String()
	o.Port = d.Int()
	if o.Flags&dcHasSecret != 0 {
		o.Secret = d.Bytes()
	}
	return d.Err()
}

// ServerConfig is the help.getConfig answer. Only the fields the engine
// consumes are modeled; the long tail is preserved raw so the value
// round-trips.
type ServerConfig struct {
	Flags     uint32
	Date      int32
	Expires   int32
	TestMode  bool
	ThisDC    int32
	DCOptions []DCOption
	Raw       []byte
}

func (*ServerConfig) TypeID() uint32 { return IDServerConfig }

func (o *ServerConfig) Encode(e *Encoder) {
	e.PutUint32(o.Flags)
	e.PutInt(o.Date)
	e.PutInt(o.Expires)
	e.PutBool(o.TestMode)
	e.PutInt(o.ThisDC)
	e.PutUint32(vectorID)
	e.PutInt(int32(len(o.DCOptions)))
	for i := range o.DCOptions {
		e.PutObject(&o.DCOptions[i])
	}
	e.PutRaw(o.Raw)
}

func (o *ServerConfig) Decode(d *Decoder) error {
	o.Flags = d.Uint32()
	o.Date = d.Int()
	o.Expires = d.Int()
	o.TestMode = d.Bool()
	o.ThisDC = d.Int()
	if id := d.Uint32(); id != vectorID {
		return &SchemaError{Constructor: id, Reason: "expected vector"}
	}
	n := int(d.Int())
	if n < 0 || n > d.Remaining()/16 {
		return &SchemaError{Constructor: IDServerConfig, Reason: "dc option count out of range"}
	}
	o.DCOptions = make([]DCOption, n)
	for i := range o.DCOptions {
		d.ExpectID(IDDCOption)
		if err := o.DCOptions[i].Decode(d); err != nil {
			return err
		}
	}
	o.Raw = append([]byte(nil), d.Rest()...)
	return d.Err()
}

// CodeSettings tunes login code delivery. The zero value requests the
// default delivery path.
type CodeSettings struct {
	Flags uint32
}

func (*CodeSettings) TypeID() uint32 { return IDCodeSettings }

func (o *CodeSettings) Encode(e *Encoder) { e.PutUint32(o.Flags) }
func (o *CodeSettings) Decode(d *Decoder) error {
	o.Flags = d.Uint32()
	return d.Err()
}

// AuthSendCode starts a login: the server sends a confirmation code to
// the phone number and answers with the hash to quote back.
type AuthSendCode struct {
	PhoneNumber string
	APIID       int32
	APIHash     string
	Settings    CodeSettings
}

func (*AuthSendCode) TypeID() uint32 { return IDAuthSendCode }

func (o *AuthSendCode) Encode(e *Encoder) {
	e.PutString(o.PhoneNumber)
	e.PutInt(o.APIID)
	e.PutString(o.APIHash)
	e.PutObject(&o.Settings)
}

func (o *AuthSendCode) Decode(d *Decoder) error {
	o.PhoneNumber = d.String()
	o.APIID = d.Int()
	o.APIHash = d.String()
	d.ExpectID(IDCodeSettings)
	if err := o.Settings.Decode(d); err != nil {
		return err
	}
	return d.Err()
}

// SentCode is the auth.sendCode answer: how the code was delivered and
// the hash identifying this login attempt.
type SentCode struct {
	Flags         uint32
	DeliveryType  uint32
	CodeLength    int32
	Pattern       string
	PhoneCodeHash string
	NextType      uint32
	Timeout       int32
}

func (*SentCode) TypeID() uint32 { return IDSentCode }

func (o *SentCode) Encode(e *Encoder) {
	e.PutUint32(o.Flags)
	e.PutUint32(o.DeliveryType)
	switch o.DeliveryType {
	case idSentCodeTypeApp, idSentCodeTypeSms, idSentCodeTypeCall:
		e.PutInt(o.CodeLength)
	case idSentCodeTypeFlashCall:
		e.PutString(o.Pattern)
	case idSentCodeTypeMissedCall:
		e.PutString(o.Pattern)
		e.PutInt(o.CodeLength)
	}
	e.PutString(o.PhoneCodeHash)
	if o.Flags&(1<<1) != 0 {
		e.PutUint32(o.NextType)
	}
	if o.Flags&(1<<2) != 0 {
		e.PutInt(o.Timeout)
	}
}

func (o *SentCode) Decode(d *Decoder) error {
	o.Flags = d.Uint32()
	o.DeliveryType = d.Uint32()
	switch o.DeliveryType {
	case idSentCodeTypeApp, idSentCodeTypeSms, idSentCodeTypeCall:
		o.CodeLength = d.Int()
	case idSentCodeTypeFlashCall:
		o.Pattern = d.String()
	case idSentCodeTypeMissedCall:
		o.Pattern = d.String()
		o.CodeLength = d.Int()
	default:
		return &SchemaError{Constructor: o.DeliveryType, Reason: "unsupported code delivery type"}
	}
	o.PhoneCodeHash = d.String()
	if o.Flags&(1<<1) != 0 {
		o.NextType = d.Uint32()
	}
	if o.Flags&(1<<2) != 0 {
		o.Timeout = d.Int()
	}
	return d.Err()
}

// AuthSignIn completes a login with the code the user received.
type AuthSignIn struct {
	PhoneNumber   string
	PhoneCodeHash string
	PhoneCode     string
}

func (*AuthSignIn) TypeID() uint32 { return IDAuthSignIn }

func (o *AuthSignIn) Encode(e *Encoder) {
	e.PutUint32(1 << 0) // phone_code present
	e.PutString(o.PhoneNumber)
	e.PutString(o.PhoneCodeHash)
	e.PutString(o.PhoneCode)
}

func (o *AuthSignIn) Decode(d *Decoder) error {
	d.Uint32()
	o.PhoneNumber = d.String()
	o.PhoneCodeHash = d.String()
	o.PhoneCode = d.String()
	return d.Err()
}

// Authorization is the successful login answer. The user object is kept
// raw; only its id is lifted out, which is all the session store needs.
type Authorization struct {
	Flags          uint32
	SignUpRequired bool
	TmpSessions    int32
	UserID         int64
	RawUser        []byte
}

func (o *Authorization) TypeID() uint32 {
	if o.SignUpRequired {
		return IDSignUpRequired
	}
	return IDAuthorization
}

func (o *Authorization) Encode(e *Encoder) {
	e.PutUint32(o.Flags)
	if o.SignUpRequired {
		return
	}
	if o.Flags&(1<<1) != 0 {
		e.PutInt(0) // otherwise_relogin_days, not tracked
	}
	if o.Flags&(1<<0) != 0 {
		e.PutInt(o.TmpSessions)
	}
	e.PutRaw(o.RawUser)
}

func (o *Authorization) Decode(d *Decoder) error {
	o.Flags = d.Uint32()
	if o.SignUpRequired {
		return d.Err()
	}
	if o.Flags&(1<<1) != 0 {
		d.Int() // otherwise_relogin_days
	}
	if o.Flags&(1<<0) != 0 {
		o.TmpSessions = d.Int()
	}
	if o.Flags&(1<<2) != 0 {
		d.Bytes() // future_auth_token
	}
	o.RawUser = append([]byte(nil), d.Rest()...)

	// The user object opens with its constructor tag; the id follows
	// directly for userEmpty and after the two flag words otherwise.
	u := NewDecoder(o.RawUser)
	switch u.Uint32() {
	case IDUserEmpty:
		o.UserID = u.Long()
	default:
		u.Uint32()
		u.Uint32()
		o.UserID = u.Long()
	}
	if err := u.Err(); err != nil {
		return err
	}
	return d.Err()
}

// AuthExportAuthorization mints a token that carries login rights to
// another datacenter.
type AuthExportAuthorization struct {
	DCID int32
}

func (*AuthExportAuthorization) TypeID() uint32      { return IDExportAuth }
func (o *AuthExportAuthorization) Encode(e *Encoder) { e.PutInt(o.DCID) }
func (o *AuthExportAuthorization) Decode(d *Decoder) error {
	o.DCID = d.Int()
	return d.Err()
}

// ExportedAuthorization is the transferable login token.
type ExportedAuthorization struct {
	ID    int64
	Bytes []byte
}

func (*ExportedAuthorization) TypeID() uint32 { return IDExportedAuth }

func (o *ExportedAuthorization) Encode(e *Encoder) {
	e.PutLong(o.ID)
	e.PutBytes(o.Bytes)
}

func (o *ExportedAuthorization) Decode(d *Decoder) error {
	o.ID = d.Long()
	o.Bytes = append([]byte(nil), d.Bytes()...)
	return d.Err()
}

// AuthImportAuthorization redeems an exported token on the target
// datacenter.
type AuthImportAuthorization struct {
	ID    int64
	Bytes []byte
}

func (*AuthImportAuthorization) TypeID() uint32 { return IDImportAuth }

func (o *AuthImportAuthorization) Encode(e *Encoder) {
	e.PutLong(o.ID)
	e.PutBytes(o.Bytes)
}

func (o *AuthImportAuthorization) Decode(d *Decoder) error {
	o.ID = d.Long()
	o.Bytes = append([]byte(nil), d.Bytes()...)
	return d.Err()
}

// UpdatesGetState asks for the current update sequence position.
type UpdatesGetState struct{}

func (*UpdatesGetState) TypeID() uint32        { return IDUpdatesGetState }
func (*UpdatesGetState) Encode(*Encoder)       {}
func (*UpdatesGetState) Decode(*Decoder) error { return nil }

// UpdatesState is the server's update sequence position.
type UpdatesState struct {
	Pts         int32
	Qts         int32
	Date        int32
	Seq         int32
	UnreadCount int32
}

func (*UpdatesState) TypeID() uint32 { return IDUpdatesState }

func (o *UpdatesState) Encode(e *Encoder) {
	e.PutInt(o.Pts)
	e.PutInt(o.Qts)
	e.PutInt(o.Date)
	e.PutInt(o.Seq)
	e.PutInt(o.UnreadCount)
}

func (o *UpdatesState) Decode(d *Decoder) error {
	o.Pts = d.Int()
	o.Qts = d.Int()
	o.Date = d.Int()
	o.Seq = d.Int()
	o.UnreadCount = d.Int()
	return d.Err()
}

// AccountGetPassword fetches the two-factor challenge parameters.
type AccountGetPassword struct{}

func (*AccountGetPassword) TypeID() uint32        { return IDGetPassword }
func (*AccountGetPassword) Encode(*Encoder)       {}
func (*AccountGetPassword) Decode(*Decoder) error { return nil }

// PasswordAlgo is the KDF parameter set for the two-factor challenge.
// Known is false for algorithm variants this client cannot answer.
type PasswordAlgo struct {
	Known bool
	Salt1 []byte
	Salt2 []byte
	G     int32
	P     []byte
}

func (o *PasswordAlgo) decode(d *Decoder) error {
	switch id := d.Uint32(); id {
	case IDPasswordAlgo:
		o.Known = true
		o.Salt1 = append([]byte(nil), d.Bytes()...)
		o.Salt2 = append([]byte(nil), d.Bytes()...)
		o.G = d.Int()
		o.P = append([]byte(nil), d.Bytes()...)
	case IDPasswordAlgoNone:
		o.Known = false
	default:
		return &SchemaError{Constructor: id, Reason: "unsupported password kdf"}
	}
	return d.Err()
}

func (o *PasswordAlgo) encode(e *Encoder) {
	if !o.Known {
		e.PutUint32(IDPasswordAlgoNone)
		return
	}
	e.PutUint32(IDPasswordAlgo)
	e.PutBytes(o.Salt1)
	e.PutBytes(o.Salt2)
	e.PutInt(o.G)
	e.PutBytes(o.P)
}

// AccountPassword is the account.getPassword answer. Fields beyond the
// SRP challenge are preserved raw.
type AccountPassword struct {
	Flags       uint32
	HasPassword bool
	Algo        PasswordAlgo
	SrpB        []byte
	SrpID       int64
	Hint        string
	Raw         []byte
}

func (*AccountPassword) TypeID() uint32 { return IDAccountPassword }

func (o *AccountPassword) Encode(e *Encoder) {
	e.PutUint32(o.Flags)
	if o.Flags&(1<<2) != 0 {
		o.Algo.encode(e)
		e.PutBytes(o.SrpB)
		e.PutLong(o.SrpID)
	}
	if o.Flags&(1<<3) != 0 {
		e.PutString(o.Hint)
	}
	e.PutRaw(o.Raw)
}

func (o *AccountPassword) Decode(d *Decoder) error {
	o.Flags = d.Uint32()
	o.HasPassword = o.Flags&(1<<2) != 0
	if o.HasPassword {
		if err := o.Algo.decode(d); err != nil {
			return err
		}
		o.SrpB = append([]byte(nil), d.Bytes()...)
		o.SrpID = d.Long()
	}
	if o.Flags&(1<<3) != 0 {
		o.Hint = d.String()
	}
	o.Raw = append([]byte(nil), d.Rest()...)
	return d.Err()
}

// InputCheckPasswordSRP is the client's answer to the two-factor
// challenge: the public ephemeral A and the proof M1.
type InputCheckPasswordSRP struct {
	SrpID int64
	A     []byte
	M1    []byte
}

func (*InputCheckPasswordSRP) TypeID() uint32 { return IDInputPasswordSRP }

func (o *InputCheckPasswordSRP) Encode(e *Encoder) {
	e.PutLong(o.SrpID)
	e.PutBytes(o.A)
	e.PutBytes(o.M1)
}

func (o *InputCheckPasswordSRP) Decode(d *Decoder) error {
	o.SrpID = d.Long()
	o.A = append([]byte(nil), d.Bytes()...)
	o.M1 = append([]byte(nil), d.Bytes()...)
	return d.Err()
}

// AuthCheckPassword submits the two-factor proof.
type AuthCheckPassword struct {
	Password InputCheckPasswordSRP
}

func (*AuthCheckPassword) TypeID() uint32 { return IDAuthCheckPass }

func (o *AuthCheckPassword) Encode(e *Encoder) { e.PutObject(&o.Password) }

func (o *AuthCheckPassword) Decode(d *Decoder) error {
	d.ExpectID(IDInputPasswordSRP)
	if err := o.Password.Decode(d); err != nil {
		return err
	}
	return d.Err()
}
