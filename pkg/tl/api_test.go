package tl

import (
	"bytes"
	"errors"
	"testing"
)

func TestSentCodeDecodeDeliveryVariants(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name string
		code SentCode
	}{
		{"app", SentCode{DeliveryType: idSentCodeTypeApp, CodeLength: 5, PhoneCodeHash: "abc123"}},
		{"sms", SentCode{DeliveryType: idSentCodeTypeSms, CodeLength: 6, PhoneCodeHash: "def456"}},
		{"flash_call", SentCode{DeliveryType: idSentCodeTypeFlashCall, Pattern: "+44*", PhoneCodeHash: "x"}},
		{"with_timeout", SentCode{Flags: 1 << 2, DeliveryType: idSentCodeTypeSms, CodeLength: 5, PhoneCodeHash: "h", Timeout: 120}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			obj, err := Unmarshal(Marshal(&tc.code))
			if err != nil {
				t.Fatalf("Unmarshal: %v", err)
			}
			got := obj.(*SentCode)
			if got.PhoneCodeHash != tc.code.PhoneCodeHash {
				t.Fatalf("hash = %q, want %q", got.PhoneCodeHash, tc.code.PhoneCodeHash)
			}
			if got.CodeLength != tc.code.CodeLength || got.Pattern != tc.code.Pattern {
				t.Fatalf("decoded %+v, want %+v", got, tc.code)
			}
			if got.Timeout != tc.code.Timeout {
				t.Fatalf("timeout = %d, want %d", got.Timeout, tc.code.Timeout)
			}
		})
	}
}

func TestSentCodeRejectsUnknownDeliveryType(t *testing.T) {
	t.Parallel()

	e := NewEncoder()
	e.PutUint32(IDSentCode)
	e.PutUint32(0)
	e.PutUint32(0xdeadbeef)
	e.PutString("hash")
	_, err := Unmarshal(e.Bytes())
	var schemaErr *SchemaError
	if !errors.As(err, &schemaErr) {
		t.Fatalf("err = %v, want SchemaError", err)
	}
}

func TestAuthorizationLiftsUserID(t *testing.T) {
	t.Parallel()

	// A full user object: tag, two flag words, then the id.
	user := NewEncoder()
	user.PutUint32(0x215c4438)
	user.PutUint32(0)
	user.PutUint32(0)
	user.PutLong(777000)
	user.PutString("Service")

	e := NewEncoder()
	e.PutUint32(IDAuthorization)
	e.PutUint32(0)
	e.PutRaw(user.Bytes())

	obj, err := Unmarshal(e.Bytes())
	if err != nil {
		t.Fatalf("Unmarshal: %v", err)
	}
	auth := obj.(*Authorization)
	if auth.UserID != 777000 {
		t.Fatalf("user id = %d, want 777000", auth.UserID)
	}
	if !bytes.Equal(auth.RawUser, user.Bytes()) {
		t.Fatal("raw user bytes not preserved")
	}
}

func TestAuthorizationEmptyUser(t *testing.T) {
	t.Parallel()

	e := NewEncoder()
	e.PutUint32(IDAuthorization)
	e.PutUint32(0)
	e.PutUint32(IDUserEmpty)
	e.PutLong(42)

	obj, err := Unmarshal(e.Bytes())
	if err != nil {
		t.Fatalf("Unmarshal: %v", err)
	}
	if got := obj.(*Authorization).UserID; got != 42 {
		t.Fatalf("user id = %d, want 42", got)
	}
}

func TestServerConfigDCOptions(t *testing.T) {
	t.Parallel()

	cfg := &ServerConfig{
		Date:     1700000000,
		Expires:  1700003600,
		TestMode: false,
		ThisDC:   2,
		DCOptions: []DCOption{
			{ID: 1, IPAddress: "149.154.175.53", Port: 443},
			{Flags: DCIPv6, ID: 2, IPAddress: "2001:b28:f23d:f001::a", Port: 443},
			{Flags: DCMediaOnly, ID: 2, IPAddress: "149.154.167.151", Port: 443, Secret: []byte{1, 2, 3}},
		},
		Raw: []byte{0xaa, 0xbb, 0xcc, 0xdd},
	}

	obj, err := Unmarshal(Marshal(cfg))
	if err != nil {
		t.Fatalf("Unmarshal: %v", err)
	}
	got := obj.(*ServerConfig)
	if got.ThisDC != 2 || len(got.DCOptions) != 3 {
		t.Fatalf("decoded %+v", got)
	}
	if got.DCOptions[1].Flags&DCIPv6 == 0 {
		t.Fatal("ipv6 flag lost")
	}
	if !bytes.Equal(got.DCOptions[2].Secret, []byte{1, 2, 3}) {
		t.Fatal("dc secret lost")
	}
	if !bytes.Equal(got.Raw, cfg.Raw) {
		t.Fatal("unmodeled tail not preserved")
	}
}

func TestAccountPasswordSRPChallenge(t *testing.T) {
	t.Parallel()

	pw := &AccountPassword{
		Flags:       1<<2 | 1<<3,
		HasPassword: true,
		Algo: PasswordAlgo{
			Known: true,
			Salt1: []byte{1, 1, 1},
			Salt2: []byte{2, 2, 2},
			G:     3,
			P:     bytes.Repeat([]byte{7}, 256),
		},
		SrpB:  bytes.Repeat([]byte{9}, 256),
		SrpID: 555,
		Hint:  "pet name",
	}

	obj, err := Unmarshal(Marshal(pw))
	if err != nil {
		t.Fatalf("Unmarshal: %v", err)
	}
	got := obj.(*AccountPassword)
	if !got.HasPassword || !got.Algo.Known {
		t.Fatalf("decoded %+v", got)
	}
	if got.SrpID != 555 || got.Hint != "pet name" {
		t.Fatalf("decoded %+v", got)
	}
	if !bytes.Equal(got.Algo.P, pw.Algo.P) || !bytes.Equal(got.SrpB, pw.SrpB) {
		t.Fatal("srp parameters corrupted")
	}
}

func TestAccountPasswordUnsupportedKDF(t *testing.T) {
	t.Parallel()

	e := NewEncoder()
	e.PutUint32(IDAccountPassword)
	e.PutUint32(1 << 2)
	e.PutUint32(0x11223344) // not a known kdf constructor
	_, err := Unmarshal(e.Bytes())
	var schemaErr *SchemaError
	if !errors.As(err, &schemaErr) {
		t.Fatalf("err = %v, want SchemaError", err)
	}
}

func TestInitConnectionWrapsQuery(t *testing.T) {
	t.Parallel()

	req := &InvokeWithLayer{
		Layer: Layer,
		Query: &InitConnection{
			APIID:          12345,
			DeviceModel:    "pc",
			SystemVersion:  "linux",
			AppVersion:     "0.1.0",
			SystemLangCode: "en",
			LangCode:       "en",
			Query:          &UpdatesGetState{},
		},
	}
	raw := Marshal(req)

	d := NewDecoder(raw)
	d.ExpectID(IDInvokeWithLayer)
	var got InvokeWithLayer
	if err := got.Decode(d); err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if got.Layer != Layer {
		t.Fatalf("layer = %d, want %d", got.Layer, Layer)
	}
	inner, ok := got.Query.(*InitConnection)
	if !ok {
		t.Fatalf("query = %T", got.Query)
	}
	if inner.APIID != 12345 {
		t.Fatalf("api id = %d", inner.APIID)
	}
	if _, ok := inner.Query.(*UpdatesGetState); !ok {
		t.Fatalf("inner query = %T", inner.Query)
	}
}
