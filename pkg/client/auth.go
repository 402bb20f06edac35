package client

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"time"

	"github.com/nexgram/nexgram/internal/crypto"
	"github.com/nexgram/nexgram/internal/retry"
	"github.com/nexgram/nexgram/internal/storage"
	"github.com/nexgram/nexgram/pkg/tl"
)

// Login failure modes surfaced to the caller.
var (
	// ErrPasswordNeeded means the account has two-factor auth enabled;
	// finish the login with CheckPassword.
	ErrPasswordNeeded = errors.New("client: two-factor password required")

	// ErrSignUpRequired means the phone number has no account.
	ErrSignUpRequired = errors.New("client: phone number not registered")
)

// SendCode starts a login: the server delivers a confirmation code and
// answers with the hash that identifies this attempt.
func (c *Client) SendCode(ctx context.Context, phone string) (*tl.SentCode, error) {
	return invokeAs[*tl.SentCode](ctx, c, &tl.AuthSendCode{
		PhoneNumber: phone,
		APIID:       int32(c.cfg.API.ID),
		APIHash:     c.cfg.API.Hash,
	})
}

// SignIn completes a login with the received code. ErrPasswordNeeded
// means two-factor auth stands between the code and the account.
func (c *Client) SignIn(ctx context.Context, phone, codeHash, code string) (*tl.Authorization, error) {
	auth, err := invokeAs[*tl.Authorization](ctx, c, &tl.AuthSignIn{
		PhoneNumber:   phone,
		PhoneCodeHash: codeHash,
		PhoneCode:     code,
	})
	if err != nil {
		var rpcErr *tl.RPCError
		if errors.As(err, &rpcErr) && rpcErr.Message == "SESSION_PASSWORD_NEEDED" {
			return nil, fmt.Errorf("%w: %w", ErrPasswordNeeded, err)
		}
		return nil, err
	}
	if auth.SignUpRequired {
		return nil, ErrSignUpRequired
	}
	return auth, c.completeLogin(ctx, auth)
}

// CheckPassword answers the two-factor challenge. The password is used
// to derive an SRP proof locally; it is never sent to the server.
func (c *Client) CheckPassword(ctx context.Context, password string) (*tl.Authorization, error) {
	pw, err := invokeAs[*tl.AccountPassword](ctx, c, &tl.AccountGetPassword{})
	if err != nil {
		return nil, err
	}
	if !pw.HasPassword {
		return nil, errors.New("client: account has no two-factor password")
	}
	if !pw.Algo.Known {
		return nil, errors.New("client: unsupported two-factor kdf")
	}

	proof, err := crypto.ComputeSRP(rand.Reader, crypto.SRPInput{
		SrpID: pw.SrpID,
		G:     pw.Algo.G,
		P:     pw.Algo.P,
		Salt1: pw.Algo.Salt1,
		Salt2: pw.Algo.Salt2,
		B:     pw.SrpB,
	}, []byte(password))
	if err != nil {
		return nil, fmt.Errorf("client: srp proof: %w", err)
	}

	auth, err := invokeAs[*tl.Authorization](ctx, c, &tl.AuthCheckPassword{
		Password: tl.InputCheckPasswordSRP{
			SrpID: proof.SrpID,
			A:     proof.A,
			M1:    proof.M1,
		},
	})
	if err != nil {
		return nil, err
	}
	return auth, c.completeLogin(ctx, auth)
}

// completeLogin records the signed-in user and persists the session.
func (c *Client) completeLogin(ctx context.Context, auth *tl.Authorization) error {
	c.mu.Lock()
	c.userID = auth.UserID
	c.mu.Unlock()

	dc := c.pool.Current()
	key, err := c.store.LoadAuthKey(ctx, dc)
	if err != nil {
		return fmt.Errorf("client: persist login: %w", err)
	}
	err = c.store.Save(ctx, &storage.Session{
		DC:       dc,
		AuthKey:  key,
		UserID:   auth.UserID,
		TestMode: c.cfg.TestMode,
		Date:     time.Now(),
	})
	if err != nil {
		return fmt.Errorf("client: persist login: %w", err)
	}
	c.logger.Info("signed in", "user_id", auth.UserID, "dc", dc)
	return nil
}

// transferAuthorization carries login rights to a freshly connected
// datacenter: export a token on the old one, redeem it on the new one.
// Before login there is nothing to transfer.
func (c *Client) transferAuthorization(ctx context.Context, from, to retry.Invoker, targetDC int) error {
	if c.UserID() == 0 {
		return nil
	}

	raw, err := from.Invoke(ctx, &tl.AuthExportAuthorization{DCID: int32(targetDC)})
	if err != nil {
		return fmt.Errorf("export authorization: %w", err)
	}
	obj, err := tl.Unmarshal(raw)
	if err != nil {
		return fmt.Errorf("export authorization answer: %w", err)
	}
	exported, ok := obj.(*tl.ExportedAuthorization)
	if !ok {
		return fmt.Errorf("unexpected export answer %T", obj)
	}

	raw, err = to.Invoke(ctx, &tl.AuthImportAuthorization{
		ID:    exported.ID,
		Bytes: exported.Bytes,
	})
	if err != nil {
		return fmt.Errorf("import authorization: %w", err)
	}
	if _, err := tl.Unmarshal(raw); err != nil {
		return fmt.Errorf("import authorization answer: %w", err)
	}
	c.logger.Info("authorization transferred", "dc", targetDC)
	return nil
}
