package retry

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/nexgram/nexgram/pkg/tl"
)

// ErrTooManyRedirects is returned when a call keeps being redirected
// across data centers past the configured hop bound.
var ErrTooManyRedirects = errors.New("retry: too many datacenter redirects")

// FloodWaitError is the server telling the client to back off for a
// fixed period before repeating the call.
type FloodWaitError struct {
	Duration time.Duration
	rpc      *tl.RPCError
}

func (e *FloodWaitError) Error() string {
	return fmt.Sprintf("retry: flood wait %s", e.Duration)
}

func (e *FloodWaitError) Unwrap() error { return e.rpc }

// MigrateError is the server redirecting the call to another datacenter.
type MigrateError struct {
	DC  int
	rpc *tl.RPCError
}

func (e *MigrateError) Error() string {
	return fmt.Sprintf("retry: migrate to dc %d", e.DC)
}

func (e *MigrateError) Unwrap() error { return e.rpc }

var migratePrefixes = []string{
	"PHONE_MIGRATE_",
	"NETWORK_MIGRATE_",
	"USER_MIGRATE_",
	"STATS_MIGRATE_",
}

// classify turns a raw call error into its retry-relevant shape. Errors
// with no retry semantics come back unchanged.
func classify(err error) error {
	var rpcErr *tl.RPCError
	if !errors.As(err, &rpcErr) {
		return err
	}

	if secs, ok := strings.CutPrefix(rpcErr.Message, "FLOOD_WAIT_"); ok {
		if n, perr := strconv.Atoi(secs); perr == nil && n >= 0 {
			return &FloodWaitError{Duration: time.Duration(n) * time.Second, rpc: rpcErr}
		}
		return err
	}

	for _, prefix := range migratePrefixes {
		if dc, ok := strings.CutPrefix(rpcErr.Message, prefix); ok {
			if n, perr := strconv.Atoi(dc); perr == nil && n > 0 {
				return &MigrateError{DC: n, rpc: rpcErr}
			}
			return err
		}
	}
	return err
}
