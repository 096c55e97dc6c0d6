package chain

import (
	"bytes"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	sdkmath "cosmossdk.io/math"

	"github.com/moveflow/vault-engine/internal/units"
)

var (
	ErrShortResult = errors.New("chain: view returned too few values")
	ErrDecode      = errors.New("chain: cannot decode view value")
)

// values is the raw return tuple of a view function.
type values []json.RawMessage

func (v values) need(n int) error {
	if len(v) < n {
		return fmt.Errorf("%w: got %d, want %d", ErrShortResult, len(v), n)
	}
	return nil
}

// u64 decodes an unsigned integer. The node encodes u64 and wider as JSON
// strings; plain JSON numbers are accepted too.
func (v values) u64(i int) (sdkmath.Int, error) {
	raw := bytes.TrimSpace(v[i])
	s := string(raw)
	if len(raw) > 0 && raw[0] == '"' {
		if err := json.Unmarshal(raw, &s); err != nil {
			return sdkmath.ZeroInt(), fmt.Errorf("%w: value %d: %v", ErrDecode, i, err)
		}
	}
	n, err := units.ParseUint(s)
	if err != nil {
		return sdkmath.ZeroInt(), fmt.Errorf("%w: value %d: %v", ErrDecode, i, err)
	}
	return n, nil
}

// small decodes a u64 that must fit in an int (counts, indices, scores).
func (v values) small(i int) (int, error) {
	n, err := v.u64(i)
	if err != nil {
		return 0, err
	}
	if !n.IsInt64() || n.Int64() > int64(^uint32(0)) {
		return 0, fmt.Errorf("%w: value %d out of range: %s", ErrDecode, i, n)
	}
	return int(n.Int64()), nil
}

func (v values) unixTime(i int) (time.Time, error) {
	n, err := v.u64(i)
	if err != nil {
		return time.Time{}, err
	}
	if n.IsZero() {
		return time.Time{}, nil
	}
	if !n.IsInt64() {
		return time.Time{}, fmt.Errorf("%w: value %d out of range: %s", ErrDecode, i, n)
	}
	return time.Unix(n.Int64(), 0).UTC(), nil
}

func (v values) boolean(i int) (bool, error) {
	var b bool
	if err := json.Unmarshal(v[i], &b); err != nil {
		return false, fmt.Errorf("%w: value %d: %v", ErrDecode, i, err)
	}
	return b, nil
}

// str decodes a Move String. A vector<u8> returned as 0x-prefixed hex is
// decoded to text when it is valid UTF-8.
func (v values) str(i int) (string, error) {
	var s string
	if err := json.Unmarshal(v[i], &s); err != nil {
		return "", fmt.Errorf("%w: value %d: %v", ErrDecode, i, err)
	}
	if strings.HasPrefix(s, "0x") && len(s) > 2 {
		if b, err := hex.DecodeString(s[2:]); err == nil && utf8.Valid(b) {
			return string(b), nil
		}
	}
	return s, nil
}
