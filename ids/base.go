// Package ids provides base62-encoded, UUID-backed identifiers used for
// diagnostics and correlation (shard, worker and fragment-group ids). Flow
// identity itself is a plain FlowKey tuple, not one of these — see
// reassembly.FlowKey; these ids exist purely for logs, metrics and traces to
// reference a shard/worker/group without leaking its full state.
package ids

import (
	"math/big"
	"strings"

	"github.com/google/uuid"
	"github.com/pkg/errors"
)

const alphabet = "0123456789ABCDEFGHIJKLMNOPQRSTUVWXYZabcdefghijklmnopqrstuvwxyz"

var baseBigInt = big.NewInt(62)

// ID is implemented by every typed identifier in this package.
type ID interface {
	GetType() string
	GetUUID() uuid.UUID
	String() string
}

// baseID is the common UUID payload embedded by every typed id.
type baseID uuid.UUID

func (b baseID) GetUUID() uuid.UUID { return uuid.UUID(b) }

func stringOf(id ID) string {
	return id.GetType() + "_" + encodeUUID(id.GetUUID())
}

func encodeUUID(u uuid.UUID) string {
	raw := [16]byte(u)
	n := new(big.Int).SetBytes(raw[:])

	var out []byte
	zero := big.NewInt(0)
	for n.Cmp(zero) > 0 {
		r := new(big.Int)
		n.DivMod(n, baseBigInt, r)
		out = append([]byte{alphabet[r.Int64()]}, out...)
	}

	for len(out) < 22 {
		out = append([]byte{'0'}, out...)
	}
	return string(out)
}

func decodeUUID(s string) (uuid.UUID, error) {
	n := new(big.Int)
	for _, c := range []byte(s) {
		idx := strings.IndexByte(alphabet, c)
		if idx < 0 {
			return uuid.Nil, errors.Errorf("unexpected character %c in base62 id", c)
		}
		n.Mul(n, baseBigInt)
		n.Add(n, big.NewInt(int64(idx)))
	}

	raw := n.Bytes()
	if len(raw) > 16 {
		return uuid.Nil, errors.New("decoded id longer than 16 bytes")
	}
	if len(raw) < 16 {
		padded := make([]byte, 16)
		copy(padded[16-len(raw):], raw)
		raw = padded
	}
	return uuid.FromBytes(raw)
}

// parseTagged splits "<tag>_<base62>" into its two parts.
func parseTagged(s string) (tag string, id uuid.UUID, err error) {
	parts := strings.SplitN(s, "_", 2)
	if len(parts) != 2 {
		return "", uuid.Nil, errors.Errorf("malformed id %q", s)
	}
	u, err := decodeUUID(parts[1])
	if err != nil {
		return "", uuid.Nil, errors.Wrapf(err, "malformed id %q", s)
	}
	return parts[0], u, nil
}
