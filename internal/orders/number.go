package orders

import (
	"crypto/rand"
	"encoding/binary"
	"time"
)

// crockford is the base32 alphabet without the ambiguous I, L, O, U.
const crockford = "0123456789ABCDEFGHJKMNPQRSTVWXYZ"

// generateOrderNumber builds a sortable human-safe order number: ORD- plus
// 45 bits of millisecond timestamp and 20 random bits, crockford base32.
func generateOrderNumber() string {
	ts := uint64(time.Now().UnixMilli()) & ((1 << 45) - 1)

	var rnd [4]byte
	if _, err := rand.Read(rnd[:]); err != nil {
		// fallback keeps numbers unique enough under the database
		// unique index; a true collision surfaces as an insert error
		binary.BigEndian.PutUint32(rnd[:], uint32(time.Now().UnixNano()))
	}
	entropy := uint64(binary.BigEndian.Uint32(rnd[:])) & ((1 << 20) - 1)

	value := ts<<20 | entropy

	// 65 bits fit in 13 base32 digits
	out := make([]byte, 13)
	for i := 12; i >= 0; i-- {
		out[i] = crockford[value&31]
		value >>= 5
	}
	return "ORD-" + string(out)
}
