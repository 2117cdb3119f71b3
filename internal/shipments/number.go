package shipments

import (
	"crypto/rand"
	"encoding/binary"
	"time"
)

const crockford = "0123456789ABCDEFGHJKMNPQRSTVWXYZ"

// generateShipmentNumber mirrors the order number scheme with a SHP prefix.
func generateShipmentNumber() string {
	ts := uint64(time.Now().UnixMilli()) & ((1 << 45) - 1)

	var rnd [4]byte
	if _, err := rand.Read(rnd[:]); err != nil {
		binary.BigEndian.PutUint32(rnd[:], uint32(time.Now().UnixNano()))
	}
	entropy := uint64(binary.BigEndian.Uint32(rnd[:])) & ((1 << 20) - 1)

	value := ts<<20 | entropy
	out := make([]byte, 13)
	for i := 12; i >= 0; i-- {
		out[i] = crockford[value&31]
		value >>= 5
	}
	return "SHP-" + string(out)
}
