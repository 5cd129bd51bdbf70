package stock

import (
	"encoding/hex"

	"github.com/zeebo/blake3"
)

// snapshotDomainKey separates sheet digests from any other BLAKE3 use.
// Changing it invalidates every stored digest.
var snapshotDomainKey = [32]byte{
	'd', 'o', 'c', 'k', 'e', 't', '.', 's', 't', 'o', 'c', 'k', '.',
	's', 'n', 'a', 'p', 's', 'h', 'o', 't', 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0,
}

// Digest is the hex BLAKE3 keyed hash of the sheet's canonical JSON.
func Digest(cs Counters) (string, error) {
	data, err := MarshalCanonical(cs)
	if err != nil {
		return "", err
	}
	hasher, err := blake3.NewKeyed(snapshotDomainKey[:])
	if err != nil {
		panic("stock: BLAKE3 keyed hash initialization failed: " + err.Error())
	}
	_, _ = hasher.Write(data)
	return hex.EncodeToString(hasher.Sum(nil)), nil
}
