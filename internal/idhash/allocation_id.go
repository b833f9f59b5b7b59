package idhash

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
)

// ComputeAllocationID computes a deterministic allocation identifier using SHA256.
// Formula: SHA256(namespace|version|symbol|sell_order_id|buy_order_id|seq)
// Returns hex-encoded hash (64 characters). Residue rows pass an empty
// buy order identifier.
func ComputeAllocationID(
	namespace string,
	version int64,
	symbol string,
	sellOrderID string,
	buyOrderID string,
	seq int,
) string {
	data := fmt.Sprintf("%s|%d|%s|%s|%s|%d",
		namespace,
		version,
		symbol,
		sellOrderID,
		buyOrderID,
		seq,
	)

	hash := sha256.Sum256([]byte(data))
	return hex.EncodeToString(hash[:])
}
