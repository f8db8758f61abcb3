package preprocess

import (
	"crypto/sha256"
	"encoding/hex"

	"github.com/okian/ecovision/internal/domain/model"
)

// Fingerprint returns the content hash of a preprocessed tensor. Capture
// metadata (timestamp, location, sample ID) never reaches the hash.
func Fingerprint(t model.Tensor) model.Fingerprint {
	sum := sha256.Sum256(t.Bytes())
	return model.Fingerprint(hex.EncodeToString(sum[:]))
}
