package seal

import (
	"time"

	"timelock/internal/codec"
	"timelock/internal/commit"
	"timelock/internal/timeauth"
)

const (
	MaxInputSize = 1024 * 1024 // 1MB
)

// Envelope states.
const (
	StateSealed   = "sealed"
	StateUnlocked = "unlocked"
)

type InputSource int

const (
	InputSourceFile InputSource = iota
	InputSourceStdin
)

func (i InputSource) String() string {
	if i == InputSourceFile {
		return "file"
	}
	return "stdin"
}

// Envelope is the on-disk record of one sealed message. The ciphertext is
// stored next to it in payload.bin.
type Envelope struct {
	ID           string                `json:"id"`
	State        string                `json:"state"`
	ReleaseTime  time.Time             `json:"release_time"`
	InputType    string                `json:"input_type"`
	OriginalPath string                `json:"original_path,omitempty"`
	Registry     string                `json:"registry"`
	CreatedAt    time.Time             `json:"created_at"`
	CommitmentID string                `json:"commitment_id"`
	Registration timeauth.Registration `json:"registration"`
}

// Commitment rebuilds the commitment from the envelope and its ciphertext.
func (e Envelope) Commitment(ciphertext []byte) commit.Commitment {
	return commit.Commitment{
		ID:           e.CommitmentID,
		Ciphertext:   codec.EncodeHex(ciphertext),
		Registration: e.Registration,
		CreatedAt:    e.CreatedAt,
	}
}
