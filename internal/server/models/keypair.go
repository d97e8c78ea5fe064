package models

import "time"

// Keypair is a short-lived asymmetric keypair handed out so clients can
// encrypt a password in transit. Key material is hex-encoded. A keypair is
// deleted after at most one lookup-for-decryption, whatever the outcome of
// the decryption itself.
type Keypair struct {
	ID        string
	SecretKey string
	PublicKey string
	ExpireAt  time.Time
	CreatedAt time.Time
	Version   int32
}
