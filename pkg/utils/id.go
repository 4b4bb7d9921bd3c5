package utils

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"

	"github.com/google/uuid"
)

// GenerateID generates a random ID with prefix
func GenerateID(prefix string) string {
	b := make([]byte, 8)
	rand.Read(b)
	return fmt.Sprintf("%s_%s", prefix, hex.EncodeToString(b))
}

// GenerateRoomID generates a unique room ID
func GenerateRoomID() string {
	return GenerateID("room")
}

// GenerateFileID generates a unique file ID
func GenerateFileID() string {
	return GenerateID("file")
}

// GenerateClientID generates the ephemeral relay-assigned connection id.
// UUIDs keep the lexicographic tie-break uniform across clients.
func GenerateClientID() string {
	return uuid.NewString()
}

// GenerateRequestID generates a unique request ID
func GenerateRequestID() string {
	b := make([]byte, 4)
	rand.Read(b)
	return fmt.Sprintf("req_%s", hex.EncodeToString(b))
}
