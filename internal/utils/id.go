package utils

import (
	"strconv"

	"github.com/google/uuid"
)

// GenerateID returns a random request ID.
func GenerateID() string {
	return uuid.NewString()
}

// IterationID derives a stable ID for one spectrum of a batch.
func IterationID(batchID string, iteration int) string {
	return uuid.NewSHA1(uuid.NameSpaceOID, []byte(batchID+"/"+strconv.Itoa(iteration))).String()
}
