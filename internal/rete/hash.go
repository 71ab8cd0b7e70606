package rete

import (
	"fmt"

	"golang.org/x/crypto/blake2b"
)

func blake2bHex(b []byte) (string, error) {
	sum := blake2b.Sum256(b)
	return fmt.Sprintf("%x", sum), nil
}
