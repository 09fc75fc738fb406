// Command hash-generator prints a bcrypt hash for the operator bearer token,
// ready for DIGEST_AUTH_OPERATOR_TOKEN_HASH. Without an argument it generates
// a random token and prints it too.
package main

import (
	"crypto/rand"
	"encoding/base64"
	"fmt"
	"os"

	"github.com/phrazzld/research-digest/internal/service/auth"
)

func main() {
	var token string
	if len(os.Args) > 1 {
		token = os.Args[1]
	} else {
		buf := make([]byte, 32)
		if _, err := rand.Read(buf); err != nil {
			fmt.Fprintf(os.Stderr, "Error generating token: %v\n", err)
			os.Exit(1)
		}
		token = base64.RawURLEncoding.EncodeToString(buf)
		fmt.Printf("Token: %s\n", token)
	}

	hash, err := auth.HashOperatorToken(token)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error generating hash: %v\n", err)
		os.Exit(1)
	}
	fmt.Printf("Hash: %s\n", hash)
}
