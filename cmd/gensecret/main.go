package main

import (
	"crypto/rand"
	"encoding/base64"
	"encoding/hex"
	"fmt"
	"os"

	"github.com/spf13/pflag"
)

const SecretKeyBytesLen = 32

func main() {
	fs := pflag.NewFlagSet("gensecret", pflag.ExitOnError)
	size := fs.IntP("bytes", "b", SecretKeyBytesLen, "Secret size in bytes")
	format := fs.StringP("format", "f", "hex", "Output format (hex, base64)")
	_ = fs.Parse(os.Args[1:])

	secret, err := generate(*size, *format)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error while generating secret key: %v\n", err)
		os.Exit(1)
	}

	fmt.Println(secret)
}

func generate(size int, format string) (string, error) {
	if size < 16 {
		return "", fmt.Errorf("secret must be at least 16 bytes, got %d", size)
	}

	b := make([]byte, size)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}

	switch format {
	case "hex":
		return hex.EncodeToString(b), nil
	case "base64":
		return base64.StdEncoding.EncodeToString(b), nil
	default:
		return "", fmt.Errorf("unknown format %q", format)
	}
}
