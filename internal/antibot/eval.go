package antibot

import (
	"crypto/aes"
	"crypto/cipher"
	"encoding/hex"
	"errors"
	"fmt"
	"regexp"
)

// The bootstrap page gates access behind a small inline script of the form
//
//	a=toNumbers("<hex key>"),b=toNumbers("<hex iv>"),c=toNumbers("<hex data>");
//	document.cookie="<name>="+toHex(slowAES.decrypt(c,2,a,b))+"; path=/";
//
// slowAES mode 2 is AES-CBC, so the whole challenge reduces to one CBC
// decryption of c with key a and IV b, hex-encoded. This evaluator accepts
// exactly that shape and nothing else.

var (
	ErrChallengeNotFound = errors.New("antibot: challenge script not found")

	arrayPattern  = regexp.MustCompile(`\b([abc])\s*=\s*toNumbers\(\s*"([0-9a-fA-F]+)"\s*\)`)
	cookiePattern = regexp.MustCompile(`document\.cookie\s*=\s*"([^"=;]+)="\s*\+\s*toHex\(\s*slowAES\.decrypt\(\s*c\s*,\s*2\s*,\s*a\s*,\s*b\s*\)\s*\)`)
)

// DeriveCookie extracts the three numeric-array expressions and the
// decrypt-and-hex call from a bootstrap page body and evaluates them,
// returning the cookie name and hex value the script would have set.
func DeriveCookie(body string) (name, value string, err error) {
	vars := map[string][]byte{}
	for _, m := range arrayPattern.FindAllStringSubmatch(body, -1) {
		data, decErr := hex.DecodeString(m[2])
		if decErr != nil {
			return "", "", fmt.Errorf("antibot: bad %s array: %w", m[1], decErr)
		}
		vars[m[1]] = data
	}

	key, iv, data := vars["a"], vars["b"], vars["c"]
	if key == nil || iv == nil || data == nil {
		return "", "", ErrChallengeNotFound
	}

	m := cookiePattern.FindStringSubmatch(body)
	if m == nil {
		return "", "", ErrChallengeNotFound
	}
	name = m[1]

	value, err = decryptCBCHex(key, iv, data)
	if err != nil {
		return "", "", err
	}
	return name, value, nil
}

func decryptCBCHex(key, iv, data []byte) (string, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return "", fmt.Errorf("antibot: bad key: %w", err)
	}
	if len(iv) != aes.BlockSize {
		return "", fmt.Errorf("antibot: iv must be %d bytes, got %d", aes.BlockSize, len(iv))
	}
	if len(data) == 0 || len(data)%aes.BlockSize != 0 {
		return "", fmt.Errorf("antibot: ciphertext length %d is not a block multiple", len(data))
	}

	plain := make([]byte, len(data))
	cipher.NewCBCDecrypter(block, iv).CryptBlocks(plain, data)
	return hex.EncodeToString(plain), nil
}
