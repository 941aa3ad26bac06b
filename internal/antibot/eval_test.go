package antibot

import (
	"crypto/aes"
	"crypto/cipher"
	"encoding/hex"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// challengePage builds a bootstrap body whose script decrypts to plaintext
// under the given key and IV, the same shape the site serves.
func challengePage(t *testing.T, key, iv, plaintext []byte, cookieName string) string {
	t.Helper()
	require.Len(t, plaintext, aes.BlockSize)

	block, err := aes.NewCipher(key)
	require.NoError(t, err)

	encrypted := make([]byte, len(plaintext))
	cipher.NewCBCEncrypter(block, iv).CryptBlocks(encrypted, plaintext)

	return fmt.Sprintf(`<html><body><script>
function toNumbers(d){var e=[];d.replace(/(..)/g,function(d){e.push(parseInt(d,16))});return e}
function toHex(){...}
var a=toNumbers("%x"),b=toNumbers("%x"),c=toNumbers("%x");
document.cookie="%s="+toHex(slowAES.decrypt(c,2,a,b))+"; expires=Thu, 31-Dec-37 23:55:55 GMT; path=/";
location.href="http://example.cu/?attempt=1";
</script></body></html>`, key, iv, encrypted, cookieName)
}

func TestDeriveCookie(t *testing.T) {
	key := []byte("0123456789abcdef")
	iv := []byte("fedcba9876543210")
	plaintext := []byte("secretcookievalu")

	body := challengePage(t, key, iv, plaintext, "RCPC")

	name, value, err := DeriveCookie(body)
	require.NoError(t, err)
	assert.Equal(t, "RCPC", name)
	assert.Equal(t, hex.EncodeToString(plaintext), value)
}

func TestDeriveCookieMissingChallenge(t *testing.T) {
	tests := []struct {
		name string
		body string
	}{
		{name: "plain page", body: "<html><body>welcome</body></html>"},
		{name: "arrays without cookie assignment", body: `a=toNumbers("00112233445566778899aabbccddeeff"),b=toNumbers("00112233445566778899aabbccddeeff"),c=toNumbers("00112233445566778899aabbccddeeff");`},
		{name: "cookie assignment without arrays", body: `document.cookie="RCPC="+toHex(slowAES.decrypt(c,2,a,b))`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, _, err := DeriveCookie(tt.body)
			assert.ErrorIs(t, err, ErrChallengeNotFound)
		})
	}
}

func TestDeriveCookieRejectsBadCiphertext(t *testing.T) {
	// Ciphertext length is not a block multiple.
	body := `var a=toNumbers("00112233445566778899aabbccddeeff"),b=toNumbers("00112233445566778899aabbccddeeff"),c=toNumbers("0011");
document.cookie="RCPC="+toHex(slowAES.decrypt(c,2,a,b))+"; path=/";`

	_, _, err := DeriveCookie(body)
	assert.Error(t, err)
	assert.NotErrorIs(t, err, ErrChallengeNotFound)
}
