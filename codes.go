package grants

import (
	"crypto/rand"
	"encoding/base64"
	"math/big"
	"strings"

	"github.com/google/uuid"
)

// userCodeAlphabet has no vowels or look-alike characters so codes are easy
// to read aloud and never spell words.
const userCodeAlphabet = "BCDFGHJKLMNPQRSTVWXZ"

const opaqueCodeBytes = 32

// CodeGenerator mints the opaque values handed out by the flows.
type CodeGenerator interface {
	SessionKey() string
	AuthorizationCode() (string, error)
	DeviceCode() (string, error)
	UserCode(length int) (string, error)
}

type randomCodes struct{}

// DefaultCodeGenerator returns the crypto/rand backed generator.
func DefaultCodeGenerator() CodeGenerator {
	return randomCodes{}
}

func (randomCodes) SessionKey() string {
	return uuid.NewString()
}

func (randomCodes) AuthorizationCode() (string, error) {
	return opaqueCode()
}

func (randomCodes) DeviceCode() (string, error) {
	return opaqueCode()
}

func (randomCodes) UserCode(length int) (string, error) {
	if length <= 0 {
		length = 8
	}
	max := big.NewInt(int64(len(userCodeAlphabet)))
	var b strings.Builder
	b.Grow(length)
	for i := 0; i < length; i++ {
		n, err := rand.Int(rand.Reader, max)
		if err != nil {
			return "", err
		}
		b.WriteByte(userCodeAlphabet[n.Int64()])
	}
	return b.String(), nil
}

func opaqueCode() (string, error) {
	buf := make([]byte, opaqueCodeBytes)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(buf), nil
}

// NormalizeUserCode uppercases the code and strips separators users tend to type.
func NormalizeUserCode(code string) string {
	code = strings.ToUpper(strings.TrimSpace(code))
	code = strings.ReplaceAll(code, "-", "")
	return strings.ReplaceAll(code, " ", "")
}

// FormatUserCode splits a code in two halves for display, e.g. WDJB-MJHT.
func FormatUserCode(code string) string {
	if len(code) < 4 || len(code)%2 != 0 {
		return code
	}
	half := len(code) / 2
	return code[:half] + "-" + code[half:]
}
