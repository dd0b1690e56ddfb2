package authcore

import (
	"strings"

	"github.com/vetstack/authcore/internal"
)

// generateRecoveryCodes returns n fresh single-use codes in display form.
func generateRecoveryCodes(n int) ([]string, error) {
	codes := make([]string, 0, n)
	for i := 0; i < n; i++ {
		code, err := internal.NewRecoveryCode()
		if err != nil {
			return nil, err
		}
		codes = append(codes, code)
	}
	return codes, nil
}

// canonicalizeRecoveryCode normalizes user input before hashing: upper
// case, separators stripped. "abcd-efgh" and "ABCDEFGH" are the same code.
func canonicalizeRecoveryCode(code string) string {
	code = strings.ToUpper(strings.TrimSpace(code))
	code = strings.ReplaceAll(code, "-", "")
	return strings.ReplaceAll(code, " ", "")
}

// recoveryCodeHash is the only stored form of a recovery code. Salted by
// user ID so identical codes across users never collide in storage.
func recoveryCodeHash(userID, code string) [32]byte {
	return internal.SaltedHash(userID, canonicalizeRecoveryCode(code))
}
