package auth

import "golang.org/x/crypto/bcrypt"

// DefaultPasswordCost matches the work factor accounts were historically hashed with.
const DefaultPasswordCost = 10

// HashPassword returns a salted bcrypt hash using the given cost.
func HashPassword(plain string, cost int) (string, error) {
	if cost <= 0 {
		cost = DefaultPasswordCost
	}
	hashed, err := bcrypt.GenerateFromPassword([]byte(plain), cost)
	if err != nil {
		return "", err
	}
	return string(hashed), nil
}

// VerifyPassword compares a bcrypt hash against a plain password.
func VerifyPassword(hash, plain string) bool {
	return bcrypt.CompareHashAndPassword([]byte(hash), []byte(plain)) == nil
}
