//go:build race

package identity

import "golang.org/x/crypto/bcrypt"

func passwordHashCost() int {
	// Race builds are slow enough already.
	return bcrypt.MinCost
}
