//go:build !race

package identity

import "golang.org/x/crypto/bcrypt"

func passwordHashCost() int {
	return bcrypt.DefaultCost
}
