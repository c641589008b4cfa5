package accounts

import (
	"crypto/rand"
	"fmt"
	"math/big"
)

var typePrefixes = map[AccountType]string{
	TypeChecking: "10",
	TypeSavings:  "20",
	TypeBusiness: "30",
	TypeStudent:  "40",
}

// NumberGenerator produces human-facing account numbers: a two-digit product
// prefix plus ten random digits. Uniqueness is enforced by the store's
// unique index; collisions surface as create failures and are effectively
// never hit at this keyspace.
type NumberGenerator struct{}

// NewNumberGenerator constructs a generator.
func NewNumberGenerator() *NumberGenerator {
	return &NumberGenerator{}
}

// Generate returns a fresh account number for the product type.
func (g *NumberGenerator) Generate(t AccountType) string {
	prefix, ok := typePrefixes[t]
	if !ok {
		prefix = "90"
	}
	max := big.NewInt(10_000_000_000)
	n, err := rand.Int(rand.Reader, max)
	if err != nil {
		// crypto/rand only fails when the platform source is broken.
		panic(fmt.Sprintf("accounts: random source: %v", err))
	}
	return fmt.Sprintf("%s%010d", prefix, n)
}
