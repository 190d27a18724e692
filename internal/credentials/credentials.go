// Package credentials generates throwaway account details for one journey
// run, so repeated runs never collide on the target's unique constraints.
package credentials

import (
	"encoding/hex"
	"fmt"
	"strings"

	"github.com/google/uuid"
)

// Credentials are read-only once generated.
type Credentials struct {
	Name     string `json:"name"`
	Email    string `json:"email"`
	Password string `json:"password"`
	Phone    string `json:"phone"`
}

// Account is a pre-existing login used when registration is rejected.
type Account struct {
	Email    string `mapstructure:"email" json:"email"`
	Password string `mapstructure:"password" json:"password"`
}

// Valid reports whether both fields are set.
func (a Account) Valid() bool {
	return a.Email != "" && a.Password != ""
}

// Generator derives credentials from a random UUID.
type Generator struct {
	// Prefix is the local part before the "+" tag.
	Prefix string
	Domain string
	// NewID defaults to uuid.New.
	NewID func() uuid.UUID
}

// DefaultGenerator uses shopwalk+<tag>@example.com addresses.
func DefaultGenerator() *Generator {
	return &Generator{Prefix: "shopwalk", Domain: "example.com"}
}

// Generate returns a fresh set of credentials.
func (g *Generator) Generate() Credentials {
	newID := g.NewID
	if newID == nil {
		newID = uuid.New
	}
	id := newID()
	tag := hex.EncodeToString(id[:6])

	prefix := g.Prefix
	if prefix == "" {
		prefix = "shopwalk"
	}
	domain := g.Domain
	if domain == "" {
		domain = "example.com"
	}

	return Credentials{
		Name:     "Shopwalk " + strings.ToUpper(tag[:4]),
		Email:    fmt.Sprintf("%s+%s@%s", prefix, tag, domain),
		Password: "Sw" + hex.EncodeToString(id[6:12]) + "!9",
		Phone:    phoneFrom(id),
	}
}

// phoneFrom renders a Russian mobile number in +79XXXXXXXXX form, the
// format the checkout form's pattern accepts.
func phoneFrom(id uuid.UUID) string {
	var b strings.Builder
	b.WriteString("+79")
	for _, v := range id[7:16] {
		b.WriteByte('0' + v%10)
	}
	return b.String()
}

// Generate is shorthand for DefaultGenerator().Generate().
func Generate() Credentials {
	return DefaultGenerator().Generate()
}

// Masked hides the password for logs.
func (c Credentials) Masked() Credentials {
	c.Password = strings.Repeat("*", len(c.Password))
	return c
}
