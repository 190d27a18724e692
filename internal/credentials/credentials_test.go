package credentials

import (
	"regexp"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"pgregory.net/rapid"
)

var (
	emailPattern    = regexp.MustCompile(`^shopwalk\+[0-9a-f]{12}@example\.com$`)
	phonePattern    = regexp.MustCompile(`^\+79[0-9]{9}$`)
	passwordPattern = regexp.MustCompile(`^Sw[0-9a-f]{12}!9$`)
)

func TestGenerate(t *testing.T) {
	c := Generate()

	assert.Regexp(t, emailPattern, c.Email)
	assert.Regexp(t, phonePattern, c.Phone)
	assert.Regexp(t, passwordPattern, c.Password)
	assert.NotEmpty(t, c.Name)
}

func TestGenerateIsDeterministicForID(t *testing.T) {
	id := uuid.MustParse("00112233-4455-6677-8899-aabbccddeeff")
	g := &Generator{Prefix: "qa", Domain: "shop.test", NewID: func() uuid.UUID { return id }}

	c := g.Generate()
	assert.Equal(t, "qa+001122334455@shop.test", c.Email)
	assert.Equal(t, "Sw66778899aabb!9", c.Password)
	assert.Equal(t, "Shopwalk 0011", c.Name)
	assert.Equal(t, g.Generate(), c)
}

func TestMasked(t *testing.T) {
	c := Credentials{Email: "a@b.c", Password: "secret"}
	m := c.Masked()
	assert.Equal(t, "******", m.Password)
	assert.Equal(t, "a@b.c", m.Email)
	assert.Equal(t, "secret", c.Password)
}

func TestAccountValid(t *testing.T) {
	assert.True(t, Account{Email: "test@example.com", Password: "password123"}.Valid())
	assert.False(t, Account{Email: "test@example.com"}.Valid())
	assert.False(t, Account{}.Valid())
}

func TestGeneratedFieldsAlwaysWellFormed(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		raw := rapid.SliceOfN(rapid.Byte(), 16, 16).Draw(t, "id")
		var id uuid.UUID
		copy(id[:], raw)

		c := (&Generator{NewID: func() uuid.UUID { return id }}).Generate()
		if !emailPattern.MatchString(c.Email) {
			t.Fatalf("bad email %q", c.Email)
		}
		if !phonePattern.MatchString(c.Phone) {
			t.Fatalf("bad phone %q", c.Phone)
		}
		if !passwordPattern.MatchString(c.Password) {
			t.Fatalf("bad password %q", c.Password)
		}
	})
}
