package normalize

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestEmail(t *testing.T) {
	assert.Equal(t, "ann@x.com", Email("  Ann@X.COM "))
	assert.Equal(t, "", Email("   "))
	assert.Equal(t, "a.b+c@x.com", Email("A.B+C@x.com"), "plus addressing is preserved")
}

func TestPhone(t *testing.T) {
	t.Run("strips formatting", func(t *testing.T) {
		assert.Equal(t, "5551234567", Phone("(555) 123-4567"))
	})

	t.Run("strips leading 1 from 11-digit US numbers", func(t *testing.T) {
		assert.Equal(t, "5551234567", Phone("1-555-123-4567"))
		assert.Equal(t, "5551234567", Phone("+1 (555) 123 4567"))
	})

	t.Run("leaves other lengths alone", func(t *testing.T) {
		assert.Equal(t, "123", Phone("123"))
		assert.Equal(t, "", Phone("ext"))
		// 11 digits not starting with 1 is not a US country-code form
		assert.Equal(t, "25551234567", Phone("2 555 123 4567"))
	})
}

func TestName(t *testing.T) {
	assert.Equal(t, "lee", Name(" Lee "))
	assert.Equal(t, Name("ANN"), Name("ann"))
}
