package models

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	identity "hearth/internal/identity/models"
	id "hearth/pkg/domain"
)

func person(t *testing.T, first, last, email, phone string, addr *id.AddressID) *identity.Person {
	t.Helper()
	inst, err := id.ParseInstitutionID("5b0c0f5e-9a1f-4f4a-a9f8-0f0d6a1c2b3d")
	require.NoError(t, err)
	p, err := identity.NewPerson(inst, first, last, email, phone, nil, "", identity.SourceImport, time.Now())
	require.NoError(t, err)
	p.AddressID = addr
	return p
}

func TestScoreGroup(t *testing.T) {
	addr, err := id.ParseAddressID("9e8d7c6b-5a49-4837-9261-504a3b2c1d0e")
	require.NoError(t, err)

	cases := []struct {
		name    string
		members []*identity.Person
		score   int
		reason  string
	}{
		{
			name: "email+phone+address",
			members: []*identity.Person{
				person(t, "A", "L", "x@y.com", "5551234567", &addr),
				person(t, "B", "L", "x@y.com", "5551234567", &addr),
			},
			score: 95, reason: "email+phone+address",
		},
		{
			name: "email+phone without shared address",
			members: []*identity.Person{
				person(t, "A", "L", "x@y.com", "5551234567", nil),
				person(t, "B", "L", "x@y.com", "5551234567", nil),
				person(t, "C", "L", "x@y.com", "5551234567", &addr),
			},
			score: 92, reason: "email+phone",
		},
		{
			name: "email+address",
			members: []*identity.Person{
				person(t, "A", "L", "x@y.com", "5551111111", &addr),
				person(t, "B", "L", "x@y.com", "5552222222", &addr),
			},
			score: 90, reason: "email+address",
		},
		{
			name: "phone+address",
			members: []*identity.Person{
				person(t, "A", "L", "a@y.com", "5551234567", &addr),
				person(t, "B", "L", "b@y.com", "5551234567", &addr),
			},
			score: 88, reason: "phone+address",
		},
		{
			name: "email only",
			members: []*identity.Person{
				person(t, "A", "L", "x@y.com", "5551111111", nil),
				person(t, "B", "L", "x@y.com", "", nil),
			},
			score: 85, reason: "email only",
		},
		{
			name: "phone only with differing emails",
			members: []*identity.Person{
				person(t, "A", "L", "a@y.com", "5551234567", nil),
				person(t, "B", "L", "b@y.com", "5551234567", nil),
			},
			score: 82, reason: "phone only",
		},
		{
			name: "address only",
			members: []*identity.Person{
				person(t, "A", "L", "a@y.com", "", &addr),
				person(t, "B", "L", "b@y.com", "", &addr),
			},
			score: 75, reason: "address only",
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			score, reason := ScoreGroup(tc.members, ByPhone)
			assert.Equal(t, tc.score, score)
			assert.Equal(t, tc.reason, reason)
		})
	}

	t.Run("fallback reason is the grouping method name", func(t *testing.T) {
		members := []*identity.Person{
			person(t, "A", "L", "a@y.com", "5551111111", nil),
			person(t, "B", "L", "b@y.com", "5552222222", nil),
		}
		score, reason := ScoreGroup(members, ByPhone)
		assert.Equal(t, 60, score)
		assert.Equal(t, "phone", reason)

		score, reason = ScoreGroup(members, ByEmail)
		assert.Equal(t, 60, score)
		assert.Equal(t, "email", reason)
	})

	t.Run("a single member always takes the fallback", func(t *testing.T) {
		members := []*identity.Person{
			person(t, "A", "L", "a@y.com", "5551111111", &addr),
		}
		score, reason := ScoreGroup(members, ByRegistration)
		assert.Equal(t, 60, score)
		assert.Equal(t, "registration", reason)
	})
}

func TestDisplayName(t *testing.T) {
	assert.Equal(t, "Lee Household", DisplayName(person(t, "Ann", "Lee", "", "", nil)))

	inst, err := id.ParseInstitutionID("5b0c0f5e-9a1f-4f4a-a9f8-0f0d6a1c2b3d")
	require.NoError(t, err)
	headless := &identity.Person{InstitutionID: inst, FirstName: "Cher"}
	assert.Equal(t, "Cher's Household", DisplayName(headless))
}
