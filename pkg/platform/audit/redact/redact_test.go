package redact

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"auditlog/pkg/platform/audit"
)

func ptr(s string) *string { return &s }

func TestApply_MasksConfiguredFields(t *testing.T) {
	in := audit.Changes{
		"ssn":  {Old: ptr("111-22-3333"), New: ptr("444-55-6666")},
		"name": {Old: ptr("A"), New: ptr("B")},
	}

	out := Apply(in, []string{"ssn"})

	assert.Equal(t, audit.Change{Old: ptr(Mask), New: ptr(Mask)}, out["ssn"])
	assert.Equal(t, audit.Change{Old: ptr("A"), New: ptr("B")}, out["name"])
	assert.Equal(t, ptr("111-22-3333"), in["ssn"].Old, "input must not be modified")
}

func TestApply_BuiltinSetIsCaseInsensitive(t *testing.T) {
	in := audit.Changes{
		"Password":      {Old: ptr("secret1"), New: ptr("secret2")},
		"API_KEY":       {Old: nil, New: ptr("k-123")},
		"refresh_token": {Old: ptr("r1"), New: nil},
		"email":         {Old: ptr("a@x.com"), New: ptr("b@x.com")},
	}

	out := Apply(in, nil)

	for _, field := range []string{"Password", "API_KEY", "refresh_token"} {
		assert.Equal(t, audit.Change{Old: ptr(Mask), New: ptr(Mask)}, out[field], field)
	}
	assert.Equal(t, in["email"], out["email"])
}

func TestApply_NoPlaintextSurvives(t *testing.T) {
	secrets := []string{"hunter2", "s3cr3t", "tok-abc"}
	in := audit.Changes{
		"password": {Old: ptr(secrets[0]), New: ptr(secrets[1])},
		"pin":      {Old: nil, New: ptr(secrets[2])},
	}

	out := Apply(in, []string{"PIN"})

	for _, ch := range out {
		for _, side := range []*string{ch.Old, ch.New} {
			if side == nil {
				continue
			}
			assert.NotContains(t, secrets, *side)
		}
	}
}

func TestApply_Nil(t *testing.T) {
	assert.Nil(t, Apply(nil, []string{"x"}))
}

func TestIsSensitive(t *testing.T) {
	assert.True(t, IsSensitive("password"))
	assert.True(t, IsSensitive("PassWord"))
	assert.True(t, IsSensitive("ssn", "SSN"))
	assert.False(t, IsSensitive("password_hint"))
	assert.False(t, IsSensitive("email", "ssn"))
}
