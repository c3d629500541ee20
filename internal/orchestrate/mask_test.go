package orchestrate

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestIsSensitiveKey(t *testing.T) {
	sensitive := []string{
		"password", "user_password", "Pass-Word", "API KEY", "apiKey",
		"otp", "card_number", "cvv", "mobile", "auth_token", "PRIVATE-KEY",
	}
	for _, k := range sensitive {
		assert.True(t, IsSensitiveKey(k, nil), k)
	}
	for _, k := range []string{"email", "username", "address", "quantity"} {
		assert.False(t, IsSensitiveKey(k, nil), k)
	}
}

func TestIsSensitiveKeyExtra(t *testing.T) {
	assert.False(t, IsSensitiveKey("member-id", nil))
	assert.True(t, IsSensitiveKey("member-id", []string{"member_id"}))
}

func TestMaskInputData(t *testing.T) {
	in := map[string]string{
		"email":    "qa@test.dev",
		"password": "hunter22",
		"otp_code": "123456",
	}
	out := MaskInputData(in, nil)
	assert.Equal(t, "qa@test.dev", out["email"])
	assert.Equal(t, "****", out["password"])
	assert.Equal(t, "****", out["otp_code"])
	assert.Equal(t, "hunter22", in["password"], "input map untouched")

	assert.Nil(t, MaskInputData(nil, nil))
}

func TestMaskText(t *testing.T) {
	data := map[string]string{"password": "hunter22", "pin": "99", "email": "qa@test.dev"}
	out := MaskText("typed hunter22 into the field, then 99, then qa@test.dev", data, nil)
	assert.NotContains(t, out, "hunter22")
	assert.Contains(t, out, "****")
	assert.Contains(t, out, "99", "short values are left alone")
	assert.Contains(t, out, "qa@test.dev", "non-sensitive values are left alone")
}
