package masking

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestMaskSecret(t *testing.T) {
	assert.Equal(t, "", MaskSecret("  "))
	assert.Equal(t, "****", MaskSecret("abcd"))
	assert.Equal(t, "rzp_test_****5678", MaskSecret("rzp_test_12345678"))
}

func TestMaskPhone(t *testing.T) {
	assert.Equal(t, "****3210", MaskPhone("+91 98765-43210"))
	assert.Equal(t, "****", MaskPhone("123"))
}

func TestMaskMetadataOnlyTouchesSensitiveKeys(t *testing.T) {
	out := MaskMetadata(map[string]any{
		"signature": "deadbeefcafe",
		"provider":  "razorpay",
		"amount":    int64(5000),
		"customer":  map[string]any{"phone": "9800000001", "address": "12 Lake Road", "name": "Asha"},
	})
	assert.Equal(t, "****cafe", out["signature"])
	assert.Equal(t, "razorpay", out["provider"])
	assert.Equal(t, int64(5000), out["amount"])
	assert.Equal(t, map[string]any{"phone": "****0001", "address": "****", "name": "Asha"}, out["customer"])
	assert.Nil(t, MaskMetadata(nil))
}
