package crypto

import (
	"bytes"
	"io"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"
)

func TestHashReader(t *testing.T) {
	data := []byte("hello world")
	hr := NewHashReader(bytes.NewReader(data))

	_, err := io.Copy(io.Discard, hr)
	require.NoError(t, err)

	assert.True(t, hr.IsFinished())
	assert.Equal(t, int64(len(data)), hr.Size())
	assert.Equal(t, "b94d27b9934d3e08a52e52d7da7dabfac484efe37a5380ee9088f7ace2efcde9", hr.SHA256())
	assert.Equal(t, hr.SHA256(), ComputeSHA256(data))

	h, n, err := ComputeStreamSHA256(bytes.NewReader(data))
	require.NoError(t, err)
	assert.Equal(t, hr.SHA256(), h)
	assert.Equal(t, int64(len(data)), n)
}

func TestValidateSHA256(t *testing.T) {
	assert.True(t, ValidateSHA256(ComputeSHA256([]byte("x"))))
	assert.False(t, ValidateSHA256("abc"))
	assert.False(t, ValidateSHA256("B94D27B9934D3E08A52E52D7DA7DABFAC484EFE37A5380EE9088F7ACE2EFCDE9"))
}

func TestGenerateCode(t *testing.T) {
	a, err := GenerateCode()
	require.NoError(t, err)
	b, err := GenerateCode()
	require.NoError(t, err)

	assert.Len(t, a, CodeLength)
	assert.NotEqual(t, a, b)
}

func TestPasswordHashing(t *testing.T) {
	hash, err := HashPassword("s3cret!", bcrypt.MinCost)
	require.NoError(t, err)

	assert.NoError(t, CheckPassword(hash, "s3cret!"))
	assert.ErrorIs(t, CheckPassword(hash, "wrong"), ErrPasswordMismatch)
	assert.ErrorIs(t, CheckPassword("", "s3cret!"), ErrPasswordMismatch)
}
