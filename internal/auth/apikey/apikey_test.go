package apikey

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeValidator struct {
	info *KeyInfo
	err  error
}

func (f fakeValidator) Validate(context.Context, string) (*KeyInfo, error) {
	return f.info, f.err
}

func TestStatic(t *testing.T) {
	v := NewStatic("changeme-123456", 600)

	info, err := v.Validate(context.Background(), "changeme-123456")
	require.NoError(t, err)
	assert.Equal(t, "shared-secret", info.Name)
	assert.Equal(t, 600, info.RateLimit)

	_, err = v.Validate(context.Background(), "changeme")
	assert.ErrorIs(t, err, ErrInvalidKey)
	_, err = v.Validate(context.Background(), "")
	assert.ErrorIs(t, err, ErrInvalidKey)
}

func TestStaticEmptySecretRejectsEverything(t *testing.T) {
	_, err := NewStatic("", 10).Validate(context.Background(), "")
	assert.ErrorIs(t, err, ErrInvalidKey)
}

func TestChain(t *testing.T) {
	db := fakeValidator{info: &KeyInfo{ID: "7", Name: "studio"}}
	chain := Chain{NewStatic("secret", 10), db}

	info, err := chain.Validate(context.Background(), "secret")
	require.NoError(t, err)
	assert.Equal(t, "shared-secret", info.Name)

	info, err = chain.Validate(context.Background(), "other")
	require.NoError(t, err)
	assert.Equal(t, "studio", info.Name)

	_, err = Chain{NewStatic("secret", 10)}.Validate(context.Background(), "nope")
	assert.ErrorIs(t, err, ErrInvalidKey)

	boom := errors.New("db down")
	_, err = Chain{fakeValidator{err: ErrExpiredKey}, db}.Validate(context.Background(), "k")
	assert.ErrorIs(t, err, ErrExpiredKey)
	_, err = Chain{fakeValidator{err: boom}}.Validate(context.Background(), "k")
	assert.ErrorIs(t, err, boom)
}

func TestHashKey(t *testing.T) {
	assert.Equal(t, "e3b0c44298fc1c149afbf4c8996fb92427ae41e4649b934ca495991b7852b855", HashKey(""))
	assert.Len(t, HashKey("changeme-123456"), 64)
}

func TestGenerateRawKey(t *testing.T) {
	a, err := generateRawKey()
	require.NoError(t, err)
	b, err := generateRawKey()
	require.NoError(t, err)
	assert.Len(t, a, 64)
	assert.NotEqual(t, a, b)
}
