package model

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCapabilityValueJSON(t *testing.T) {
	var got map[string]CapabilityValue
	require.NoError(t, json.Unmarshal([]byte(`{"a": 5, "b": true, "c": -1}`), &got))

	n, ok := got["a"].Int()
	assert.True(t, ok)
	assert.EqualValues(t, 5, n)

	b, ok := got["b"].Bool()
	assert.True(t, ok)
	assert.True(t, b)

	_, ok = got["b"].Int()
	assert.False(t, ok, "flag must not read as numeric")

	out, err := json.Marshal(got["c"])
	require.NoError(t, err)
	assert.Equal(t, "-1", string(out))

	_, err = json.Marshal(CapabilityValue{})
	assert.ErrorIs(t, err, ErrInvalidInput)

	var bad CapabilityValue
	assert.ErrorIs(t, json.Unmarshal([]byte(`"five"`), &bad), ErrInvalidInput)
}

func TestIsUnlimited(t *testing.T) {
	assert.True(t, IsUnlimited(Unlimited))
	assert.True(t, IsUnlimited(999))
	assert.True(t, IsUnlimited(5000))
	assert.False(t, IsUnlimited(0))
	assert.False(t, IsUnlimited(998))
}

func TestIsAllowanceKey(t *testing.T) {
	assert.True(t, IsAllowanceKey(KeyContactUnlocksIncluded))
	assert.False(t, IsAllowanceKey(KeyJobPostsMaxActive))
}
