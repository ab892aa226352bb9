package chain

import (
	"encoding/json"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/trustledger/go-core/pkg/types"
)

func TestDigest_Deterministic(t *testing.T) {
	payload := map[string]interface{}{
		"risk":     "high",
		"category": "supply-chain",
		"score":    0.92,
	}

	d1, err := Digest(payload)
	require.NoError(t, err)
	d2, err := Digest(payload)
	require.NoError(t, err)

	assert.Equal(t, d1, d2)
	assert.Len(t, d1, types.DigestLength)
	assert.Equal(t, strings.ToLower(d1), d1)
}

func TestDigest_RawJSONKeyOrderIrrelevant(t *testing.T) {
	a := json.RawMessage(`{"x":1,"y":2}`)
	b := json.RawMessage(`{ "y": 2, "x": 1 }`)

	da, err := Digest(a)
	require.NoError(t, err)
	db, err := Digest(b)
	require.NoError(t, err)

	assert.Equal(t, da, db, "semantically equal JSON must digest identically")
}

func TestDigest_DifferentPayloadsDiffer(t *testing.T) {
	d1, err := Digest(map[string]interface{}{"x": 1})
	require.NoError(t, err)
	d2, err := Digest(map[string]interface{}{"x": 2})
	require.NoError(t, err)

	assert.NotEqual(t, d1, d2)
}

func TestDigest_InvalidRawJSON(t *testing.T) {
	_, err := Digest(json.RawMessage(`{not json`))
	assert.Error(t, err)
}

func TestNormalizeDigest(t *testing.T) {
	upper := strings.ToUpper(types.ZeroDigest[:32]) + types.ZeroDigest[32:]

	d, err := NormalizeDigest(upper)
	require.NoError(t, err)
	assert.Equal(t, types.ZeroDigest, d)

	_, err = NormalizeDigest("abc123")
	assert.Error(t, err, "short digest must be rejected")

	_, err = NormalizeDigest(strings.Repeat("z", types.DigestLength))
	assert.Error(t, err, "non-hex digest must be rejected")
}

func TestZeroDigestFormat(t *testing.T) {
	assert.Len(t, types.ZeroDigest, types.DigestLength)
	assert.Equal(t, strings.Repeat("0", types.DigestLength), types.ZeroDigest)
}
