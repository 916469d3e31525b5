package paramset

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sampleBlob = `
name: array
type: beamformer
parents: [station]
children:
  - det-a
  - det-b
child:
  det-a:
    type: detector
    host: node-1
  det-b:
    type: detector
schedule:
  claim: 1760000000
  stop: "2025-10-09T09:00:00Z"
quality:
  required: 50
`

func TestParse_Flattens(t *testing.T) {
	set, err := Parse([]byte(sampleBlob))
	require.NoError(t, err)

	assert.Equal(t, "array", set["name"])
	assert.Equal(t, "station", set["parents"])
	assert.Equal(t, "det-a,det-b", set["children"])
	assert.Equal(t, "detector", set["child.det-a.type"])
	assert.Equal(t, "node-1", set["child.det-a.host"])
	assert.Equal(t, "1760000000", set["schedule.claim"])
	assert.Equal(t, "50", set["quality.required"])
}

func TestParse_Invalid(t *testing.T) {
	_, err := Parse([]byte("children: [unterminated"))
	assert.Error(t, err)
}

func TestLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), "blob.yaml")
	require.NoError(t, os.WriteFile(path, []byte(sampleBlob), 0600))

	set, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "beamformer", set["type"])

	_, err = Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}

func TestMarshal_ParsesBack(t *testing.T) {
	set := Set{"child.det-a.type": "detector", "children": "det-a", "schedule.claim": "17"}

	data, err := set.Marshal()
	require.NoError(t, err)

	got, err := Parse(data)
	require.NoError(t, err)
	assert.Equal(t, set, got)
}

func TestSubsetAndMerge(t *testing.T) {
	set, err := Parse([]byte(sampleBlob))
	require.NoError(t, err)

	sub := set.Subset("child.det-a")
	assert.Equal(t, Set{"type": "detector", "host": "node-1"}, sub)

	merged := sub.Merge(Set{"host": "node-9", "parents": "array"})
	assert.Equal(t, "node-9", merged["host"])
	assert.Equal(t, "array", merged["parents"])
	assert.Equal(t, "node-1", sub["host"], "merge must not modify the receiver")
}

func TestTypedGetters(t *testing.T) {
	set := Set{
		"n":       "42",
		"bad":     "forty",
		"secs":    "90",
		"dur":     "1m30s",
		"epoch":   "1760000000",
		"rfc":     "2025-10-09T09:00:00Z",
		"zero":    "0",
		"list":    " a, ,b ,c",
		"padded":  "  value ",
		"garbage": "soon",
	}

	n, err := set.Int("n", 0)
	require.NoError(t, err)
	assert.Equal(t, 42, n)

	n, err = set.Int("absent", 7)
	require.NoError(t, err)
	assert.Equal(t, 7, n)

	_, err = set.Int("bad", 0)
	assert.ErrorIs(t, err, ErrInvalidValue)

	d, err := set.Duration("secs", 0)
	require.NoError(t, err)
	assert.Equal(t, 90*time.Second, d)

	d, err = set.Duration("dur", 0)
	require.NoError(t, err)
	assert.Equal(t, 90*time.Second, d)

	ts, err := set.Time("epoch")
	require.NoError(t, err)
	assert.Equal(t, int64(1760000000), ts.Unix())

	ts, err = set.Time("rfc")
	require.NoError(t, err)
	assert.Equal(t, time.Date(2025, 10, 9, 9, 0, 0, 0, time.UTC), ts)

	ts, err = set.Time("zero")
	require.NoError(t, err)
	assert.True(t, ts.IsZero())

	_, err = set.Time("garbage")
	assert.ErrorIs(t, err, ErrInvalidValue)

	assert.Equal(t, []string{"a", "b", "c"}, set.List("list"))
	assert.Nil(t, set.List("absent"))
	assert.Equal(t, "value", set.String("padded", "x"))
	assert.Equal(t, "x", set.String("absent", "x"))
}

func TestSetTime(t *testing.T) {
	set := Set{}
	set.SetTime("schedule.start", time.Unix(1760000100, 0))
	assert.Equal(t, "1760000100", set["schedule.start"])

	set.SetTime("schedule.start", time.Time{})
	assert.False(t, set.Has("schedule.start"))
}
