package compare

import (
	"encoding/hex"
	"testing"

	"github.com/google/pprof/profile"
	"github.com/stretchr/testify/require"

	"github.com/perfgo/tpdiff/protoset"
	"github.com/perfgo/tpdiff/testutil"
)

const profileType = "perfetto.third_party.perftools.profiles.Profile"

const heapProfile = `
sample_type { type: 1 unit: 2 }
sample { location_id: 3 value: 5 }
sample { location_id: 1 location_id: 2 value: 10 }
location { id: 1 address: 4096 line { function_id: 1 } }
location { id: 2 address: 8192 line { function_id: 2 } }
location { id: 3 address: 12288 }
function { id: 1 name: 3 }
function { id: 2 name: 4 }
string_table: ""
string_table: "samples"
string_table: "count"
string_table: "main"
string_table: "foo.__uniq.12345"
`

const heapProfileText = `Sample:
Values: 10
Stack:
main (0x1000)
foo (0x2000)

Sample:
Values: 5
Stack:
(0x3000)
`

func TestPrintProfile(t *testing.T) {
	main := &profile.Function{ID: 1, Name: "main"}
	leaf := &profile.Function{ID: 2, Name: "leaf.__uniq.99"}
	p := &profile.Profile{
		SampleType: []*profile.ValueType{{Type: "alloc", Unit: "bytes"}, {Type: "count", Unit: "count"}},
		Sample: []*profile.Sample{
			{
				Value: []int64{64, 1},
				Location: []*profile.Location{
					{ID: 1, Address: 0x10, Line: []profile.Line{{Function: leaf}, {Function: main}}},
				},
			},
		},
	}
	require.Equal(t, "Sample:\nValues: 64, 1\nStack:\nleaf (0x10)\nmain (0x10)\n", PrintProfile(p))
	require.Equal(t, "\n", PrintProfile(&profile.Profile{}))
}

func TestProfilePostProcessor(t *testing.T) {
	set, err := protoset.New(testutil.ProfileSet())
	require.NoError(t, err)
	data := marshalText(t, set, profileType, heapProfile)

	m, err := set.Unmarshal(profileType, data)
	require.NoError(t, err)
	out, err := ProfilePostProcessor(set, m)
	require.NoError(t, err)
	require.Equal(t, heapProfileText, out)

	empty, err := set.NewMessage(profileType)
	require.NoError(t, err)
	out, err = ProfilePostProcessor(set, empty)
	require.NoError(t, err)
	require.Equal(t, "\n", out)
}

func TestCompareBinaryProtoProfile(t *testing.T) {
	c, _, _, output := newComparator(t)
	data := marshalText(t, output, profileType, heapProfile)
	stdout := "\"profile\"\n\"" + hex.EncodeToString(data) + "\"\n"

	res, err := c.Compare(binaryProtoTest(profileType, "\n"+heapProfileText, "pprof"), []byte(stdout), "", 0)
	require.NoError(t, err)
	require.True(t, res.Passed, "expected %q, got %q", res.Expected, res.Actual)
}
