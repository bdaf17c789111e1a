package api

import (
	"net/url"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFingerprint_ShardOrderInsensitive(t *testing.T) {
	a := NewNation("Testlandia", "name", "flag", "population")
	b := NewNation("testlandia", "population", "name", "flag")

	fpA, okA := a.Fingerprint()
	fpB, okB := b.Fingerprint()
	require.True(t, okA)
	require.True(t, okB)
	assert.Equal(t, fpA, fpB)
}

func TestFingerprint_ParamOrderInsensitive(t *testing.T) {
	a := NewNation("Testlandia", "census")
	a.Params = url.Values{"scale": {"3", "1"}, "mode": {"score"}}

	b := NewNation("Testlandia", "census")
	b.Params = url.Values{"mode": {"score"}, "scale": {"1", "3"}}

	fpA, _ := a.Fingerprint()
	fpB, _ := b.Fingerprint()
	assert.Equal(t, fpA, fpB)
}

func TestFingerprint_DistinguishesTargets(t *testing.T) {
	fpNation, _ := NewNation("testlandia", "name").Fingerprint()
	fpRegion, _ := NewRegion("testlandia", "name").Fingerprint()
	fpOther, _ := NewNation("maxtopia", "name").Fingerprint()
	fpShard, _ := NewNation("testlandia", "flag").Fingerprint()

	assert.NotEqual(t, fpNation, fpRegion)
	assert.NotEqual(t, fpNation, fpOther)
	assert.NotEqual(t, fpNation, fpShard)
}

func TestFingerprint_ExcludesAuthAndNonIdempotent(t *testing.T) {
	authed := NewNation("testlandia", "name")
	authed.Auth = &Auth{Password: "hunter2"}
	_, ok := authed.Fingerprint()
	assert.False(t, ok, "auth-bearing request must never be cached")

	for _, req := range []*Request{
		NewVerify("testlandia", "abc123"),
		NewTelegram("ck", "1234", "sk", "Testlandia", false),
		NewCommand("testlandia", "issue", nil, nil),
	} {
		_, ok := req.Fingerprint()
		assert.False(t, ok, "kind %s must never be cached", req.Kind)
	}
}

func TestFingerprint_IncludesVersion(t *testing.T) {
	fp, ok := NewWorld("numnations").Fingerprint()
	require.True(t, ok)
	assert.True(t, strings.HasPrefix(fp, "v="+Version+"|"), "fingerprint %q", fp)
}

func TestQueryValues_NationQuery(t *testing.T) {
	req := NewNation("The Grand Duchy", "Flag", "name")
	values := req.QueryValues()

	assert.Equal(t, "the_grand_duchy", values.Get("nation"))
	assert.Equal(t, "flag name", values.Get("q"))
	assert.Equal(t, Version, values.Get("v"))
}

func TestQueryValues_EncodesShardsWithPlus(t *testing.T) {
	req := NewNation("testlandia", "name", "flag")
	encoded := req.QueryValues().Encode()
	assert.Contains(t, encoded, "q=flag+name")
}

func TestQueryValues_WorldAssemblyCouncil(t *testing.T) {
	req := NewWorldAssembly(2, "numnations")
	values := req.QueryValues()
	assert.Equal(t, "2", values.Get("wa"))
	assert.Empty(t, values.Get("nation"))
}

func TestQueryValues_DoesNotMutateRequestParams(t *testing.T) {
	req := NewVerify("testlandia", "abc123")
	before := req.Params.Get("checksum")
	values := req.QueryValues()
	values.Set("checksum", "tampered")
	assert.Equal(t, before, req.Params.Get("checksum"))
}

func TestURL_UsesDefaultBase(t *testing.T) {
	u := NewWorld("numnations").URL("")
	assert.True(t, strings.HasPrefix(u, DefaultBaseURL+"?"), "url %q", u)

	parsed, err := url.Parse(u)
	require.NoError(t, err)
	assert.Equal(t, "numnations", parsed.Query().Get("q"))
}

func TestNewTelegram_CanonicalizesRecipient(t *testing.T) {
	req := NewTelegram("ck", "1234", "sk", "The New Recruit", true)
	assert.Equal(t, "the_new_recruit", req.Params.Get("to"))
	assert.Equal(t, "sendTG", req.Params.Get("a"))
	assert.True(t, req.Recruitment)
}

func TestNewCommand_CopiesParams(t *testing.T) {
	params := url.Values{"option": {"1"}}
	req := NewCommand("testlandia", "issue", params, nil)

	assert.Equal(t, "issue", req.Params.Get("c"))
	assert.Equal(t, "1", req.Params.Get("option"))

	params.Set("option", "2")
	assert.Equal(t, "1", req.Params.Get("option"), "command params must be copied")
}

func TestUserAgent(t *testing.T) {
	ua := UserAgent("example@example.org")
	assert.Contains(t, ua, "nsapi/")
	assert.Contains(t, ua, "example@example.org")
}

func TestCanonicalName(t *testing.T) {
	assert.Equal(t, "the_grand_duchy", canonicalName("  The Grand Duchy "))
	assert.Equal(t, "testlandia", canonicalName("Testlandia"))
}
