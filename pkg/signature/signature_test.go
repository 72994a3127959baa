package signature

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestParse_RoundTrip(t *testing.T) {
	for _, text := range []string{
		"",
		"i",
		"ii",
		"bcCwWiIlLfdsrom",
		"[i]",
		"[[s]]",
		"{si}",
		"{s[m]}",
		"()",
		"(sib)",
		"(i[s]{so})(v)",
		"[(is)]",
	} {
		sig, err := Parse(text)
		require.NoError(t, err, text)
		require.Equal(t, text, sig.String(), "render must invert parse")
		require.Equal(t, text, Render(sig))
	}
}

func TestParse_Malformed(t *testing.T) {
	for _, text := range []string{
		"x",
		"[i",
		"[ii]",
		"{s}",
		"{sii}",
		"(ii",
		"i)",
		"[",
		"]",
	} {
		_, err := Parse(text)
		require.ErrorIs(t, err, ErrMalformed, text)
	}
}

func TestParseType_SingleType(t *testing.T) {
	typ, err := ParseType("{s[i]}")
	require.NoError(t, err)
	require.Equal(t, MapOf(Of(String), ListOf(Of(Int32))), typ)

	_, err = ParseType("ii")
	require.ErrorIs(t, err, ErrMalformed)
}

func TestType_Compatible(t *testing.T) {
	i := Of(Int32)
	s := Of(String)
	m := Of(Dynamic)

	require.True(t, i.Compatible(i))
	require.False(t, i.Compatible(s))
	require.True(t, i.Compatible(m))
	require.True(t, m.Compatible(s))
	require.True(t, ListOf(m).Compatible(ListOf(s)))
	require.False(t, ListOf(i).Compatible(ListOf(s)))
	require.False(t, TupleOf(i).Compatible(TupleOf(i, i)))

	require.True(t, Signature{i, m}.Compatible(Signature{i, s}))
	require.False(t, Signature{i, m}.Equal(Signature{i, s}))
	require.True(t, ListOf(m).HasDynamic())
	require.False(t, ListOf(i).HasDynamic())
}

func TestSplit(t *testing.T) {
	t.Run("without return", func(t *testing.T) {
		c, err := Split("add::(ii)")
		require.NoError(t, err)
		require.Equal(t, Compound{Name: "add", Params: "(ii)"}, c)
		require.Equal(t, "add::(ii)", c.Key())
		require.Equal(t, "add::(ii)", c.String())
	})

	t.Run("with return", func(t *testing.T) {
		c, err := Split("add::(ii):i")
		require.NoError(t, err)
		require.Equal(t, Compound{Return: "i", Name: "add", Params: "(ii)"}, c)
		require.Equal(t, "add::(ii):i", c.String())

		params, err := c.ParamTypes()
		require.NoError(t, err)
		require.Equal(t, Signature{Of(Int32), Of(Int32)}, params)
	})

	t.Run("legacy return placement", func(t *testing.T) {
		c, err := Split("reply::s(s)")
		require.NoError(t, err)
		require.Equal(t, Compound{Return: "s", Name: "reply", Params: "(s)"}, c)

		c, err = Split("info::(sib)(sib)")
		require.NoError(t, err)
		require.Equal(t, Compound{Return: "(sib)", Name: "info", Params: "(sib)"}, c)
	})

	t.Run("malformed", func(t *testing.T) {
		for _, text := range []string{
			"add(ii)",
			"add::",
			"add::ii",
			"::(i)",
			"add::(ii",
			"add::(ii):",
			"foo::(i):",
			"add::(ii)x",
			"add::(ii):q",
		} {
			_, err := Split(text)
			require.ErrorIs(t, err, ErrMalformed, text)
		}
	})
}

func TestMethodKey(t *testing.T) {
	require.Equal(t, "foo::(is)", MethodKey("foo", Signature{Of(Int32), Of(String)}))
	require.Equal(t, "foo::()", MethodKey("foo", nil))
	require.Equal(t, "foo", NameOf("foo::(i)"))
	require.Equal(t, "foo", NameOf("foo"))
}
