package scenario

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestExpandVariables(t *testing.T) {
	c := newContext(nil, nil, nil, map[string]string{"pool": "juno1pool", "code": "7"})

	out, err := c.expand([]byte(`{"swap":{"pool":"$pool","memo":"$$pool","note":" keep ","n":[1,"$code"]}}`))
	require.NoError(t, err)
	require.JSONEq(t, `{"swap":{"pool":"juno1pool","memo":"$pool","note":" keep ","n":[1,"7"]}}`, string(out))

	out, err = c.expand([]byte(`{"price":"$$5"}`))
	require.NoError(t, err)
	require.JSONEq(t, `{"price":"$5"}`, string(out))

	_, err = c.expand([]byte(`{"pool":"$missing"}`))
	require.ErrorContains(t, err, "undefined variable $missing")

	out, err = c.expand(nil)
	require.NoError(t, err)
	require.Nil(t, out)

	id, err := c.codeID("$code")
	require.NoError(t, err)
	require.Equal(t, uint64(7), id)
	_, err = c.codeID("$$code")
	require.Error(t, err)
}
