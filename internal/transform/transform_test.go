package transform

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestApplyChainBasic(t *testing.T) {
	out, err := ApplyChain("  Hello World  ", []Step{
		{Name: "trim"},
		{Name: "lower"},
	}, nil)
	require.NoError(t, err)
	require.Equal(t, "hello world", out)
}

func TestApplyChainShortCircuitsOnNil(t *testing.T) {
	out, err := ApplyChain(nil, []Step{{Name: "upper"}}, nil)
	require.NoError(t, err)
	require.Nil(t, out)
}

func TestApplyChainUnknownName(t *testing.T) {
	_, err := ApplyChain("x", []Step{{Name: "doesNotExist"}}, nil)
	require.Error(t, err)
}

func TestEmailToUsername(t *testing.T) {
	out, err := ApplyChain("jane.doe+sync@example.com", []Step{{Name: "emailToUsername"}}, nil)
	require.NoError(t, err)
	require.Equal(t, "jane.doe", out)
}

func TestContextSubstitution(t *testing.T) {
	out, err := ApplyChain("x", []Step{
		{Name: "concat", Args: map[string]string{"prefix": "$context.projectPrefix", "suffix": ""}},
	}, map[string]string{"projectPrefix": "PROJ-"})
	require.NoError(t, err)
	require.Equal(t, "PROJ-x", out)
}

func TestPathReplaceHead(t *testing.T) {
	out, err := ApplyChain(`OldProj\Team A`, []Step{
		{Name: "pathReplaceHead", Args: map[string]string{"from": "OldProj", "to": "NewProj"}},
	}, nil)
	require.NoError(t, err)
	require.Equal(t, `NewProj\Team A`, out)
}

func TestPriorityMap(t *testing.T) {
	out, err := ApplyChain("High", []Step{
		{Name: "priorityMap", Args: map[string]string{"map": "low=4,medium=3,high=2,critical=1"}},
	}, nil)
	require.NoError(t, err)
	require.Equal(t, "2", out)
}

func TestHTMLRoundTripish(t *testing.T) {
	out, err := ApplyChain("<p>Hi &amp; bye</p>", []Step{{Name: "htmlToText"}}, nil)
	require.NoError(t, err)
	require.Equal(t, "Hi & bye", out)
}
