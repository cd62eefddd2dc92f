package entity

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func Test_SetName_Valid(t *testing.T) {
	for _, name := range []string{"test", "Test123", "123", "T123456789", "test-dash", "test_underscore", "a-b_c"} {
		p := NewPlan()
		require.NoError(t, p.SetName(name))
		assert.Equal(t, name, p.Name())
	}
}

func Test_SetName_Invalid(t *testing.T) {
	for _, name := range []string{"test space", "test@symbol", "a b", "a@b", ""} {
		p := NewPlan()
		err := p.SetName(name)
		require.Error(t, err)
		assert.ErrorIs(t, err, ErrInvalidName)
		assert.Contains(t, err.Error(), "can only contain")
	}
}

func Test_Hierarchy(t *testing.T) {
	plan := NewPlan()
	require.NoError(t, plan.SetName("testplan"))
	suite := NewSuite()
	require.NoError(t, suite.SetName("testsuite"))
	kase := NewCase()
	require.NoError(t, kase.SetName("testcase"))
	cmd := NewCommand()
	require.NoError(t, cmd.SetName("testcmd"))

	plan.AddSuite(suite)
	suite.AddCase(kase)
	kase.AddCommand(cmd)

	assert.Nil(t, plan.Parent())
	assert.Same(t, Node(plan), suite.Parent())
	assert.Same(t, Node(suite), kase.Parent())
	assert.Same(t, Node(kase), cmd.Parent())

	assert.Equal(t, []*Suite{suite}, plan.Suites())
	assert.Equal(t, []*Case{kase}, suite.Cases())
	assert.Equal(t, []*Command{cmd}, kase.Commands())
}

func Test_Kinds(t *testing.T) {
	assert.Equal(t, KindPlan, NewPlan().Kind())
	assert.Equal(t, KindSuite, NewSuite().Kind())
	assert.Equal(t, KindCase, NewCase().Kind())
	assert.Equal(t, KindCommand, NewCommand().Kind())
	assert.Equal(t, "plan", KindPlan.String())
	assert.Equal(t, "Suite", KindSuite.Title())
}

func Test_DirName(t *testing.T) {
	kase := NewCase()
	require.NoError(t, kase.SetName("build"))
	assert.Equal(t, "case_build", kase.DirName())

	cmd := NewCommand()
	require.NoError(t, cmd.SetName("testcmd"))
	assert.Equal(t, "command_testcmd", cmd.DirName())
}

func Test_LogNames(t *testing.T) {
	plan := NewPlan()
	require.NoError(t, plan.SetName("testplan"))
	suite := NewSuite()
	require.NoError(t, suite.SetName("testsuite"))
	kase := NewCase()
	require.NoError(t, kase.SetName("testcase"))
	cmd := NewCommand()
	require.NoError(t, cmd.SetName("testcmd"))

	plan.AddSuite(suite)
	suite.AddCase(kase)
	kase.AddCommand(cmd)

	assert.Equal(t, "Command[testcmd]", cmd.ShortName())
	assert.Equal(t, "Plan[testplan] > Suite[testsuite] > Case[testcase] > Command[testcmd]", cmd.LongName())
}

func Test_Hooks(t *testing.T) {
	suite := NewSuite()
	require.NoError(t, suite.SetName("testsuite"))

	pre := NewCommand()
	require.NoError(t, pre.SetName("pre1"))
	post := NewCommand()
	require.NoError(t, post.SetName("post1"))

	suite.AddPre(pre)
	suite.AddPost(post)

	require.Len(t, suite.Pre(), 1)
	require.Len(t, suite.Post(), 1)
	assert.Same(t, Node(suite), pre.Parent())
	assert.Same(t, Node(suite), post.Parent())
}

func Test_Command_Defaults(t *testing.T) {
	c := NewCommand()
	assert.True(t, c.RaiseError)
	assert.False(t, c.Shell)
	assert.Zero(t, c.Timeout)
	assert.Zero(t, c.RunTime)
	assert.Empty(t, c.CGroups)
}

func Test_Command_Clone(t *testing.T) {
	kase := NewCase()
	require.NoError(t, kase.SetName("testcase"))
	c := NewCommand()
	require.NoError(t, c.SetName("testcmd"))
	c.Cmd = "echo {m:entity:case}"
	c.CGroups = []string{"g1"}
	kase.AddCommand(c)

	cp := c.Clone()
	cp.Cmd = "changed"
	cp.CGroups[0] = "g2"

	assert.Equal(t, "echo {m:entity:case}", c.Cmd)
	assert.Equal(t, []string{"g1"}, c.CGroups)
	assert.Same(t, Node(kase), cp.Parent())
}
