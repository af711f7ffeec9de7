package cli

import (
	"bytes"
	"strings"
	"testing"

	"github.com/spf13/cobra"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/amirimatin/coremember/pkg/codec"
	"github.com/amirimatin/coremember/pkg/transport"
)

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	root := &cobra.Command{Use: "memberctl", SilenceUsage: true, SilenceErrors: true}
	AddAll(root)
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetErr(&out)
	root.SetArgs(args)
	err := root.Execute()
	return out.String(), err
}

const abHex = "000000016100000001000000016200000002"

func TestEncode(t *testing.T) {
	out, err := execute(t, "encode", "--core", "a:1", "--raft", "b:2")
	require.NoError(t, err)
	assert.Equal(t, abHex, strings.TrimSpace(out))

	_, err = execute(t, "encode", "--core", "a", "--raft", "b:2")
	assert.Error(t, err)
}

func TestDecode(t *testing.T) {
	out, err := execute(t, "decode", abHex)
	require.NoError(t, err)
	assert.Equal(t, "Member{core=a:1, raft=b:2}", strings.TrimSpace(out))

	out, err = execute(t, "decode", "--json", abHex)
	require.NoError(t, err)
	assert.JSONEq(t, `{"core":"a:1","raft":"b:2"}`, out)
}

func TestDecode_Errors(t *testing.T) {
	_, err := execute(t, "decode", "zz")
	assert.Error(t, err)

	_, err = execute(t, "decode", abHex[:20])
	assert.ErrorIs(t, err, codec.ErrBufferUnderflow)

	_, err = execute(t, "decode", "ffffffff")
	assert.ErrorIs(t, err, codec.ErrInvalidLength)
}

func TestWriteMembers(t *testing.T) {
	resp := transport.MembersResponse{
		Leader: "10.0.0.1:7687",
		Members: []transport.MemberEntry{
			{ID: "n1", Member: codec.Member{CoreAddress: codec.NewAddress("10.0.0.1", 7687), RaftAddress: codec.NewAddress("10.0.0.1", 7688)}},
		},
	}
	var buf bytes.Buffer
	require.NoError(t, writeMembers(&buf, resp, false))
	assert.Equal(t, "leader: 10.0.0.1:7687\nn1\tcore=10.0.0.1:7687\traft=10.0.0.1:7688\n", buf.String())

	buf.Reset()
	require.NoError(t, writeMembers(&buf, resp, true))
	assert.JSONEq(t, `{"leader":"10.0.0.1:7687","members":[{"id":"n1","core":"10.0.0.1:7687","raft":"10.0.0.1:7688"}]}`, buf.String())
}

func TestJoinRequiresID(t *testing.T) {
	_, err := execute(t, "join", "--core", "a:1", "--raft", "b:2")
	assert.Error(t, err)
}
