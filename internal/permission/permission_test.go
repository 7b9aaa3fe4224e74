package permission

import (
	"encoding/json"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseAction(t *testing.T) {
	tests := []struct {
		in   string
		want Permission
	}{
		{"always_allow", AlwaysAllow},
		{"AlwaysAllow", AlwaysAllow},
		{"allow_once", AllowOnce},
		{" Allow_Once ", AllowOnce},
		{"deny_once", DenyOnce},
		{"deny", DenyOnce},
		{"", DenyOnce},
		{"yes please", DenyOnce},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, ParseAction(tt.in), tt.in)
	}
	assert.True(t, AllowOnce.Allowed())
	assert.False(t, DenyOnce.Allowed())
}

func TestConfirmation_UnmarshalFailsClosed(t *testing.T) {
	var c Confirmation
	require.NoError(t, json.Unmarshal([]byte(`{"principal_type":"tool","permission":"sure"}`), &c))
	assert.Equal(t, DenyOnce, c.Permission)

	require.NoError(t, json.Unmarshal([]byte(`{"permission":42}`), &c))
	assert.Equal(t, DenyOnce, c.Permission)

	require.NoError(t, json.Unmarshal([]byte(`{"principal_type":"extension","permission":"always_allow"}`), &c))
	assert.Equal(t, AlwaysAllow, c.Permission)
	assert.Equal(t, PrincipalExtension, c.PrincipalType)
}

func TestParsePrincipalType(t *testing.T) {
	assert.Equal(t, PrincipalExtension, ParsePrincipalType("Extension"))
	assert.Equal(t, PrincipalTool, ParsePrincipalType("tool"))
	assert.Equal(t, PrincipalTool, ParsePrincipalType("whatever"))
}

func TestExtensionOf(t *testing.T) {
	assert.Equal(t, "developer", ExtensionOf("developer__shell"))
	assert.Equal(t, "", ExtensionOf("shell"))
	assert.Equal(t, "", ExtensionOf("__shell"))
}

func TestReject(t *testing.T) {
	err := Reject("calc__sum", ReasonRepeated, "Tool call %s was refused", "calc__sum")
	assert.Equal(t, "Tool call calc__sum was refused", err.Error())
	assert.Equal(t, ReasonRepeated, err.Reason)

	wrapped := fmt.Errorf("dispatch: %w", err)
	assert.True(t, IsRejectedError(wrapped))
	assert.False(t, IsRejectedError(errors.New("boom")))
	assert.False(t, IsRejectedError(nil))
}

func TestPolicy_MostSpecificRuleWins(t *testing.T) {
	p, err := NewPolicy(map[string]string{
		"*":                  "ask",
		"developer__*":       "allow",
		"developer__shell":   "deny",
		"computer__delete_*": "deny",
	})
	require.NoError(t, err)

	assert.Equal(t, ActionAllow, p.Evaluate("developer__read_file"))
	assert.Equal(t, ActionDeny, p.Evaluate("developer__shell"))
	assert.Equal(t, ActionDeny, p.Evaluate("computer__delete_file"))
	assert.Equal(t, ActionAsk, p.Evaluate("calculator__sum"))
	assert.Equal(t, "developer__shell=deny", p.Rules()[0])
}

func TestPolicy_DefaultsToAsk(t *testing.T) {
	p, err := NewPolicy(nil)
	require.NoError(t, err)
	assert.Equal(t, ActionAsk, p.Evaluate("anything"))
}

func TestPolicy_InvalidRules(t *testing.T) {
	_, err := NewPolicy(map[string]string{"x": "maybe"})
	assert.Error(t, err)

	_, err = NewPolicy(map[string]string{"[x": "allow"})
	assert.Error(t, err)
}

func TestPolicy_Remember(t *testing.T) {
	p, err := NewPolicy(map[string]string{"*": "ask"})
	require.NoError(t, err)

	p.Remember("calculator__sum", Confirmation{PrincipalType: PrincipalTool, Permission: AllowOnce})
	assert.Equal(t, ActionAsk, p.Evaluate("calculator__sum"))

	p.Remember("calculator__sum", Confirmation{PrincipalType: PrincipalTool, Permission: AlwaysAllow})
	assert.Equal(t, ActionAllow, p.Evaluate("calculator__sum"))
	assert.Equal(t, ActionAsk, p.Evaluate("calculator__product"))

	p.Remember("developer__shell", Confirmation{PrincipalType: PrincipalExtension, Permission: AlwaysAllow})
	assert.Equal(t, ActionAllow, p.Evaluate("developer__read_file"))

	p.Forget()
	assert.Equal(t, ActionAsk, p.Evaluate("calculator__sum"))
}

func TestPolicy_GrantedIgnoresRules(t *testing.T) {
	p, err := NewPolicy(map[string]string{"calculator__*": "allow"})
	require.NoError(t, err)

	assert.Equal(t, ActionAllow, p.Evaluate("calculator__sum"))
	assert.False(t, p.Granted("calculator__sum"))

	p.Remember("calculator__sum", Confirmation{PrincipalType: PrincipalTool, Permission: AlwaysAllow})
	assert.True(t, p.Granted("calculator__sum"))
	assert.False(t, p.Granted("calculator__average"))

	p.Remember("developer__shell", Confirmation{PrincipalType: PrincipalExtension, Permission: AlwaysAllow})
	assert.True(t, p.Granted("developer__read_file"))
	assert.False(t, p.Granted("shell"))
}

func TestRepetitionMonitor(t *testing.T) {
	m := NewRepetitionMonitor(2)
	args := map[string]any{"path": "a.txt"}

	assert.True(t, m.Check("read", args))
	assert.True(t, m.Check("read", args))
	assert.False(t, m.Check("read", args))

	assert.True(t, m.Check("read", map[string]any{"path": "b.txt"}))
	assert.True(t, m.Check("read", args))

	m.Reset()
	assert.True(t, m.Check("read", map[string]any{"path": "b.txt"}))
}

func TestRepetitionMonitor_Unlimited(t *testing.T) {
	m := NewRepetitionMonitor(0)
	for i := 0; i < 10; i++ {
		assert.True(t, m.Check("read", nil))
	}
}
