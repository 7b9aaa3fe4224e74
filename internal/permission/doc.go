// Package permission decides whether a tool call may run without asking.
//
// A Policy combines configured rules, which map doublestar patterns over
// tool names to allow, ask or deny, with AlwaysAllow grants remembered from
// earlier confirmations. The most specific matching rule wins:
//
//	policy, _ := permission.NewPolicy(map[string]string{
//		"*":                  "ask",
//		"developer__*":       "allow",
//		"developer__shell":   "ask",
//		"computer__delete_*": "deny",
//	})
//	policy.Evaluate("developer__read_file") // ActionAllow
//
// A Confirmation is the user's answer to a ToolConfirmationRequest. Its
// Permission is parsed fail-closed: any string that is not a known decision
// becomes DenyOnce.
//
// RepetitionMonitor refuses a tool call that repeats the previous call with
// identical arguments more often than a configured limit, which stops a model
// stuck in a loop from burning turns.
package permission
