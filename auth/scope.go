package auth

import "github.com/viant/treq"

// Operation names an API capability for scope enforcement.
type Operation string

const (
	OpHealth          Operation = "health"
	OpCapabilities    Operation = "capabilities"
	OpParse           Operation = "parse"
	OpExecute         Operation = "execute"
	OpSessionCreate   Operation = "session.create"
	OpSessionRead     Operation = "session.read"
	OpSessionUpdate   Operation = "session.update"
	OpSessionDelete   Operation = "session.delete"
	OpFlowCreate      Operation = "flow.create"
	OpFlowFinish      Operation = "flow.finish"
	OpExecutionRead   Operation = "execution.read"
	OpWorkspaceList   Operation = "workspace.list"
	OpScriptSpawn     Operation = "script.spawn"
	OpImport          Operation = "import"
	OpConfigRead      Operation = "config.read"
	OpEventsSubscribe Operation = "events.subscribe"
)

// scriptBlocked operations are absolutely forbidden for script tokens.
var scriptBlocked = map[Operation]bool{
	OpSessionCreate: true,
	OpSessionDelete: true,
	OpFlowCreate:    true,
	OpWorkspaceList: true,
	OpScriptSpawn:   true,
	OpImport:        true,
	OpParse:         true,
	OpConfigRead:    true,
}

// scriptScoped operations are allowed for script tokens only when the
// request-carried ids match the token scope.
var scriptScoped = map[Operation]bool{
	OpExecute:         true,
	OpSessionUpdate:   true,
	OpSessionRead:     true,
	OpExecutionRead:   true,
	OpEventsSubscribe: true,
	OpFlowFinish:      true,
}

// EnforceScope rejects operations outside a script token's scope. Non-script
// identities pass unconditionally.
func EnforceScope(identity *Identity, op Operation, flowID, sessionID string) error {
	if identity == nil || identity.Method != MethodScript {
		return nil
	}
	if scriptBlocked[op] {
		return treq.Errorf(treq.CodeScopeViolation, "operation %q not permitted for script tokens", op)
	}
	if !scriptScoped[op] {
		return nil
	}
	token := identity.Token
	if token == nil {
		return treq.NewError(treq.CodeScopeViolation, "script token scope missing")
	}
	if flowID != "" && flowID != token.FlowID {
		return treq.Errorf(treq.CodeScopeViolation, "flow %q outside script token scope", flowID)
	}
	if sessionID != "" && sessionID != token.SessionID {
		return treq.Errorf(treq.CodeScopeViolation, "session %q outside script token scope", sessionID)
	}
	return nil
}
