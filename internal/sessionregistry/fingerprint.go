package sessionregistry

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"sort"
)

// FingerprintInputs is the subset of agent launch configuration that, if it changes between two
// calls for the same chat, forces the existing session to be torn down and rebuilt rather than
// reused — the agent CLI has no way to reconfigure a running process.
type FingerprintInputs struct {
	SystemPrompt    string
	Env             map[string]string
	MCPServers      map[string]interface{}
	DisallowedTools []string
}

// Fingerprint hashes the launch configuration deterministically: encoding/json already emits
// map keys in sorted order, so only the disallowed-tools slice needs an explicit sort (copied
// first so callers don't need to pre-sort their own slice).
func Fingerprint(in FingerprintInputs) string {
	tools := append([]string(nil), in.DisallowedTools...)
	sort.Strings(tools)

	data, err := json.Marshal(struct {
		SystemPrompt    string                 `json:"system_prompt"`
		Env             map[string]string      `json:"env"`
		MCPServers      map[string]interface{} `json:"mcp_servers"`
		DisallowedTools []string               `json:"disallowed_tools"`
	}{
		SystemPrompt:    in.SystemPrompt,
		Env:             in.Env,
		MCPServers:      in.MCPServers,
		DisallowedTools: tools,
	})
	if err != nil {
		// Marshal failure here means a non-JSON-able value snuck into MCPServers; fall back to a
		// fingerprint of just the always-serializable fields so GetOrCreate can still detect a
		// system-prompt or tool-list change even if the MCP server config itself is opaque.
		data, _ = json.Marshal(struct {
			SystemPrompt    string   `json:"system_prompt"`
			DisallowedTools []string `json:"disallowed_tools"`
		}{in.SystemPrompt, tools})
	}

	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}
