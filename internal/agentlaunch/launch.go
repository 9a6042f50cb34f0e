// Package agentlaunch builds the command line and environment the Session Registry passes to a
// transport's Connect when it execs into a sandbox, mirroring the options the original source's
// claude_agent service assembles before handing them to the SDK's transport layer.
package agentlaunch

import (
	"github.com/HyphaGroup/chatsidecar/internal/config"
	"github.com/HyphaGroup/chatsidecar/internal/transport"
)

const agentWorkingDir = "/home/agent"

// Options mirrors build_options: everything that varies per turn rather than per process.
type Options struct {
	ContinueConversation bool
}

// Command returns the agent CLI invocation: print mode, streaming JSON in both directions,
// permissions bypassed (the sidecar is the only caller, already running inside a sandboxed
// container), and the same system-prompt preset and optional model/continuation flags the
// original source threaded through ClaudeAgentOptions.
func Command(cfg *config.Config, opts Options) []string {
	cmd := []string{
		"claude",
		"--print",
		"--output-format", "stream-json",
		"--input-format", "stream-json",
		"--permission-mode", "bypassPermissions",
		"--system-prompt-preset", "claude_code",
	}
	if cfg.Model != "" {
		cmd = append(cmd, "--model", cfg.Model)
	}
	if opts.ContinueConversation {
		cmd = append(cmd, "--continue")
	}
	return cmd
}

// Env builds the environment the agent process runs with: the Anthropic credentials, when
// configured, and nothing else — the sandbox image supplies everything the toolchain itself
// needs.
func Env(cfg *config.Config) transport.Env {
	vars := make(map[string]string, 2)
	if cfg.AnthropicAPIKey != "" {
		vars["ANTHROPIC_API_KEY"] = cfg.AnthropicAPIKey
	}
	if cfg.AnthropicBaseURL != "" {
		vars["ANTHROPIC_BASE_URL"] = cfg.AnthropicBaseURL
	}
	return transport.Env{
		Vars:       vars,
		WorkingDir: agentWorkingDir,
		User:       "agent",
	}
}
