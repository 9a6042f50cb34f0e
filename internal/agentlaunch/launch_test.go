package agentlaunch

import (
	"testing"

	"github.com/HyphaGroup/chatsidecar/internal/config"
)

func TestCommandOmitsModelAndContinueByDefault(t *testing.T) {
	cfg := &config.Config{}
	cmd := Command(cfg, Options{})
	for _, flag := range []string{"--model", "--continue"} {
		for _, arg := range cmd {
			if arg == flag {
				t.Errorf("Command() included %q with no model/continuation requested", flag)
			}
		}
	}
}

func TestCommandIncludesModelAndContinueWhenSet(t *testing.T) {
	cfg := &config.Config{Model: "claude-opus-4"}
	cmd := Command(cfg, Options{ContinueConversation: true})

	joined := make(map[string]bool, len(cmd))
	for i, arg := range cmd {
		joined[arg] = true
		if arg == "--model" && i+1 < len(cmd) && cmd[i+1] != "claude-opus-4" {
			t.Errorf("--model not followed by configured model, got %q", cmd[i+1])
		}
	}
	if !joined["--continue"] {
		t.Error("Command() did not include --continue when ContinueConversation was set")
	}
}

func TestEnvOmitsUnsetCredentials(t *testing.T) {
	env := Env(&config.Config{})
	if len(env.Vars) != 0 {
		t.Errorf("Env() with no credentials configured set vars: %v", env.Vars)
	}
}

func TestEnvIncludesConfiguredCredentials(t *testing.T) {
	env := Env(&config.Config{AnthropicAPIKey: "sk-test", AnthropicBaseURL: "https://example.test"})
	if env.Vars["ANTHROPIC_API_KEY"] != "sk-test" {
		t.Errorf("ANTHROPIC_API_KEY = %q", env.Vars["ANTHROPIC_API_KEY"])
	}
	if env.Vars["ANTHROPIC_BASE_URL"] != "https://example.test" {
		t.Errorf("ANTHROPIC_BASE_URL = %q", env.Vars["ANTHROPIC_BASE_URL"])
	}
}
