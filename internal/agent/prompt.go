package agent

import (
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"sort"
	"strings"
	"time"

	"github.com/opencode-ai/agentd/internal/permission"
	"github.com/opencode-ai/agentd/pkg/types"
)

const basePrompt = `You are a general-purpose AI agent. You help the user by reasoning step by step and, when it helps, calling the tools available to you.

Tools are provided by extensions and are named <extension>__<tool>. Some tools run on the user's machine, so prefer the least destructive option and explain what you are about to do before doing it.`

const chatModePrompt = `You are in chat mode: no tools are available. Answer from your own knowledge and say so when a question would need a tool.`

// now is replaced in tests.
var now = time.Now

// systemPrompt builds the system prompt for one reply.
func (a *Agent) systemPrompt(cfg SessionConfig, tools []types.Tool) string {
	parts := []string{basePrompt}
	if cfg.Mode == ModeChat {
		parts = append(parts, chatModePrompt)
	}
	parts = append(parts, environmentContext(cfg))
	if ext := extensionSummary(tools); ext != "" {
		parts = append(parts, ext)
	}
	if rules := loadRules(cfg.WorkingDir); rules != "" {
		parts = append(parts, rules)
	}
	parts = append(parts, a.promptExtensions()...)
	return strings.Join(parts, "\n\n")
}

func environmentContext(cfg SessionConfig) string {
	workDir := cfg.WorkingDir
	if workDir == "" {
		workDir, _ = os.Getwd()
	}

	var env strings.Builder
	env.WriteString("# Environment Information\n\n")
	fmt.Fprintf(&env, "Working Directory: %s\n", workDir)
	fmt.Fprintf(&env, "Current Date: %s\n", now().Format("2006-01-02 15:04"))
	fmt.Fprintf(&env, "Platform: %s/%s\n", runtime.GOOS, runtime.GOARCH)
	fmt.Fprintf(&env, "Mode: %s", cfg.Mode)
	return env.String()
}

// extensionSummary lists the extensions that contributed tools.
func extensionSummary(tools []types.Tool) string {
	counts := make(map[string]int)
	for _, t := range tools {
		ext := permission.ExtensionOf(t.Name)
		if ext == "" {
			ext = "frontend"
		}
		counts[ext]++
	}
	if len(counts) == 0 {
		return ""
	}
	names := make([]string, 0, len(counts))
	for name := range counts {
		names = append(names, name)
	}
	sort.Strings(names)

	var b strings.Builder
	b.WriteString("# Extensions\n")
	for _, name := range names {
		fmt.Fprintf(&b, "\n- %s (%d tools)", name, counts[name])
	}
	return b.String()
}

// loadRules returns the first project hints file found in dir.
func loadRules(dir string) string {
	if dir == "" {
		return ""
	}
	for _, name := range []string{".agentdhints", "AGENTS.md"} {
		content, err := os.ReadFile(filepath.Join(dir, name))
		if err == nil && len(strings.TrimSpace(string(content))) > 0 {
			return "# Project Hints\n\n" + strings.TrimSpace(string(content))
		}
	}
	return ""
}
