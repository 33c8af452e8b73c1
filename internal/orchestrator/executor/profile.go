package executor

import (
	"fmt"

	"github.com/outerlook/orchestratorcore/internal/orchestrator/model"
)

// ProfileKind names a supported coding-agent binary kind.
type ProfileKind string

const (
	ProfileClaudeCode ProfileKind = "claude_code"
	ProfileOpenCodeCLI ProfileKind = "opencode_cli"
)

// Profile describes one executor_profile_id's binary and approvals kind.
type Profile struct {
	ID         string
	Kind       ProfileKind
	BinaryPath string
	Model      string
	MaxTurns   int
	Approvals  ApprovalsKind
}

// Registry resolves executor_profile_id to a Profile.
type Registry struct {
	profiles map[string]Profile
}

func NewRegistry(profiles ...Profile) *Registry {
	r := &Registry{profiles: make(map[string]Profile, len(profiles))}
	for _, p := range profiles {
		r.profiles[p.ID] = p
	}
	return r
}

func (r *Registry) Get(id string) (Profile, bool) {
	p, ok := r.profiles[id]
	return p, ok
}

// BuildCommand turns a leaf ExecutorAction into the binary + args to
// exec. ScriptRequest actions run through the configured interpreter
// for their Language; CodingAgent requests run the profile's binary
// with --resume/--session when following up.
func BuildCommand(action *model.ExecutorAction, registry *Registry) (binary string, args []string, err error) {
	switch action.Type {
	case model.ActionScriptRequest:
		interpreter := action.Language
		if interpreter == "" {
			interpreter = "sh"
		}
		return interpreter, []string{"-c", action.Script}, nil

	case model.ActionCodingAgentInitialRequest:
		profile, ok := registry.Get(action.ExecutorProfileID)
		if !ok {
			return "", nil, fmt.Errorf("unknown executor profile %q", action.ExecutorProfileID)
		}
		return commandForProfile(profile, action.Prompt, "")

	case model.ActionCodingAgentFollowUpRequest:
		profile, ok := registry.Get(action.ExecutorProfileID)
		if !ok {
			return "", nil, fmt.Errorf("unknown executor profile %q", action.ExecutorProfileID)
		}
		return commandForProfile(profile, action.Prompt, action.AgentSessionID)

	default:
		return "", nil, fmt.Errorf("unknown action type %q", action.Type)
	}
}

func commandForProfile(p Profile, prompt, resumeSessionID string) (string, []string, error) {
	switch p.Kind {
	case ProfileClaudeCode:
		args := []string{"-p", prompt, "--print", "--output-format", "stream-json", "--verbose", "--dangerously-skip-permissions"}
		if resumeSessionID != "" {
			args = append(args, "--resume", resumeSessionID)
		}
		if p.Model != "" {
			args = append(args, "--model", p.Model)
		}
		if p.MaxTurns > 0 {
			args = append(args, "--max-turns", fmt.Sprintf("%d", p.MaxTurns))
		}
		return p.BinaryPath, args, nil

	case ProfileOpenCodeCLI:
		args := []string{"run", "--format", "json"}
		if resumeSessionID != "" {
			args = append(args, "--session", resumeSessionID)
		}
		args = append(args, prompt)
		return p.BinaryPath, args, nil

	default:
		return "", nil, fmt.Errorf("unknown profile kind %q", p.Kind)
	}
}

// NextRunReason derives the run reason for action.NextAction given the
// current action:
//   (Script, Script)        -> SetupScript
//   (CodingAgent, Script)   -> CleanupScript
//   (_, CodingAgent*)       -> CodingAgent
func NextRunReason(current, next *model.ExecutorAction) model.RunReason {
	if next.Type == model.ActionCodingAgentInitialRequest || next.Type == model.ActionCodingAgentFollowUpRequest {
		return model.RunCodingAgent
	}
	if current.Type == model.ActionScriptRequest && next.Type == model.ActionScriptRequest {
		return model.RunSetupScript
	}
	if current.IsCodingAgent() && next.Type == model.ActionScriptRequest {
		return model.RunCleanupScript
	}
	return model.RunSetupScript
}
