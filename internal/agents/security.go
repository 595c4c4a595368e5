package agents

import (
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/nidhogg/mister-handy/internal/diag"
	"go.uber.org/zap"
)

// weakValues are credential values that should never survive into a
// deployed environment.
var weakValues = []string{"changeme", "password", "secret", "admin", "123456"}

// SecurityConfig tunes the configuration hygiene checks.
type SecurityConfig struct {
	RequiredEnv []string `json:"required_env"`
	EnvFile     string   `json:"env_file"`
}

// Security audits process configuration: required secrets, env file
// permissions and weak credential values.
type Security struct {
	*diag.BaseAgent
	cfg SecurityConfig
}

// NewSecurity creates the configuration hygiene agent.
func NewSecurity(cfg SecurityConfig, logger *zap.Logger) *Security {
	if cfg.EnvFile == "" {
		cfg.EnvFile = ".env"
	}
	s := &Security{
		BaseAgent: diag.NewBaseAgent("security", "Security",
			"secret presence, env file permissions and credential hygiene", logger),
		cfg: cfg,
	}

	s.MustRegister(&diag.Task{
		ID:          "sec-secrets",
		Name:        "Required secrets",
		Type:        diag.TaskStatusCheck,
		Description: "all required environment variables are set",
		Interval:    10 * time.Minute,
		Handler:     s.checkSecrets,
	})
	s.MustRegister(&diag.Task{
		ID:          "sec-env-file",
		Name:        "Env file permissions",
		Type:        diag.TaskStatusCheck,
		Description: "the env file is not group or world readable",
		Interval:    10 * time.Minute,
		Handler:     s.checkEnvFile,
	})
	s.MustRegister(&diag.Task{
		ID:          "sec-weak-creds",
		Name:        "Weak credentials",
		Type:        diag.TaskMonitoring,
		Description: "required secrets do not hold placeholder values",
		Interval:    time.Hour,
		Handler:     s.checkWeakCredentials,
	})
	s.MustRegister(&diag.Task{
		ID:          "sec-env-file-fix",
		Name:        "Tighten env file",
		Type:        diag.TaskErrorFix,
		Description: "chmod the env file to owner-only access",
		Handler:     s.fixEnvFilePerms,
	})
	s.MustRegister(&diag.Task{
		ID:          "sec-rotation-advice",
		Name:        "Rotation advice",
		Type:        diag.TaskDevelopment,
		Description: "remind about long-lived token rotation",
		Handler:     s.developRotation,
	})
	return s
}

func (s *Security) checkSecrets(ctx context.Context) (*diag.Result, error) {
	var missing []string
	for _, name := range s.cfg.RequiredEnv {
		if os.Getenv(name) == "" {
			missing = append(missing, name)
		}
	}
	if len(missing) > 0 {
		return diag.Fail(diag.StatusCritical, "%d required secrets missing: %s",
			len(missing), strings.Join(missing, ", ")).
			WithData("missing", missing), nil
	}
	return diag.Healthy("all %d required secrets present", len(s.cfg.RequiredEnv)), nil
}

func (s *Security) checkEnvFile(ctx context.Context) (*diag.Result, error) {
	info, err := os.Stat(s.cfg.EnvFile)
	if os.IsNotExist(err) {
		return diag.Healthy("no env file at %s", s.cfg.EnvFile), nil
	}
	if err != nil {
		return nil, fmt.Errorf("stat %s: %w", s.cfg.EnvFile, err)
	}
	if mode := info.Mode().Perm(); mode&0o077 != 0 {
		return diag.Warn("%s is mode %04o, readable beyond its owner", s.cfg.EnvFile, mode).
			WithData("mode", fmt.Sprintf("%04o", mode)).
			WithSuggestions("run fix with apply to chmod it to 0600"), nil
	}
	return diag.Healthy("%s permissions are owner-only", s.cfg.EnvFile), nil
}

func (s *Security) checkWeakCredentials(ctx context.Context) (*diag.Result, error) {
	var weak []string
	for _, name := range s.cfg.RequiredEnv {
		value := strings.ToLower(os.Getenv(name))
		for _, bad := range weakValues {
			if value == bad {
				weak = append(weak, name)
				break
			}
		}
	}
	if len(weak) > 0 {
		return diag.Fail(diag.StatusError, "%d secrets hold placeholder values: %s",
			len(weak), strings.Join(weak, ", ")).
			WithData("weak", weak).
			WithSuggestions("replace placeholder credentials before deploying"), nil
	}
	return diag.Healthy("no placeholder credential values detected"), nil
}

func (s *Security) fixEnvFilePerms(ctx context.Context) (*diag.Result, error) {
	info, err := os.Stat(s.cfg.EnvFile)
	if os.IsNotExist(err) {
		return diag.Healthy("no env file at %s", s.cfg.EnvFile), nil
	}
	if err != nil {
		return nil, fmt.Errorf("stat %s: %w", s.cfg.EnvFile, err)
	}
	mode := info.Mode().Perm()
	if mode&0o077 == 0 {
		return diag.Healthy("%s already owner-only", s.cfg.EnvFile), nil
	}

	if !diag.ApplyEnabled(ctx) {
		return diag.Warn("would chmod %s from %04o to 0600", s.cfg.EnvFile, mode), nil
	}
	if err := os.Chmod(s.cfg.EnvFile, 0o600); err != nil {
		return nil, fmt.Errorf("chmod %s: %w", s.cfg.EnvFile, err)
	}
	return diag.Healthy("chmodded %s to 0600", s.cfg.EnvFile), nil
}

func (s *Security) developRotation(ctx context.Context) (*diag.Result, error) {
	res := diag.Healthy("%d secrets under management", len(s.cfg.RequiredEnv))
	for _, name := range s.cfg.RequiredEnv {
		upper := strings.ToUpper(name)
		if strings.Contains(upper, "TOKEN") || strings.Contains(upper, "KEY") {
			res.WithSuggestions(fmt.Sprintf("document a rotation schedule for %s", name))
		}
	}
	return res, nil
}
