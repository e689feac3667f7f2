package verify

import (
	"fmt"
	"time"

	"github.com/claude-flow/claude-flow/pkg/models"
)

const defaultCommandTimeout = 2 * time.Minute

// DefaultCommands returns the standard verification commands for a
// task family. statusPath is the agent's status document, used by the
// general check.
func DefaultCommands(family, statusPath string) []models.VerificationCommand {
	switch family {
	case "typescript":
		return []models.VerificationCommand{{
			Command:     "npm run typecheck",
			Expectation: models.ExpectSuccess,
			Description: "TypeScript compilation must succeed",
			Critical:    true,
			Timeout:     defaultCommandTimeout,
		}}
	case "test":
		return []models.VerificationCommand{{
			Command:     "npm test",
			Expectation: models.ExpectSuccess,
			Description: "test suite must pass",
			Critical:    true,
			Timeout:     defaultCommandTimeout,
		}}
	case "build":
		return []models.VerificationCommand{{
			Command:     "npm run build",
			Expectation: models.ExpectSuccess,
			Description: "build must succeed",
			Critical:    true,
			Timeout:     defaultCommandTimeout,
		}}
	default:
		return []models.VerificationCommand{{
			Command:     fmt.Sprintf("grep -q '\"spawned\"' %s", statusPath),
			Expectation: models.ExpectSuccess,
			Description: "status document records subprocess spawns",
			Critical:    false,
			Timeout:     10 * time.Second,
		}}
	}
}
