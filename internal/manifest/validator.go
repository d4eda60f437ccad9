package manifest

import (
	"fmt"
	"regexp"
	"strings"
	"sync"

	"github.com/go-playground/validator/v10"

	apperrors "github.com/agentdag/agentdag/pkg/errors"
)

var (
	validatorOnce sync.Once
	validateInst  *validator.Validate

	semverPattern        = regexp.MustCompile(`^\d+\.\d+(?:\.\d+)?(?:-[0-9A-Za-z-.]+)?(?:\+[0-9A-Za-z-.]+)?$`)
	manifestIDPattern    = regexp.MustCompile(`^[a-z0-9_]+$`)
	providerModelPattern = regexp.MustCompile(`^[a-z0-9_-]+/[a-zA-Z0-9_.:-]+$`)
)

func validatorInstance() *validator.Validate {
	validatorOnce.Do(func() {
		v := validator.New()

		_ = v.RegisterValidation("semver", func(fl validator.FieldLevel) bool {
			return semverPattern.MatchString(fl.Field().String())
		})
		_ = v.RegisterValidation("manifest_id", func(fl validator.FieldLevel) bool {
			return manifestIDPattern.MatchString(fl.Field().String())
		})
		_ = v.RegisterValidation("provider_model", func(fl validator.FieldLevel) bool {
			return providerModelPattern.MatchString(fl.Field().String())
		})

		validateInst = v
	})
	return validateInst
}

// ValidateManifest performs schema and cross-field validation. Structural
// graph invariants (acyclicity, degree constraints, reachability) are not
// checked here; those belong to dag.Build once the manifest converts cleanly.
func ValidateManifest(m *Manifest) error {
	if m == nil {
		return apperrors.NewValidationError("manifest", "manifest is nil", nil)
	}

	v := validatorInstance()
	if err := v.Struct(m); err != nil {
		return convertValidationError(err)
	}

	nodeIndex := make(map[string]int, len(m.Nodes))
	for i, n := range m.Nodes {
		if _, exists := nodeIndex[n.ID]; exists {
			return apperrors.NewValidationError(fieldForNode(i, "id"), fmt.Sprintf("duplicate node id %q", n.ID), nil)
		}
		nodeIndex[n.ID] = i
		if n.Kind == "agent" && n.AgentID == "" {
			return apperrors.NewValidationError(fieldForNode(i, "agent_id"), fmt.Sprintf("agent node %q requires agent_id", n.ID), nil)
		}
	}

	defaultStarts := 0
	for _, n := range m.Nodes {
		if n.DefaultStart {
			defaultStarts++
		}
	}
	if defaultStarts != 1 {
		return apperrors.NewValidationError("nodes", fmt.Sprintf("exactly one node must set default_start=true, found %d", defaultStarts), nil)
	}

	agentIndex := make(map[string]struct{}, len(m.Agents))
	for i, a := range m.Agents {
		if _, exists := agentIndex[a.ID]; exists {
			return apperrors.NewValidationError(fieldForAgent(i, "id"), fmt.Sprintf("duplicate agent id %q", a.ID), nil)
		}
		agentIndex[a.ID] = struct{}{}
	}

	toolIndex := make(map[string]struct{}, len(m.Tools))
	for i, tl := range m.Tools {
		if _, exists := toolIndex[tl.ID]; exists {
			return apperrors.NewValidationError(fieldForTool(i, "id"), fmt.Sprintf("duplicate tool id %q", tl.ID), nil)
		}
		toolIndex[tl.ID] = struct{}{}
	}

	for i, p := range m.ContextProfiles {
		sum := 0.0
		for _, w := range p.TierWeights {
			sum += w
		}
		if sum < 0.999 || sum > 1.001 {
			return apperrors.NewValidationError(fmt.Sprintf("context_profiles[%d].tier_weights", i), fmt.Sprintf("profile %q tier_weights must sum to 1, got %f", p.ID, sum), nil)
		}
	}

	return nil
}

func fieldForNode(i int, field string) string {
	return fmt.Sprintf("nodes[%d].%s", i, field)
}

func fieldForAgent(i int, field string) string {
	return fmt.Sprintf("agents[%d].%s", i, field)
}

func fieldForTool(i int, field string) string {
	return fmt.Sprintf("tools[%d].%s", i, field)
}

func convertValidationError(err error) error {
	verrs, ok := err.(validator.ValidationErrors)
	if !ok || len(verrs) == 0 {
		return apperrors.NewValidationError("manifest", err.Error(), err)
	}
	fe := verrs[0]
	field := strings.TrimPrefix(fe.Namespace(), "Manifest.")
	return apperrors.NewValidationError(field, fmt.Sprintf("failed %q validation on field %q", fe.Tag(), field), err)
}
