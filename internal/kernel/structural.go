package kernel

import (
	_ "embed"
	"fmt"
	"strings"

	"github.com/Masterminds/semver/v3"
	"github.com/santhosh-tekuri/jsonschema/v5"

	"github.com/roach88/claimgov/internal/model"
)

//go:embed contract.schema.json
var contractSchema string

const contractSchemaURL = "https://claimgov.schemas.local/contract.schema.json"

// requiredFiles lists the bundle files each contract line must carry,
// keyed by "<major>.<minor>".
var requiredFiles = map[string][]string{
	"0.1": {model.FileContract, model.FileApproval, model.FileManifest},
}

// StructuralStage checks the artifact against the run contract.
type StructuralStage struct {
	version        string
	constraint     *semver.Constraints
	constraintText string
	schema         *jsonschema.Schema
}

// NewStructuralStage accepts artifacts whose contract version equals
// version, or, when constraint is non-empty, satisfies the semver constraint.
func NewStructuralStage(version, constraint string) (*StructuralStage, error) {
	s := &StructuralStage{version: version}

	if constraint != "" {
		c, err := semver.NewConstraint(constraint)
		if err != nil {
			return nil, fmt.Errorf("invalid contract version constraint %q: %w", constraint, err)
		}
		s.constraint = c
		s.constraintText = constraint
	}

	c := jsonschema.NewCompiler()
	c.Draft = jsonschema.Draft2020
	if err := c.AddResource(contractSchemaURL, strings.NewReader(contractSchema)); err != nil {
		return nil, fmt.Errorf("contract schema load failed: %w", err)
	}
	compiled, err := c.Compile(contractSchemaURL)
	if err != nil {
		return nil, fmt.Errorf("contract schema compile failed: %w", err)
	}
	s.schema = compiled
	return s, nil
}

// ID implements Stage.
func (s *StructuralStage) ID() model.StageID { return model.StageStructural }

// Check implements Stage.
func (s *StructuralStage) Check(in Input) Result {
	art := in.Artifact
	var reasons []string

	v, err := semver.NewVersion(art.ContractVersion)
	switch {
	case art.ContractVersion == "":
		reasons = append(reasons, "contract version missing")
	case err != nil:
		reasons = append(reasons, fmt.Sprintf("contract version %q is not a semantic version", art.ContractVersion))
	case s.constraint != nil && !s.constraint.Check(v):
		reasons = append(reasons, fmt.Sprintf("contract version %s does not satisfy %s", art.ContractVersion, s.constraintText))
	case s.constraint == nil && art.ContractVersion != s.version:
		reasons = append(reasons, fmt.Sprintf("contract version %s does not match expected %s", art.ContractVersion, s.version))
	}

	if art.Descriptor != nil {
		if err := s.schema.Validate(art.Descriptor); err != nil {
			reasons = append(reasons, schemaReasons(err)...)
		}
	}

	if v != nil {
		line := fmt.Sprintf("%d.%d", v.Major(), v.Minor())
		files, ok := requiredFiles[line]
		if !ok {
			reasons = append(reasons, fmt.Sprintf("no structural profile for contract line %s", line))
		}
		for _, name := range files {
			switch val := art.StructuralFields[name].(type) {
			case bool:
				if !val {
					reasons = append(reasons, fmt.Sprintf("required file %s missing", name))
				}
			case string:
				reasons = append(reasons, fmt.Sprintf("required file %s %s", name, val))
			default:
				reasons = append(reasons, fmt.Sprintf("required file %s missing", name))
			}
		}
	}

	if art.RunID == "" {
		reasons = append(reasons, "run id missing")
	}

	return result(model.StageStructural, reasons)
}

// schemaReasons flattens a schema validation error into one reason per leaf.
func schemaReasons(err error) []string {
	ve, ok := err.(*jsonschema.ValidationError)
	if !ok {
		return []string{"contract descriptor: " + err.Error()}
	}
	var out []string
	for _, unit := range ve.BasicOutput().Errors {
		if unit.Error == "" || strings.HasPrefix(unit.Error, "doesn't validate with") {
			continue
		}
		loc := unit.InstanceLocation
		if loc == "" {
			loc = "/"
		}
		out = append(out, fmt.Sprintf("contract descriptor %s: %s", loc, unit.Error))
	}
	if len(out) == 0 {
		out = append(out, "contract descriptor: "+ve.Error())
	}
	return out
}
