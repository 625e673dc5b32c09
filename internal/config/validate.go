package config

import (
	_ "embed"
	"fmt"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	cueerrors "cuelang.org/go/cue/errors"
	"cuelang.org/go/cue/token"
	cueyaml "cuelang.org/go/encoding/yaml"
)

//go:embed schema.cue
var schemaCUE string

// Error code constants, unified across all CLI commands.
const (
	ErrCodeGeneric  = "E001" // unknown error
	ErrCodeNotFound = "E002" // campaign file not found
	ErrCodeSyntax   = "E003" // YAML syntax error
	ErrCodeSchema   = "E004" // schema violation
	ErrCodeConflict = "E005" // cross-field conflict
	ErrCodeInput    = "E006" // referenced input path missing
)

// SchemaError is a positioned campaign validation error.
type SchemaError struct {
	Code    string
	Message string
	Pos     token.Pos
}

func (e *SchemaError) Error() string {
	if e.Pos.IsValid() {
		return fmt.Sprintf("%s:%d:%d: %s: %s",
			e.Pos.Filename(), e.Pos.Line(), e.Pos.Column(), e.Code, e.Message)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// ValidateBytes checks campaign YAML against the embedded CUE schema.
// Returns all violations, not just the first.
func ValidateBytes(filename string, data []byte) []error {
	ctx := cuecontext.New()

	schema := ctx.CompileString(schemaCUE, cue.Filename("schema.cue"))
	if err := schema.Err(); err != nil {
		// The schema is embedded; failing to compile it is a build defect.
		return []error{&SchemaError{Code: ErrCodeGeneric, Message: fmt.Sprintf("schema compile: %v", err)}}
	}
	def := schema.LookupPath(cue.ParsePath("#Campaign"))
	if !def.Exists() {
		return []error{&SchemaError{Code: ErrCodeGeneric, Message: "schema missing #Campaign"}}
	}

	file, err := cueyaml.Extract(filename, data)
	if err != nil {
		return []error{&SchemaError{Code: ErrCodeSyntax, Message: err.Error()}}
	}
	val := ctx.BuildFile(file)
	if err := val.Err(); err != nil {
		return []error{&SchemaError{Code: ErrCodeSyntax, Message: err.Error()}}
	}

	unified := def.Unify(val)
	if err := unified.Validate(cue.Concrete(true)); err != nil {
		var errs []error
		for _, e := range cueerrors.Errors(err) {
			errs = append(errs, &SchemaError{
				Code:    ErrCodeSchema,
				Message: e.Error(),
				Pos:     e.Position(),
			})
		}
		return errs
	}
	return nil
}

// validateCross checks constraints the schema cannot express.
func validateCross(c *Campaign) []error {
	var errs []error
	if len(c.Sim.PosresFC) != len(c.Sim.EquilChain) {
		errs = append(errs, &SchemaError{
			Code: ErrCodeConflict,
			Message: fmt.Sprintf(
				"simulation.posres_fc has %d entries for %d equilibration stages",
				len(c.Sim.PosresFC), len(c.Sim.EquilChain)),
		})
	}
	if n := len(c.Sim.PosresFC); n > 0 && c.Sim.PosresFC[n-1] != 0 {
		errs = append(errs, &SchemaError{
			Code:    ErrCodeConflict,
			Message: "last equilibration stage must be unrestrained (posres_fc ending in 0)",
		})
	}
	return errs
}
