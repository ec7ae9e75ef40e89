package manifest

import (
	"fmt"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
)

// manifestSchema constrains a loaded manifest beyond what TOML decoding
// checks: the project needs a name, versions follow semver-ish shape, and
// interpreter limits must be positive.
const manifestSchema = `
{
	project: {
		name:    string & !=""
		version: string & (=~"^[0-9]+\\.[0-9]+(\\.[0-9]+)?$" | "")
	}
	source: {
		dirs:  [...string & !=""]
		entry: string
	}
	image: {
		output: string
	}
	runtime: {
		hotThreshold:   int & >0
		recursionLimit: int & >0
		cachePath:      string
	}
}
`

// Validate checks the manifest against the schema, reporting the first
// violation found.
func (m *Manifest) Validate() error {
	ctx := cuecontext.New()
	schema := ctx.CompileString(manifestSchema)
	if err := schema.Err(); err != nil {
		return fmt.Errorf("manifest schema: %w", err)
	}

	val := schema.Unify(ctx.Encode(m))
	if err := val.Validate(cue.Concrete(true)); err != nil {
		return err
	}
	return nil
}
