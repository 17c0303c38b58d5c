package cli

import (
	"reflect"

	"github.com/spf13/pflag"

	"github.com/tencdm/tencdm/pkg/config/definition"
)

// registerArgFlags adds one flag per training argument in the registry.
func registerArgFlags(flags *pflag.FlagSet, registry *definition.Registry) {
	for _, field := range registry.WithPrefix("args") {
		if field.CLIFlag == "" {
			continue
		}
		switch field.Type.Kind() {
		case reflect.Int:
			v, _ := field.Default.(int)
			flags.IntP(field.CLIFlag, field.Shorthand, v, field.Help)
		case reflect.Float64:
			v, _ := field.Default.(float64)
			flags.Float64P(field.CLIFlag, field.Shorthand, v, field.Help)
		case reflect.Bool:
			v, _ := field.Default.(bool)
			flags.BoolP(field.CLIFlag, field.Shorthand, v, field.Help)
		default:
			v, _ := field.Default.(string)
			flags.StringP(field.CLIFlag, field.Shorthand, v, field.Help)
		}
	}
}

// changedArgFlags returns the explicitly set argument flags keyed by flag name.
// Values stay in their string form; decoding is weakly typed.
func changedArgFlags(flags *pflag.FlagSet) map[string]any {
	known := definition.CreateRegistry().GetCLIFlagMapping()
	out := make(map[string]any)
	flags.Visit(func(f *pflag.Flag) {
		if _, ok := known[f.Name]; ok {
			out[f.Name] = f.Value.String()
		}
	})
	return out
}
