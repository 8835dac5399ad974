package conf

import (
	"fmt"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

// configKeyAnnotation marks a flag with the settings key it sets.
const configKeyAnnotation = "clipscan/config-key"

// MapFlag records that flag name sets the settings key. The binding takes
// effect when BindFlags runs.
func MapFlag(flags *pflag.FlagSet, name, key string) {
	if err := flags.SetAnnotation(name, configKeyAnnotation, []string{key}); err != nil {
		panic(fmt.Sprintf("conf: cannot map undefined flag %q", name))
	}
}

// BindFlags binds every mapped flag of flags to viper, so a flag given on the
// command line takes precedence over the environment, the config file and
// the defaults.
func BindFlags(flags *pflag.FlagSet) error {
	var bindErr error
	flags.VisitAll(func(f *pflag.Flag) {
		keys := f.Annotations[configKeyAnnotation]
		if len(keys) == 0 || bindErr != nil {
			return
		}
		if err := viper.BindPFlag(keys[0], f); err != nil {
			bindErr = fmt.Errorf("error binding flag %s: %w", f.Name, err)
		}
	})
	return bindErr
}
