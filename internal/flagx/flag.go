// Package flagx lets several independent flag sets share one command line.
// Each consumer keeps only the flags it owns and parses them with its own
// flag.FlagSet, so the server config, the config file switch and the
// one-shot task flags never reject each other's arguments.
package flagx

import (
	"flag"
	"os"
	"strings"
)

// isFlag reports whether arg looks like a flag rather than a value.
func isFlag(arg string) bool {
	return strings.HasPrefix(arg, "-")
}

// flagName returns the name part of arg and whether the value is inline
// ("-src=a.mp4").
func flagName(arg string) (string, bool) {
	name, _, inline := strings.Cut(arg, "=")
	return name, inline
}

// takesValue reports whether the argument at i is a separate-form flag
// followed by its value.
func takesValue(args []string, i int) bool {
	_, inline := flagName(args[i])
	return !inline && i+1 < len(args) && !isFlag(args[i+1])
}

// FilterArgs keeps the arguments of allowedFlags, in order, together with
// their values. Both "-src a.mp4" and "-src=a.mp4" forms are recognised; a
// token starting with "-" is never taken as a value.
func FilterArgs(args []string, allowedFlags []string) []string {
	allowed := make(map[string]struct{}, len(allowedFlags))
	for _, f := range allowedFlags {
		allowed[f] = struct{}{}
	}

	filtered := make([]string, 0, len(args))
	for i := 0; i < len(args); i++ {
		arg := args[i]
		if !isFlag(arg) {
			continue
		}
		name, _ := flagName(arg)
		_, keep := allowed[name]
		if keep {
			filtered = append(filtered, arg)
		}
		if keep && takesValue(args, i) {
			filtered = append(filtered, args[i+1])
			i++
		}
	}
	return filtered
}

// JsonConfigFlags extracts the config file path given with -c or -config.
// It returns "" when neither flag is present.
func JsonConfigFlags() string {
	var config string

	args := FilterArgs(os.Args[1:], []string{"-c", "-config"})

	fs := flag.NewFlagSet("json", flag.ContinueOnError)
	fs.StringVar(&config, "config", "", "Path to config file")
	fs.StringVar(&config, "c", "", "Path to config file (short)")
	_ = fs.Parse(args)

	return config
}

// Mode returns the first positional argument in args that names one of
// modes, or def when there is none. Flag values are not considered
// positional, so "-f upload.yaml" does not select "upload".
func Mode(args []string, def string, modes ...string) string {
	known := make(map[string]struct{}, len(modes))
	for _, m := range modes {
		known[m] = struct{}{}
	}

	for i := 0; i < len(args); i++ {
		arg := args[i]
		if isFlag(arg) {
			if takesValue(args, i) {
				i++
			}
			continue
		}
		if _, ok := known[arg]; ok {
			return arg
		}
	}
	return def
}
