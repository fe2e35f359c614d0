// Command keygen prints fresh MRTD_RESULT_KEY and MRTD_API_TOKEN values in
// env file format.
package main

import (
	"flag"
	"fmt"
	"io"
	"os"

	"mrtdreader/pkg/secrets"
)

func main() {
	if err := run(os.Args[1:], os.Stdout); err != nil {
		fmt.Fprintln(os.Stderr, "keygen:", err)
		os.Exit(1)
	}
}

func run(args []string, stdout io.Writer) error {
	fs := flag.NewFlagSet("keygen", flag.ContinueOnError)
	size := fs.Int("size", secrets.DefaultSize, "random bytes per secret (minimum 32)")
	only := fs.String("only", "", "print only one variable: result-key or api-token")
	if err := fs.Parse(args); err != nil {
		return err
	}

	vars := []struct{ flag, name string }{
		{"result-key", "MRTD_RESULT_KEY"},
		{"api-token", "MRTD_API_TOKEN"},
	}
	printed := 0
	for _, v := range vars {
		if *only != "" && *only != v.flag {
			continue
		}
		value, err := secrets.Generate(*size)
		if err != nil {
			return err
		}
		fmt.Fprintf(stdout, "%s=%s\n", v.name, value)
		printed++
	}
	if printed == 0 {
		return fmt.Errorf("unknown -only value %q", *only)
	}
	return nil
}
