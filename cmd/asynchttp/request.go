package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"
	"github.com/studiowebux/asynchttp/internal/cli"
	"github.com/studiowebux/asynchttp/internal/types"
)

var methods = []string{
	types.MethodGet,
	types.MethodPost,
	types.MethodPut,
	types.MethodDelete,
	types.MethodHead,
	types.MethodOptions,
	types.MethodPatch,
}

// methodCommands returns one command per HTTP method, e.g. "get <url>"
func methodCommands() []*cobra.Command {
	cmds := make([]*cobra.Command, 0, len(methods))
	for _, method := range methods {
		cmd := &cobra.Command{
			Use:   strings.ToLower(method) + " <url>",
			Short: fmt.Sprintf("Send a %s request to url", method),
			Args:  cobra.ExactArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				return runURL(cmd, method, args[0])
			},
		}
		addRequestFlags(cmd)
		cmds = append(cmds, cmd)
	}
	return cmds
}

func runURL(cmd *cobra.Command, method, url string) error {
	a, err := newApp(true)
	if err != nil {
		return err
	}
	defer a.close()

	def := types.RequestDefinition{Method: method, URL: url}
	_, err = cli.RunDirect(cmd.Context(), a.env, def, runOptions())
	return err
}
