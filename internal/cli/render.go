package cli

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/alchemlab/abfe/internal/mdp"
)

// NewRenderCommand creates the render command.
func NewRenderCommand(rootOpts *RootOptions) *cobra.Command {
	var sets []string

	cmd := &cobra.Command{
		Use:   "render [template]",
		Short: "Render an mdp template, or list templates",
		Long: `Render one of the built-in mdp templates with --set substitutions and
print the result. Without a template name, lists the templates and
their placeholders.`,
		Args:          cobra.MaximumNArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			if len(args) == 0 {
				return listTemplates(cmd)
			}
			return runRender(cmd, args[0], sets)
		},
	}
	cmd.Flags().StringArrayVar(&sets, "set", nil, "substitution KEY=VALUE (repeatable)")
	return cmd
}

func listTemplates(cmd *cobra.Command) error {
	w := cmd.OutOrStdout()
	for _, name := range mdp.TemplateNames() {
		keys, err := mdp.Placeholders(name)
		if err != nil {
			return WrapExitError(ExitFailure, "template inspection failed", err)
		}
		fmt.Fprintf(w, "%-6s %s\n", name, strings.Join(keys, " "))
	}
	return nil
}

func runRender(cmd *cobra.Command, name string, sets []string) error {
	subs := make(map[string]string, len(sets))
	for _, kv := range sets {
		k, v, ok := strings.Cut(kv, "=")
		if !ok {
			return NewExitError(ExitCommandError, fmt.Sprintf("bad --set %q, want KEY=VALUE", kv))
		}
		subs[k] = v
	}

	doc, err := mdp.Render(name, subs)
	if err != nil {
		return WrapExitError(ExitFailure, "render failed", err)
	}
	fmt.Fprint(cmd.OutOrStdout(), doc.String())
	return nil
}
