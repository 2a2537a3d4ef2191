package cmd

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/abramin/flowseq/internal/index"
	"github.com/abramin/flowseq/internal/sequence"
	"github.com/abramin/flowseq/internal/session"
	"github.com/abramin/flowseq/internal/store"
)

var (
	seqProject       string
	seqFromIndex     bool
	seqDepth         int
	seqUnresolved    bool
	seqCoalesce      bool
	seqExcludeTypes  []string
	seqExcludeMethod []string
	seqOutput        string
	seqDiffAgainst   string
)

var sequenceCmd = &cobra.Command{
	Use:   "sequence <function>",
	Short: "Print the sequence diagram of a function",
	Long: `Build the sequence diagram rooted at a function and print its canonical
text form.

The function is named by its key ("example.com/app.Service.Run(string)"),
its key without parameters ("example.com/app.Service.Run") or its SSA name
("(*example.com/app.Service).Run").

By default the project is loaded from source. With --from-index the diagram
is built from .flowseq/index.db written by "flowseq index".`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg := GetConfig()

		params := cfg.Params()
		if cmd.Flags().Changed("depth") {
			params.MaxDepth = seqDepth
		}
		if cmd.Flags().Changed("include-unresolved") {
			params.IncludeUnresolved = seqUnresolved
		}
		if cmd.Flags().Changed("coalesce") {
			params.CoalesceRepeats = seqCoalesce
		}

		rules, err := cfg.FilterRules()
		if err != nil {
			return err
		}
		for _, t := range seqExcludeTypes {
			rules = append(rules, sequence.ExcludeType(t))
		}
		for _, m := range seqExcludeMethod {
			r, err := sequence.ParseMethodRule(m)
			if err != nil {
				return err
			}
			rules = append(rules, r)
		}
		filters, err := sequence.NewFilterChain(rules...)
		if err != nil {
			return err
		}

		model, closeModel, err := openCodeModel(seqProject, seqFromIndex)
		if err != nil {
			return err
		}
		defer closeModel()

		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		sess := session.New(sequence.Handle(args[0]), params, filters, model, session.WithID("cli"))
		defer sess.Close()

		res, err := sess.Regenerate(ctx)
		if err != nil {
			return fmt.Errorf("building diagram: %w", err)
		}

		out := res.Text
		if seqDiffAgainst != "" {
			old, err := os.ReadFile(seqDiffAgainst)
			if err != nil {
				return fmt.Errorf("reading previous diagram: %w", err)
			}
			if sequence.Equal(string(old), res.Text) {
				fmt.Fprintln(os.Stderr, "diagram unchanged")
				return nil
			}
			if out, err = sequence.Diff(string(old), res.Text); err != nil {
				return err
			}
		}

		if seqOutput != "" {
			return os.WriteFile(seqOutput, []byte(out), 0644)
		}
		_, err = fmt.Fprint(os.Stdout, out)
		return err
	},
}

// openCodeModel loads the project from source or opens its index.
func openCodeModel(project string, fromIndex bool) (sequence.CodeModel, func(), error) {
	if fromIndex {
		st, err := store.Open(project)
		if err != nil {
			return nil, nil, fmt.Errorf("opening store: %w", err)
		}
		cm, err := st.CodeModel()
		if err != nil {
			st.Close()
			return nil, nil, err
		}
		return cm, func() { st.Close() }, nil
	}

	loader := index.NewLoader(GetConfig(), project)
	if err := loader.Load(); err != nil {
		return nil, nil, fmt.Errorf("loading packages: %w", err)
	}
	snap, err := index.NewSnapshot(loader)
	if err != nil {
		return nil, nil, err
	}
	return snap, func() {}, nil
}

func init() {
	rootCmd.AddCommand(sequenceCmd)
	f := sequenceCmd.Flags()
	f.StringVarP(&seqProject, "project", "C", ".", "project directory")
	f.BoolVar(&seqFromIndex, "from-index", false, "build from the index instead of loading sources")
	f.IntVarP(&seqDepth, "depth", "d", sequence.DefaultMaxDepth, "maximum call nesting depth")
	f.BoolVar(&seqUnresolved, "include-unresolved", false, "show interface and function-value calls")
	f.BoolVar(&seqCoalesce, "coalesce", false, "show repeated calls from the same caller once")
	f.StringArrayVar(&seqExcludeTypes, "exclude-type", nil, "hide a type (trailing * matches a prefix)")
	f.StringArrayVar(&seqExcludeMethod, "exclude-method", nil, "hide a method: Type.Method or Type.Method(p1,p2)")
	f.StringVarP(&seqOutput, "output", "o", "", "write the diagram to a file")
	f.StringVar(&seqDiffAgainst, "diff", "", "print a unified diff against a previously saved diagram")
}
