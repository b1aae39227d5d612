package main

import (
	"fmt"
	"io"
	"os"

	"learnassist/src/app"
	"learnassist/src/model"

	"github.com/spf13/cobra"
)

func sessionCmd() *cobra.Command {
	cmd := &cobra.Command{Use: "session", Short: "Manage study sessions"}

	var (
		userID, mode, title, sample string
	)
	create := &cobra.Command{
		Use:   "create",
		Short: "Create a session",
		RunE: func(cmd *cobra.Command, args []string) error {
			sess, err := application.CreateSession(cmd.Context(), userID, model.Mode(mode), title, sample)
			if err != nil {
				return err
			}
			return printJSON(sess)
		},
	}
	create.Flags().StringVar(&userID, "user", "", "owner of the session")
	create.Flags().StringVar(&mode, "mode", "", "literature or science; detected from --sample when empty")
	create.Flags().StringVar(&title, "title", "", "session title")
	create.Flags().StringVar(&sample, "sample", "", "sample content used for mode detection")

	get := &cobra.Command{
		Use:   "get <session-id>",
		Short: "Show a session",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			sess, err := application.Store.GetSession(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			return printJSON(sess)
		},
	}

	var filter model.SessionFilter
	var status, listMode string
	list := &cobra.Command{
		Use:   "list",
		Short: "List sessions",
		RunE: func(cmd *cobra.Command, args []string) error {
			filter.Status = model.SessionStatus(status)
			filter.Mode = model.Mode(listMode)
			sessions, total, err := application.Store.ListSessions(cmd.Context(), filter)
			if err != nil {
				return err
			}
			return printJSON(map[string]any{"sessions": sessions, "total": total, "page": filter.Page})
		},
	}
	list.Flags().StringVar(&filter.UserID, "user", "", "filter by owner")
	list.Flags().StringVar(&status, "status", "", "filter by status (active, deleted)")
	list.Flags().StringVar(&listMode, "mode", "", "filter by mode")
	list.Flags().IntVar(&filter.Page, "page", 1, "page number")
	list.Flags().IntVar(&filter.Limit, "limit", 20, "page size")

	del := &cobra.Command{
		Use:   "delete <session-id>",
		Short: "Soft-delete a session",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := application.DeleteSession(cmd.Context(), args[0]); err != nil {
				return err
			}
			return printJSON(map[string]any{"session_id": args[0], "deleted": true})
		},
	}

	switchMode := &cobra.Command{
		Use:   "mode <session-id> <mode>",
		Short: "Switch the mode of a session",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			sw, err := application.SwitchMode(cmd.Context(), args[0], model.Mode(args[1]))
			if err != nil {
				return err
			}
			return printJSON(sw)
		},
	}

	cmd.AddCommand(create, get, list, del, switchMode)
	return cmd
}

func syncCmd() *cobra.Command {
	var (
		file       string
		expected   int
		start, end int
	)
	cmd := &cobra.Command{
		Use:   "sync <session-id>",
		Short: "Save the document as a new version",
		Long:  "Reads the document from --file, or stdin when --file is not given.",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			content, err := readContent(file)
			if err != nil {
				return err
			}
			req := model.SyncRequest{SessionID: args[0], Content: content}
			if cmd.Flags().Changed("version") {
				req.ExplicitVersion = &expected
			}
			if cmd.Flags().Changed("range-start") || cmd.Flags().Changed("range-end") {
				req.ChangedRange = &model.Range{Start: start, End: end}
			}
			v, err := application.Store.Sync(cmd.Context(), req)
			if err != nil {
				return err
			}
			return printJSON(v)
		},
	}
	cmd.Flags().StringVar(&file, "file", "", "file holding the document")
	cmd.Flags().IntVar(&expected, "version", 0, "version number this write expects to create")
	cmd.Flags().IntVar(&start, "range-start", 0, "start of the changed range")
	cmd.Flags().IntVar(&end, "range-end", 0, "end of the changed range")
	return cmd
}

func readContent(file string) (string, error) {
	var (
		data []byte
		err  error
	)
	if file == "" {
		data, err = io.ReadAll(os.Stdin)
	} else {
		data, err = os.ReadFile(file)
	}
	if err != nil {
		return "", fmt.Errorf("failed to read document: %w", err)
	}
	return string(data), nil
}

func rollbackCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "rollback <session-id> <version>",
		Short: "Append a copy of an earlier version",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			var target int
			if _, err := fmt.Sscan(args[1], &target); err != nil {
				return model.NewValidationError("version", "must be an integer")
			}
			v, err := application.Store.RollbackTo(cmd.Context(), args[0], target)
			if err != nil {
				return err
			}
			return printJSON(v)
		},
	}
}

func historyCmd() *cobra.Command {
	var from, to, limit int
	cmd := &cobra.Command{
		Use:   "history <session-id>",
		Short: "List versions, newest first",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			q := model.HistoryQuery{Limit: limit}
			if cmd.Flags().Changed("from") {
				q.From = &from
			}
			if cmd.Flags().Changed("to") {
				q.To = &to
			}
			versions, err := application.Store.History(cmd.Context(), args[0], q)
			if err != nil {
				return err
			}
			return printJSON(versions)
		},
	}
	cmd.Flags().IntVar(&from, "from", 0, "oldest version to include")
	cmd.Flags().IntVar(&to, "to", 0, "newest version to include")
	cmd.Flags().IntVar(&limit, "limit", 0, "maximum number of versions")
	return cmd
}

func diffCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "diff <session-id> <from> <to>",
		Short: "Summarize changes between two versions",
		Args:  cobra.ExactArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			var from, to int
			if _, err := fmt.Sscan(args[1], &from); err != nil {
				return model.NewValidationError("from", "must be an integer")
			}
			if _, err := fmt.Sscan(args[2], &to); err != nil {
				return model.NewValidationError("to", "must be an integer")
			}
			diff, err := application.Store.Diff(cmd.Context(), args[0], from, to)
			if err != nil {
				return err
			}
			return printJSON(diff)
		},
	}
}

func statsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "stats <session-id>",
		Short: "Show version statistics and chain integrity",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			stats, err := application.Store.Statistics(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			checked, verr := application.Store.VerifyChain(cmd.Context(), args[0])
			out := map[string]any{"statistics": stats, "verified_versions": checked, "chain_intact": verr == nil}
			if verr != nil {
				out["chain_error"] = verr.Error()
			}
			return printJSON(out)
		},
	}
}

func analyzeCmd() *cobra.Command {
	var (
		session, requestID string
		inputs             []string
	)
	cmd := &cobra.Command{
		Use:   "analyze <task>",
		Short: "Run one analysis against a session",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			parsed, err := parseInputs(inputs)
			if err != nil {
				return err
			}
			result, err := application.Analyze(cmd.Context(), session, requestID, app.TaskRequest{Task: args[0], Inputs: parsed})
			if err != nil {
				return err
			}
			return printJSON(result)
		},
	}
	cmd.Flags().StringVar(&session, "session", "", "session id")
	cmd.Flags().StringVar(&requestID, "request", "", "request id (generated when empty)")
	cmd.Flags().StringArrayVar(&inputs, "input", nil, "analysis input as key=value; repeatable")
	cmd.MarkFlagRequired("session")
	return cmd
}

// batchCmd builds a command taking task tokens as arguments. For a chain the
// --input values go to the first step only; parallel tasks all receive them.
func batchCmd(use, short string, run func(cmd *cobra.Command, session, requestID string, reqs []app.TaskRequest) error) *cobra.Command {
	var (
		session, requestID string
		inputs             []string
	)
	cmd := &cobra.Command{
		Use:   use + " <task>...",
		Short: short,
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			parsed, err := parseInputs(inputs)
			if err != nil {
				return err
			}
			reqs := make([]app.TaskRequest, 0, len(args))
			for i, task := range args {
				req := app.TaskRequest{Task: task}
				if i == 0 || use == "parallel" {
					req.Inputs = parsed
				}
				reqs = append(reqs, req)
			}
			return run(cmd, session, requestID, reqs)
		},
	}
	cmd.Flags().StringVar(&session, "session", "", "session id")
	cmd.Flags().StringVar(&requestID, "request", "", "request id (generated when empty)")
	cmd.Flags().StringArrayVar(&inputs, "input", nil, "input as key=value; repeatable")
	cmd.MarkFlagRequired("session")
	return cmd
}

func chainCmd() *cobra.Command {
	return batchCmd("chain", "Run analyses in order, feeding each result forward",
		func(cmd *cobra.Command, session, requestID string, reqs []app.TaskRequest) error {
			result, err := application.Chain(cmd.Context(), session, requestID, reqs)
			if err != nil {
				return err
			}
			return printJSON(result)
		})
}

func parallelCmd() *cobra.Command {
	return batchCmd("parallel", "Run analyses concurrently",
		func(cmd *cobra.Command, session, requestID string, reqs []app.TaskRequest) error {
			results, err := application.Parallel(cmd.Context(), session, requestID, reqs)
			if err != nil {
				return err
			}
			return printJSON(results)
		})
}

func detectModeCmd() *cobra.Command {
	var file string
	cmd := &cobra.Command{
		Use:   "detect-mode",
		Short: "Detect the learning mode of a document",
		RunE: func(cmd *cobra.Command, args []string) error {
			content, err := readContent(file)
			if err != nil {
				return err
			}
			return printJSON(map[string]any{"mode": application.Router.DetectMode(cmd.Context(), content)})
		},
	}
	cmd.Flags().StringVar(&file, "file", "", "file holding the document; stdin when empty")
	return cmd
}

func resultsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "results",
		Short: "Inspect analysis results stored against document versions",
	}

	get := &cobra.Command{
		Use:   "get <session-id> <version> <kind>",
		Short: "Show the stored result of one kind for a version",
		Args:  cobra.ExactArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			version, err := parseVersion(args[1])
			if err != nil {
				return err
			}
			rec, err := application.Store.GetAnalysis(cmd.Context(), args[0], version, model.Kind(args[2]))
			if err != nil {
				return err
			}
			return printJSON(rec)
		},
	}

	structure := &cobra.Command{
		Use:   "structure <session-id> <version> <kind>",
		Short: "Summarize a stored structure or logic tree",
		Args:  cobra.ExactArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			version, err := parseVersion(args[1])
			if err != nil {
				return err
			}
			sum, err := application.Store.StructureSummary(cmd.Context(), args[0], version, model.Kind(args[2]))
			if err != nil {
				return err
			}
			return printJSON(sum)
		},
	}

	annotations := &cobra.Command{
		Use:   "annotations <session-id> [version]",
		Short: "List the annotations of a version, or a session's annotation statistics",
		Args:  cobra.RangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			if len(args) == 1 {
				stats, err := application.Store.AnnotationStatistics(cmd.Context(), args[0])
				if err != nil {
					return err
				}
				return printJSON(stats)
			}
			version, err := parseVersion(args[1])
			if err != nil {
				return err
			}
			list, err := application.Store.Annotations(cmd.Context(), args[0], version)
			if err != nil {
				return err
			}
			return printJSON(list)
		},
	}

	resolve := &cobra.Command{
		Use:   "resolve <annotation-id> <accepted|rejected|ignored>",
		Short: "Record the decision on an annotation",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			var id int64
			if _, err := fmt.Sscan(args[0], &id); err != nil {
				return model.NewValidationError("annotation_id", "must be an integer")
			}
			a, err := application.Store.ResolveAnnotation(cmd.Context(), id, args[1])
			if err != nil {
				return err
			}
			return printJSON(a)
		},
	}

	cmd.AddCommand(get, structure, annotations, resolve)
	return cmd
}

func parseVersion(arg string) (int, error) {
	var v int
	if _, err := fmt.Sscan(arg, &v); err != nil {
		return 0, model.NewValidationError("version", "must be an integer")
	}
	return v, nil
}
