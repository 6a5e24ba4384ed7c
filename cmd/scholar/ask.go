package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/mohammad-safakhou/scholar/internal/core"
	"github.com/mohammad-safakhou/scholar/internal/engagement"
	"github.com/mohammad-safakhou/scholar/internal/federation"
	"github.com/mohammad-safakhou/scholar/internal/records"
)

type askFlags struct {
	image    string
	slide    string
	records  string
	students string
	entity   string
	asJSON   bool
}

func (f askFlags) query(text string) core.Query {
	inputs := map[string]string{}
	for k, v := range map[string]string{
		engagement.InputImage:       f.image,
		engagement.InputSlide:       f.slide,
		engagement.InputStudentsDir: f.students,
		records.InputRecordsDir:     f.records,
	} {
		if v != "" {
			inputs[k] = v
		}
	}
	return core.Query{
		ID:         uuid.NewString(),
		Text:       text,
		EntityHint: f.entity,
		Inputs:     inputs,
		ReceivedAt: time.Now().UTC(),
	}
}

func askCmd() *cobra.Command {
	var f askFlags
	cmd := &cobra.Command{
		Use:   "ask <question>",
		Short: "Answer one question and print the narrative",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			if f.records == "" {
				f.records = cfg.Records.RecordsDir
			}
			if f.students == "" {
				f.students = cfg.Engagement.StudentsDir
			}
			a, err := buildApp(ctx, cfg, logger)
			if err != nil {
				return err
			}
			defer a.Close(context.Background())

			ans, err := a.coord.Answer(ctx, f.query(strings.Join(args, " ")))
			if ans != nil {
				if perr := printAnswer(cmd.OutOrStdout(), ans, f.asJSON); perr != nil {
					return perr
				}
			}
			var ferr *federation.FailureError
			if errors.As(err, &ferr) {
				return fmt.Errorf("run %s failed after %s: %w", ferr.RunID, ferr.State, ferr.Err)
			}
			return err
		},
	}
	cmd.Flags().StringVar(&f.image, "image", "", "classroom photo")
	cmd.Flags().StringVar(&f.slide, "slide", "", "lesson slide image")
	cmd.Flags().StringVar(&f.records, "records", "", "school records directory (default records.records_dir)")
	cmd.Flags().StringVar(&f.students, "students", "", "reference photos directory (default engagement.students_dir)")
	cmd.Flags().StringVar(&f.entity, "student", "", "student the question is about")
	cmd.Flags().BoolVar(&f.asJSON, "json", false, "print the full answer as JSON")
	return cmd
}

func printAnswer(w io.Writer, ans *federation.Answer, asJSON bool) error {
	if asJSON {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(ans)
	}
	if ans.Narrative != "" {
		_, err := fmt.Fprintln(w, ans.Narrative)
		return err
	}
	if len(ans.Limitations) > 0 {
		fmt.Fprintln(w, "Limitations:")
		for _, l := range ans.Limitations {
			fmt.Fprintf(w, "- %s\n", l)
		}
	}
	return nil
}
